package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/transcribeq/transcribeq/internal/progress"
	"github.com/transcribeq/transcribeq/internal/stage"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))

type stateMsg progress.State

type doneMsg struct{ err error }

type uploadModel struct {
	machine *progress.Machine
	stop    context.CancelFunc

	state progress.State
	bar   bprogress.Model
	spin  spinner.Model
	done  bool
	err   error
}

func newUploadModel(machine *progress.Machine, stop context.CancelFunc) uploadModel {
	return uploadModel{
		machine: machine,
		stop:    stop,
		state:   machine.State(),
		bar:     bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle)),
	}
}

func (m uploadModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = progress.State(msg)
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		m.state = m.machine.State()
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-30, 10), 60)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.state.Cancelable {
				// The machine notifies listeners, which send back into this
				// program, so it must not be called from Update.
				machine := m.machine
				return m, func() tea.Msg {
					machine.Cancel() //nolint:errcheck
					return nil
				}
			}
			m.stop()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m uploadModel) View() string {
	st := m.state
	var b strings.Builder

	title := st.FileName
	if st.FileSize > 0 {
		title += " (" + stage.FormatBytes(st.FileSize) + ")"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	switch {
	case st.Stage.Determinate():
		b.WriteString(m.bar.ViewAs(st.Percent / 100))
		b.WriteString(" ")
		b.WriteString(st.Message)
		if st.Remaining != nil {
			b.WriteString(mutedStyle.Render(" · " + stage.FormatDuration(st.Remaining.Seconds()) + " left"))
		}
	case st.Stage.IsTerminal():
		b.WriteString(stageLabel(st.Stage))
		b.WriteString(" ")
		b.WriteString(st.Message)
	default:
		b.WriteString(m.spin.View())
		b.WriteString(" ")
		b.WriteString(st.Message)
	}
	b.WriteString("\n")

	if st.Error != "" {
		b.WriteString(errorStyle.Render(st.Error))
		b.WriteString("\n")
	}
	if !m.done {
		hint := "q quit"
		if st.Cancelable {
			hint = "q cancel upload"
		}
		b.WriteString(mutedStyle.Render(hint))
		b.WriteString("\n")
	}
	return b.String()
}

// runInteractive drives sess under a bubbletea program until the session ends.
func runInteractive(ctx context.Context, sess *uploadSession, path string, transcribe bool, out io.Writer) (outcome, error) {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	prog := tea.NewProgram(newUploadModel(sess.machine, stop), tea.WithContext(ctx), tea.WithOutput(out))
	sess.machine.OnChange(func(st progress.State) {
		prog.Send(stateMsg(st))
	})

	var (
		res    outcome
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, runErr = sess.Run(ctx, path, transcribe)
		prog.Send(doneMsg{err: runErr})
	}()

	_, err := prog.Run()
	stop()
	<-finished
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return res, fmt.Errorf("progress view: %w", err)
	}
	return res, runErr
}

// plainPrinter writes one line per stage or message change, and upload
// progress in ten percent steps.
type plainPrinter struct {
	w       io.Writer
	stage   stage.Stage
	message string
	decile  int
}

func newPlainPrinter(w io.Writer) *plainPrinter {
	return &plainPrinter{w: w, decile: -1}
}

func (p *plainPrinter) print(st progress.State) {
	if st.Stage == stage.Uploading {
		d := int(st.Percent) / 10
		if st.Stage == p.stage && d == p.decile {
			return
		}
		p.stage, p.decile, p.message = st.Stage, d, st.Message
		line := fmt.Sprintf("[%s] %3.0f%% %s", st.Stage.Name(), st.Percent, st.Message)
		if st.Remaining != nil {
			line += ", " + stage.FormatDuration(st.Remaining.Seconds()) + " left"
		}
		fmt.Fprintln(p.w, line)
		return
	}
	if st.Stage == p.stage && st.Message == p.message {
		return
	}
	p.stage, p.message = st.Stage, st.Message
	if st.Stage == stage.Idle {
		return
	}
	line := fmt.Sprintf("[%s] %s", st.Stage.Name(), st.Message)
	if st.Error != "" {
		line += ": " + st.Error
	}
	fmt.Fprintln(p.w, line)
}
