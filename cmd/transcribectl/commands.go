package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/stage"
)

var (
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	busyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.opts.timeout)
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

// statusLabel pads before styling so ANSI codes do not break the columns.
func statusLabel(s job.Status) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case job.StatusCompleted:
		return okStyle.Render(label)
	case job.StatusError:
		return errorStyle.Render(label)
	case job.StatusProcessing:
		return busyStyle.Render(label)
	}
	return mutedStyle.Render(label)
}

func stageLabel(s stage.Stage) string {
	switch s {
	case stage.Complete:
		return okStyle.Render(s.Name())
	case stage.Error, stage.Cancelled:
		return errorStyle.Render(s.Name())
	}
	return busyStyle.Render(s.Name())
}

func newSubmitCommand(a *app) *cobra.Command {
	var callbackURL string
	cmd := &cobra.Command{
		Use:     "submit FILE_NAME",
		Short:   "Queue a transcription of a file already stored on the server",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			j, err := a.api.Submit(ctx, job.SubmitRequest{FileName: args[0], CallbackURL: callbackURL})
			if err != nil {
				return fmt.Errorf("submit %s: %w", args[0], err)
			}
			if a.opts.json {
				return a.printJSON(j)
			}
			fmt.Fprintf(a.out, "%s %s", j.ID, statusLabel(j.Status))
			if j.QueuePosition > 0 {
				fmt.Fprintf(a.out, " position %d", j.QueuePosition)
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
	cmd.Flags().StringVar(&callbackURL, "callback", "", "URL to POST the finished job to")
	return cmd
}

func newJobsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "jobs",
		Short:   "List jobs, newest first, with queue statistics",
		GroupID: "jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			jobs, stats, err := a.api.Jobs(ctx)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if a.opts.json {
				return a.printJSON(map[string]any{"jobs": jobs, "stats": stats})
			}
			for _, j := range jobs {
				pos := ""
				if j.QueuePosition > 0 {
					pos = fmt.Sprintf("#%d", j.QueuePosition)
				}
				fmt.Fprintf(a.out, "%-50s %s %-4s %s\n", j.ID, statusLabel(j.Status), pos, j.FileName)
			}
			busy := "idle"
			if stats.IsProcessing {
				busy = "processing " + stats.CurrentJobID
			}
			fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("%d jobs, %d queued, %s", stats.TotalJobs, stats.QueueLength, busy)))
			return nil
		},
	}
}

func newJobCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "job JOB_ID",
		Short:   "Show one job, including its transcript once finished",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			j, err := a.api.Job(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get job %s: %w", args[0], err)
			}
			if a.opts.json {
				return a.printJSON(j)
			}
			fmt.Fprintf(a.out, "Job:      %s\n", j.ID)
			fmt.Fprintf(a.out, "File:     %s\n", j.FileName)
			fmt.Fprintf(a.out, "Status:   %s\n", j.Status)
			if j.QueuePosition > 0 {
				fmt.Fprintf(a.out, "Position: %d\n", j.QueuePosition)
			}
			fmt.Fprintf(a.out, "Created:  %s\n", j.Timestamp.Local().Format(time.DateTime))
			if j.StartedAt != nil && j.CompletedAt != nil {
				fmt.Fprintf(a.out, "Took:     %s\n", stage.FormatDuration(j.CompletedAt.Sub(*j.StartedAt).Seconds()))
			}
			if j.Error != "" {
				fmt.Fprintf(a.out, "Error:    %s\n", errorStyle.Render(j.Error))
			}
			if j.Transcription != "" {
				fmt.Fprintf(a.out, "\n%s\n", j.Transcription)
			}
			return nil
		},
	}
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel JOB_ID",
		Short:   "Remove a queued job; processing jobs cannot be cancelled",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			if err := a.api.Cancel(ctx, args[0]); err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			fmt.Fprintf(a.out, "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newProcessCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "process",
		Short:   "Nudge the server to start the next queued job",
		GroupID: "jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			cur, stats, err := a.api.Process(ctx)
			if err != nil {
				return fmt.Errorf("process queue: %w", err)
			}
			if a.opts.json {
				return a.printJSON(map[string]any{"processing": cur != nil, "job": cur, "stats": stats})
			}
			if cur == nil {
				fmt.Fprintln(a.out, "idle")
				return nil
			}
			fmt.Fprintf(a.out, "processing %s (%s), %d queued\n", cur.ID, cur.FileName, stats.QueueLength)
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	var clearAfter bool
	cmd := &cobra.Command{
		Use:     "status UPLOAD_ID",
		Short:   "Show the server-side stage of an upload",
		GroupID: "media",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			st, err := a.api.UploadStatus(ctx, args[0])
			if err != nil {
				return fmt.Errorf("upload status %s: %w", args[0], err)
			}
			if clearAfter {
				if err := a.api.DeleteUploadStatus(ctx, args[0]); err != nil {
					return fmt.Errorf("clear upload status %s: %w", args[0], err)
				}
			}
			if a.opts.json {
				return a.printJSON(st)
			}
			fmt.Fprintf(a.out, "%s %s\n", stageLabel(st.Stage), st.Message)
			if st.Error != "" {
				fmt.Fprintln(a.out, errorStyle.Render(st.Error))
			}
			if st.JobID != "" {
				fmt.Fprintln(a.out, mutedStyle.Render("job "+st.JobID))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearAfter, "clear", false, "Delete the status after printing it")
	return cmd
}

func newFilesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "files",
		Short:   "List audio files stored on the server",
		GroupID: "media",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			files, err := a.api.Files(ctx)
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}
			if a.opts.json {
				return a.printJSON(files)
			}
			for _, f := range files {
				fmt.Fprintf(a.out, "%-40s %10s  %s\n", f.Name, stage.FormatBytes(f.Size), f.ModTime.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newTranscriptCommand(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:     "transcript [FILE_NAME]",
		Short:   "Print an archived transcript, or list archived transcripts",
		GroupID: "media",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			if len(args) == 0 {
				page, err := a.api.Transcripts(ctx, limit, offset)
				if err != nil {
					return fmt.Errorf("list transcripts: %w", err)
				}
				if a.opts.json {
					return a.printJSON(page)
				}
				for _, tr := range page.Transcripts {
					fmt.Fprintf(a.out, "%-40s %s\n", tr.FileName, tr.CompletedAt.Local().Format(time.DateTime))
				}
				fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("%d of %d", len(page.Transcripts), page.Total)))
				return nil
			}

			tr, err := a.api.Transcript(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get transcript %s: %w", args[0], err)
			}
			if a.opts.json {
				return a.printJSON(tr)
			}
			fmt.Fprintln(a.out, tr.Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size when listing")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset when listing")
	return cmd
}

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			h, err := a.api.Health(ctx)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			if a.opts.json {
				return a.printJSON(h)
			}
			fmt.Fprintf(a.out, "%s: %d jobs, %d queued, %d uploads tracked\n", h.Status, h.Queue.TotalJobs, h.Queue.QueueLength, h.Uploads)
			return nil
		},
	}
}
