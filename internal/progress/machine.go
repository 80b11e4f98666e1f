// Package progress turns upload transport events and polled server stages
// into one cancelable, time-estimated progress view for a single client.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transcribeq/transcribeq/internal/stage"
	"github.com/transcribeq/transcribeq/internal/throttle"
)

// DefaultThrottle is the minimum spacing between applied progress events.
const DefaultThrottle = 100 * time.Millisecond

var (
	// ErrStageRegression is returned when a reported stage precedes the current one.
	ErrStageRegression = errors.New("stage regression")
	// ErrInvalidTransition is returned for transitions the current stage does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrNotCancelable is returned by Cancel outside the upload stage.
	ErrNotCancelable = errors.New("stage is not cancelable")
)

// State is a snapshot of one upload session as seen by the client.
type State struct {
	Active        bool
	Stage         stage.Stage
	FileName      string
	FileSize      int64
	UploadedBytes int64
	Percent       float64
	Message       string
	Error         string
	StartTime     time.Time
	// Remaining is nil when no estimate is available, which is not the same
	// as a zero estimate.
	Remaining     *time.Duration
	Cancelable    bool
	CorrelationID string
}

type Options struct {
	// ThrottleInterval defaults to DefaultThrottle.
	ThrottleInterval time.Duration
	// Samples is the estimator window. Defaults to DefaultSamples.
	Samples          int
	Now              func() time.Time
}

type event struct {
	loaded, total int64
}

// Machine is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     State
	est       *Estimator
	cancel    context.CancelFunc
	listeners []func(State)
	now       func() time.Time

	events *throttle.Throttle[event]
}

func New(opts Options) *Machine {
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = DefaultThrottle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Machine{
		state: State{Stage: stage.Idle},
		est:   NewEstimator(opts.Samples),
		now:   opts.Now,
	}
	m.events = throttle.New(opts.ThrottleInterval, m.applyProgress)
	return m
}

// OnChange registers fn to receive every new state. fn runs with the machine
// locked and must not call back into it.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns a snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Begin starts a fresh session in the upload stage, discarding whatever came
// before. The returned context is cancelled by Cancel and Reset; the caller
// should run the transfer under it.
func (m *Machine) Begin(ctx context.Context, fileName string, size int64, correlationID string) (context.Context, error) {
	if fileName == "" {
		return nil, errors.New("progress: file name is required")
	}
	if size < 0 {
		return nil, fmt.Errorf("progress: negative file size %d", size)
	}
	m.events.Reset()

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.est.Reset()
	m.state = State{
		Active:        true,
		Stage:         stage.Uploading,
		FileName:      fileName,
		FileSize:      size,
		Message:       stage.Uploading.DefaultMessage(fileName),
		StartTime:     m.now(),
		Cancelable:    true,
		CorrelationID: correlationID,
	}
	m.notifyLocked()
	return ctx, nil
}

// Progress reports transferred bytes. Updates are throttled; the latest one
// is always applied eventually.
func (m *Machine) Progress(loaded, total int64) {
	m.events.Push(event{loaded: loaded, total: total})
}

// Flush applies a held progress event immediately.
func (m *Machine) Flush() {
	m.events.Flush()
}

func (m *Machine) applyProgress(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Stage != stage.Uploading || ev.loaded < m.state.UploadedBytes {
		return
	}

	total := ev.total
	if total <= 0 {
		total = m.state.FileSize
	}
	m.state.UploadedBytes = ev.loaded
	if total > 0 {
		m.state.Percent = float64(ev.loaded) / float64(total) * 100
	}
	m.est.Add(m.now(), ev.loaded)
	m.state.Remaining = m.est.Estimate(total)
	m.state.Message = fmt.Sprintf("Uploading... %s of %s", stage.FormatBytes(ev.loaded), stage.FormatBytes(total))
	m.notifyLocked()
}

// Advance applies an externally reported stage. Terminal stages are routed to
// Complete, Fail and Cancel. A stage earlier than the current one is refused.
func (m *Machine) Advance(st stage.Stage, message string) error {
	switch st {
	case stage.Complete:
		return m.Complete()
	case stage.Error:
		if message == "" {
			message = "processing failed"
		}
		return m.Fail(errors.New(message))
	case stage.Cancelled:
		return m.Cancel()
	case stage.Idle:
		return fmt.Errorf("%w: cannot advance to %s", ErrInvalidTransition, st)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.state.Stage
	if !m.state.Active || cur.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, st)
	}
	if st.Rank() < cur.Rank() {
		slog.Warn("progress: ignoring stage regression", "from", cur, "to", st, "correlation_id", m.state.CorrelationID)
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, cur, st)
	}

	if message == "" {
		message = st.DefaultMessage(m.state.FileName)
	}
	if st != cur {
		m.leaveUploadLocked(st)
	}
	m.state.Stage = st
	m.state.Message = message
	m.state.Cancelable = st.Cancelable()
	m.notifyLocked()
	return nil
}

// Complete finishes the session successfully.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active || m.state.Stage.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state.Stage, stage.Complete)
	}
	m.leaveUploadLocked(stage.Complete)
	m.state.Stage = stage.Complete
	m.state.Percent = 100
	m.state.Message = stage.Complete.DefaultMessage(m.state.FileName)
	m.state.Cancelable = false
	m.notifyLocked()
	return nil
}

// Fail ends the session with err.
func (m *Machine) Fail(err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active || m.state.Stage.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state.Stage, stage.Error)
	}
	m.leaveUploadLocked(stage.Error)
	m.state.Stage = stage.Error
	m.state.Error = err.Error()
	m.state.Message = stage.Error.DefaultMessage(m.state.FileName)
	m.state.Cancelable = false
	m.notifyLocked()
	return nil
}

// Cancel aborts the transfer. It is only allowed while uploading; the server
// queue is not affected.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Stage.Cancelable() {
		return fmt.Errorf("%w: %s", ErrNotCancelable, m.state.Stage)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.leaveUploadLocked(stage.Cancelled)
	m.state.Stage = stage.Cancelled
	m.state.Message = stage.Cancelled.DefaultMessage(m.state.FileName)
	m.state.Cancelable = false
	m.notifyLocked()
	return nil
}

// Reset returns to idle and releases the session context.
func (m *Machine) Reset() {
	m.events.Reset()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.est.Reset()
	m.state = State{Stage: stage.Idle}
	m.notifyLocked()
}

// Close stops delivering progress events.
func (m *Machine) Close() {
	m.events.Stop()
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
}

// leaveUploadLocked clears transfer-only state when moving to next.
func (m *Machine) leaveUploadLocked(next stage.Stage) {
	m.est.Reset()
	if next != stage.Uploading {
		m.state.Remaining = nil
	}
}

func (m *Machine) snapshotLocked() State {
	s := m.state
	if s.Remaining != nil {
		d := *s.Remaining
		s.Remaining = &d
	}
	return s
}

func (m *Machine) notifyLocked() {
	if len(m.listeners) == 0 {
		return
	}
	s := m.snapshotLocked()
	for _, fn := range m.listeners {
		fn(s)
	}
}
