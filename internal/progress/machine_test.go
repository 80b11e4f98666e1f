package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/transcribeq/transcribeq/internal/stage"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMachine(t *testing.T) (*Machine, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := New(Options{ThrottleInterval: time.Hour, Now: clock.Now})
	t.Cleanup(m.Close)
	return m, clock
}

func begin(t *testing.T, m *Machine) context.Context {
	t.Helper()
	ctx, err := m.Begin(context.Background(), "talk.mp4", 1000, "corr-1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return ctx
}

func TestMachine_BeginResetsState(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)

	begin(t, m)
	m.Progress(400, 1000)
	if err := m.Fail(errors.New("network")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	begin(t, m)
	s := m.State()
	if !s.Active || s.Stage != stage.Uploading || !s.Cancelable {
		t.Errorf("state after Begin = %+v", s)
	}
	if s.UploadedBytes != 0 || s.Percent != 0 || s.Remaining != nil || s.Error != "" {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.Message != "Uploading talk.mp4..." || s.CorrelationID != "corr-1" {
		t.Errorf("Message = %q, CorrelationID = %q", s.Message, s.CorrelationID)
	}
}

func TestMachine_ProgressPercentAndEstimate(t *testing.T) {
	t.Parallel()
	m, clock := newTestMachine(t)
	begin(t, m)

	m.Progress(100, 1000)
	s := m.State()
	if s.Percent != 10 || s.UploadedBytes != 100 {
		t.Errorf("Percent = %v, UploadedBytes = %d", s.Percent, s.UploadedBytes)
	}
	if s.Remaining != nil {
		t.Errorf("Remaining = %v after one sample, want nil", *s.Remaining)
	}

	clock.Advance(time.Second)
	m.Progress(300, 1000)
	m.Flush()

	s = m.State()
	if s.Percent != 30 {
		t.Errorf("Percent = %v, want 30", s.Percent)
	}
	if s.Remaining == nil || *s.Remaining != 3500*time.Millisecond {
		t.Errorf("Remaining = %v, want 3.5s", s.Remaining)
	}
	if s.Message != "Uploading... 300.0 B of 1000.0 B" {
		t.Errorf("Message = %q", s.Message)
	}
}

func TestMachine_ThrottleKeepsLatest(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)
	begin(t, m)

	m.Progress(100, 1000)
	m.Progress(200, 1000)
	m.Progress(700, 1000)
	if got := m.State().UploadedBytes; got != 100 {
		t.Fatalf("UploadedBytes = %d before flush, want 100", got)
	}
	m.Flush()
	if got := m.State().UploadedBytes; got != 700 {
		t.Errorf("UploadedBytes = %d after flush, want 700", got)
	}
}

func TestMachine_ForwardStages(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)
	begin(t, m)
	m.Progress(1000, 1000)

	if err := m.Advance(stage.Extracting, ""); err != nil {
		t.Fatalf("Advance(Extracting): %v", err)
	}
	s := m.State()
	if s.Cancelable || s.Remaining != nil || s.Message != "Extracting audio from video..." {
		t.Errorf("after Extracting: %+v", s)
	}

	if err := m.Advance(stage.Transcribing, "queued behind 2 jobs"); err != nil {
		t.Fatalf("Advance(Transcribing): %v", err)
	}
	if got := m.State().Message; got != "queued behind 2 jobs" {
		t.Errorf("Message = %q", got)
	}

	err := m.Advance(stage.Extracting, "")
	if !errors.Is(err, ErrStageRegression) {
		t.Fatalf("regression err = %v, want ErrStageRegression", err)
	}
	if got := m.State().Stage; got != stage.Transcribing {
		t.Errorf("Stage = %s after regression, want TRANSCRIBING", got)
	}

	if err := m.Advance(stage.Complete, ""); err != nil {
		t.Fatalf("Advance(Complete): %v", err)
	}
	s = m.State()
	if s.Stage != stage.Complete || s.Percent != 100 || s.Cancelable {
		t.Errorf("after Complete: %+v", s)
	}
	if err := m.Advance(stage.Transcribing, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("advance after terminal err = %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_CompleteFromUploading(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)
	begin(t, m)

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := m.State().Stage; got != stage.Complete {
		t.Errorf("Stage = %s", got)
	}
}

func TestMachine_CancelOnlyWhileUploading(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)

	if err := m.Cancel(); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("Cancel while idle err = %v", err)
	}

	ctx := begin(t, m)
	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("session context not cancelled")
	}
	s := m.State()
	if s.Stage != stage.Cancelled || s.Cancelable || s.Message != "Upload cancelled" {
		t.Errorf("after Cancel: %+v", s)
	}

	begin(t, m)
	_ = m.Advance(stage.Transcribing, "")
	if err := m.Cancel(); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("Cancel while transcribing err = %v", err)
	}
}

func TestMachine_FailClearsEstimate(t *testing.T) {
	t.Parallel()
	m, clock := newTestMachine(t)
	begin(t, m)
	m.Progress(100, 1000)
	clock.Advance(time.Second)
	m.Progress(200, 1000)
	m.Flush()
	if m.State().Remaining == nil {
		t.Fatal("expected an estimate before failing")
	}

	if err := m.Fail(errors.New("connection reset")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	s := m.State()
	if s.Stage != stage.Error || s.Error != "connection reset" || s.Remaining != nil || s.Cancelable {
		t.Errorf("after Fail: %+v", s)
	}
	if err := m.Fail(errors.New("again")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Fail err = %v", err)
	}
}

func TestMachine_ProgressIgnoredAfterUpload(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)
	begin(t, m)
	m.Progress(100, 1000)
	m.Progress(900, 1000)
	_ = m.Advance(stage.Extracting, "")
	m.Flush()

	if got := m.State().UploadedBytes; got != 100 {
		t.Errorf("UploadedBytes = %d, want stale event dropped", got)
	}
}

func TestMachine_ResetAndOnChange(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)

	var stages []stage.Stage
	m.OnChange(func(s State) { stages = append(stages, s.Stage) })

	ctx := begin(t, m)
	_ = m.Advance(stage.Transcribing, "")
	m.Reset()

	if ctx.Err() == nil {
		t.Error("Reset did not release the session context")
	}
	s := m.State()
	if s.Active || s.Stage != stage.Idle || s.FileName != "" {
		t.Errorf("after Reset: %+v", s)
	}
	want := []stage.Stage{stage.Uploading, stage.Transcribing, stage.Idle}
	if len(stages) != len(want) {
		t.Fatalf("OnChange stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %s, want %s", i, stages[i], want[i])
		}
	}
}

func TestMachine_BeginValidation(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)

	if _, err := m.Begin(context.Background(), "", 10, "c"); err == nil {
		t.Error("expected error for empty file name")
	}
	if _, err := m.Begin(context.Background(), "a.wav", -1, "c"); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestMachine_ProgressNeverGoesBackwards(t *testing.T) {
	t.Parallel()
	m, _ := newTestMachine(t)
	begin(t, m)

	m.applyProgress(event{loaded: 500, total: 1000})
	m.applyProgress(event{loaded: 300, total: 1000})
	st := m.State()
	if st.UploadedBytes != 500 {
		t.Errorf("UploadedBytes = %d, want 500", st.UploadedBytes)
	}
	if st.Percent != 50 {
		t.Errorf("Percent = %v, want 50", st.Percent)
	}
}
