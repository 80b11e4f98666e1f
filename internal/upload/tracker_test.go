package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/transcribeq/transcribeq/internal/stage"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker()
	tr.now = clock.Now
	return tr, clock
}

func TestTracker_SetOverwrites(t *testing.T) {
	t.Parallel()
	tr, clock := newTestTracker(t)

	if err := tr.SetStatus("u1", Status{Stage: stage.Extracting, Message: "extracting", Filename: "a.mp4"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	first, _ := tr.GetStatus("u1")

	clock.Set(clock.Now().Add(time.Minute))
	if err := tr.SetStatus("u1", Status{Stage: stage.Transcribing, Message: "transcribing"}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := tr.GetStatus("u1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Stage != stage.Transcribing || got.Message != "transcribing" {
		t.Errorf("got %+v, want transcribing", got)
	}
	if got.Filename != "" {
		t.Errorf("Filename = %q, want overwritten to empty", got.Filename)
	}
	if !got.Timestamp.After(first.Timestamp) {
		t.Errorf("Timestamp not refreshed: %v vs %v", got.Timestamp, first.Timestamp)
	}
}

func TestTracker_GetUnknown(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t)

	_, err := tr.GetStatus("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTracker_SetValidation(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t)

	tests := []struct {
		name string
		id   string
		st   Status
	}{
		{"empty id", "", Status{Stage: stage.Uploading}},
		{"empty stage", "u1", Status{Message: "x"}},
		{"unknown stage", "u1", Status{Stage: "bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tr.SetStatus(tt.id, tt.st); err == nil {
				t.Error("expected error")
			}
		})
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestTracker_SetNormalizesStage(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t)

	if err := tr.SetStatus("u1", Status{Stage: " transcribing "}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	st, err := tr.GetStatus("u1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Stage != stage.Transcribing {
		t.Errorf("Stage = %q, want %q", st.Stage, stage.Transcribing)
	}
}

func TestTracker_Delete(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t)

	_ = tr.SetStatus("u1", Status{Stage: stage.Complete, Complete: true})
	tr.DeleteStatus("u1")
	tr.DeleteStatus("never-existed")

	if _, err := tr.GetStatus("u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTracker_SweepRetention(t *testing.T) {
	t.Parallel()
	tr, clock := newTestTracker(t)
	start := clock.Now()

	_ = tr.SetStatus("old", Status{Stage: stage.Transcribing})
	clock.Set(start.Add(30 * time.Minute))
	_ = tr.SetStatus("recent", Status{Stage: stage.Complete, Complete: true})

	if n := tr.Sweep(start.Add(time.Hour), time.Hour); n != 0 {
		t.Fatalf("Sweep at exactly the window removed %d, want 0", n)
	}
	if n := tr.Sweep(start.Add(time.Hour+time.Millisecond), time.Hour); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, err := tr.GetStatus("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old status survived sweep")
	}
	if _, err := tr.GetStatus("recent"); err != nil {
		t.Errorf("recent status removed: %v", err)
	}
}

func TestTracker_StartCleanup(t *testing.T) {
	t.Parallel()
	tr, clock := newTestTracker(t)
	_ = tr.SetStatus("u1", Status{Stage: stage.Error, Error: "x"})
	clock.Set(clock.Now().Add(2 * time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartCleanup(ctx, 5*time.Millisecond, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for tr.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("status was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
