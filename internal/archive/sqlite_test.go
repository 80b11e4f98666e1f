package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/transcribeq/transcribeq/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.db.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, Transcript{FileName: "a.wav", JobID: "j1", Text: "hello", CompletedAt: at}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "a.wav")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil, want transcript")
	}
	if got.Text != "hello" || got.JobID != "j1" {
		t.Errorf("got %+v", got)
	}
	if !got.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, at)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "missing.wav")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}

func TestSave_ReplacesSameFile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Now().UTC()

	_ = store.Save(ctx, Transcript{FileName: "a.wav", JobID: "j1", Text: "first", CompletedAt: at})
	_ = store.Save(ctx, Transcript{FileName: "a.wav", JobID: "j2", Text: "second", CompletedAt: at.Add(time.Minute)})

	got, _ := store.Get(ctx, "a.wav")
	if got == nil || got.Text != "second" || got.JobID != "j2" {
		t.Errorf("got %+v, want second transcript", got)
	}
	_, total, err := store.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestList_Pagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := store.Save(ctx, Transcript{
			FileName:    fmt.Sprintf("f%d.wav", i),
			JobID:       fmt.Sprintf("j%d", i),
			Text:        "x",
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	page, total, err := store.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].FileName != "f3.wav" || page[1].FileName != "f2.wav" {
		t.Errorf("page = %+v", page)
	}
	if page[0].Text != "" {
		t.Error("List should omit text")
	}
}

func TestRecord_OnlyCompleted(t *testing.T) {
	store := newTestStore(t)
	done := time.Now().UTC()

	store.Record(job.Job{ID: "j1", FileName: "ok.wav", Status: job.StatusCompleted, Transcription: "text", CompletedAt: &done})
	store.Record(job.Job{ID: "j2", FileName: "bad.wav", Status: job.StatusError, Error: "boom", CompletedAt: &done})

	ctx := context.Background()
	if got, _ := store.Get(ctx, "ok.wav"); got == nil || got.Text != "text" {
		t.Errorf("completed job not archived: %+v", got)
	}
	if got, _ := store.Get(ctx, "bad.wav"); got != nil {
		t.Errorf("failed job archived: %+v", got)
	}
}

func TestOpen_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Save(ctx, Transcript{FileName: "a.wav", JobID: "j1", Text: "kept", CompletedAt: time.Now()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, "a.wav")
	if err != nil || got == nil || got.Text != "kept" {
		t.Fatalf("after reopen got %+v, %v", got, err)
	}
}
