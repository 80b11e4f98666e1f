package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/queue"
	"github.com/transcribeq/transcribeq/internal/stage"
)

type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string][]byte)}
}

func (f *memFiles) Save(name string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.files[name] = data
	f.mu.Unlock()
	return name, nil
}

func (f *memFiles) Path(name string) string { return "/media/" + name }

func (f *memFiles) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[name]
	return ok
}

type fakeExtractor struct {
	files *memFiles
	err   error
	paths []string
}

func (e *fakeExtractor) Extract(_ context.Context, videoPath string) (string, string, error) {
	e.paths = append(e.paths, videoPath)
	if e.err != nil {
		return "", "", e.err
	}
	name := strings.TrimSuffix(strings.TrimPrefix(videoPath, "/media/"), ".mp4") + ".wav"
	e.files.mu.Lock()
	e.files.files[name] = []byte("audio")
	e.files.mu.Unlock()
	return "/media/" + name, name, nil
}

func isMP4(name string) bool { return strings.HasSuffix(name, ".mp4") }

func waitStatus(t *testing.T, tr *Tracker, id string, want stage.Stage) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := tr.GetStatus(id)
		if err == nil && st.Stage == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("upload %s: stage = %q (err %v), want %q", id, st.Stage, err, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPipeline_AudioWithoutTranscription(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()
	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files, IsVideo: isMP4})
	t.Cleanup(p.Wait)

	stored, err := p.Accept("u1", "talk.wav", bytes.NewBufferString("RIFF"), false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if stored != "talk.wav" {
		t.Errorf("stored = %q", stored)
	}

	st := waitStatus(t, tr, "u1", stage.Complete)
	if !st.Complete || st.Filename != "talk.wav" || st.JobID != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestPipeline_VideoIsExtractedThenTranscribed(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()
	ext := &fakeExtractor{files: files}

	var ran []string
	var mu sync.Mutex
	sched := queue.New(queue.Config{
		Exists:  files.Exists,
		Resolve: files.Path,
		Runner: queue.RunnerFunc(func(_ context.Context, path string) (string, error) {
			mu.Lock()
			ran = append(ran, path)
			mu.Unlock()
			return "hello world", nil
		}),
	})
	t.Cleanup(sched.Wait)

	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files, Extractor: ext, Jobs: sched, IsVideo: isMP4})
	t.Cleanup(p.Wait)

	if _, err := p.Accept("u2", "lecture.mp4", bytes.NewBufferString("video"), true); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	st := waitStatus(t, tr, "u2", stage.Complete)
	if st.Filename != "lecture.wav" || !st.Complete {
		t.Errorf("status = %+v", st)
	}
	if st.JobID == "" {
		t.Fatal("JobID not recorded")
	}
	j, err := sched.Get(st.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Transcription != "hello world" {
		t.Errorf("Transcription = %q", j.Transcription)
	}
	if len(ext.paths) != 1 || ext.paths[0] != "/media/lecture.mp4" {
		t.Errorf("extract paths = %v", ext.paths)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "/media/lecture.wav" {
		t.Errorf("runner paths = %v", ran)
	}
}

func TestPipeline_TranscriptionFailure(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()
	sched := queue.New(queue.Config{
		Runner: queue.RunnerFunc(func(context.Context, string) (string, error) {
			return "", errors.New("whisper crashed")
		}),
	})
	t.Cleanup(sched.Wait)
	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files, Jobs: sched})
	t.Cleanup(p.Wait)

	if _, err := p.Accept("u3", "a.wav", bytes.NewBufferString("x"), true); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	st := waitStatus(t, tr, "u3", stage.Error)
	if st.Error != "whisper crashed" {
		t.Errorf("Error = %q", st.Error)
	}
	if st.Complete {
		t.Error("Complete should be false on failure")
	}
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()
	ext := &fakeExtractor{files: files, err: errors.New("ffmpeg exited: status 1")}
	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files, Extractor: ext, IsVideo: isMP4})
	t.Cleanup(p.Wait)

	if _, err := p.Accept("u4", "clip.mp4", bytes.NewBufferString("x"), true); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	st := waitStatus(t, tr, "u4", stage.Error)
	if !strings.Contains(st.Error, "ffmpeg") {
		t.Errorf("Error = %q", st.Error)
	}
}

func TestPipeline_SaveFailure(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()
	files.err = errors.New("disk full")
	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files})

	if _, err := p.Accept("u5", "a.wav", bytes.NewBufferString("x"), false); err == nil {
		t.Fatal("expected error")
	}
	st, err := tr.GetStatus("u5")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Stage != stage.Error || st.Error != "disk full" {
		t.Errorf("status = %+v", st)
	}
}

func TestPipeline_RequiresUploadID(t *testing.T) {
	t.Parallel()
	p := NewPipeline(PipelineConfig{Tracker: NewTracker(), Files: newMemFiles()})

	_, err := p.Accept("", "a.wav", bytes.NewBufferString("x"), false)
	if !errors.Is(err, job.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPipeline_CancelledJob(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	files := newMemFiles()

	release := make(chan struct{})
	sched := queue.New(queue.Config{
		Runner: queue.RunnerFunc(func(context.Context, string) (string, error) {
			<-release
			return "first", nil
		}),
	})
	t.Cleanup(sched.Wait)
	t.Cleanup(func() { close(release) })

	// Occupy the worker so the pipeline's job stays queued.
	if _, err := sched.Submit(job.SubmitRequest{FileName: "busy.wav"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p := NewPipeline(PipelineConfig{Tracker: tr, Files: files, Jobs: sched})
	t.Cleanup(p.Wait)
	if _, err := p.Accept("u6", "b.wav", bytes.NewBufferString("x"), true); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	st := waitStatus(t, tr, "u6", stage.Transcribing)

	if err := sched.Cancel(st.JobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st = waitStatus(t, tr, "u6", stage.Error)
	if !strings.Contains(st.Error, "cancelled") {
		t.Errorf("Error = %q", st.Error)
	}
}
