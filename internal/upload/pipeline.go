package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/transcribeq/transcribeq/internal/job"
	"github.com/transcribeq/transcribeq/internal/queue"
	"github.com/transcribeq/transcribeq/internal/stage"
)

// Files stores uploaded media.
type Files interface {
	Save(name string, r io.Reader) (string, error)
	Path(name string) string
}

// Extractor pulls the audio track out of a stored video.
type Extractor interface {
	Extract(ctx context.Context, videoPath string) (audioPath, audioName string, err error)
}

// Jobs is the part of the scheduler the pipeline enqueues into.
type Jobs interface {
	Submit(req job.SubmitRequest) (job.Job, error)
	Watch(jobID string, fn func(queue.Event)) error
}

// PipelineConfig wires a Pipeline to its collaborators.
type PipelineConfig struct {
	Tracker   *Tracker
	Files     Files
	Extractor Extractor
	Jobs      Jobs
	// IsVideo decides whether a stored file needs audio extraction.
	IsVideo func(name string) bool
}

// Pipeline drives one upload after its bytes arrived: optional audio
// extraction, optional transcription, and a tracker status for every step.
type Pipeline struct {
	tracker   *Tracker
	files     Files
	extractor Extractor
	jobs      Jobs
	isVideo   func(string) bool

	mu      sync.Mutex
	baseCtx context.Context
	running sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		tracker:   cfg.Tracker,
		files:     cfg.Files,
		extractor: cfg.Extractor,
		jobs:      cfg.Jobs,
		isVideo:   cfg.IsVideo,
		baseCtx:   context.Background(),
	}
	if p.isVideo == nil {
		p.isVideo = func(string) bool { return false }
	}
	return p
}

// Start sets the context that background processing derives from.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()
}

// Wait blocks until no background processing is in flight.
func (p *Pipeline) Wait() {
	p.running.Wait()
}

// Accept stores the upload and continues in the background. The returned
// name is the stored file name.
func (p *Pipeline) Accept(uploadID, fileName string, body io.Reader, transcribe bool) (string, error) {
	if uploadID == "" {
		return "", fmt.Errorf("%w: uploadId is required", job.ErrValidation)
	}
	p.setStatus(uploadID, Status{Stage: stage.Uploading, Message: stage.Uploading.DefaultMessage(fileName)})

	stored, err := p.files.Save(fileName, body)
	if err != nil {
		p.fail(uploadID, "Upload failed", err)
		return "", err
	}
	slog.Info("upload stored", "upload_id", uploadID, "file", stored)

	p.mu.Lock()
	ctx := p.baseCtx
	p.mu.Unlock()

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		p.Process(ctx, uploadID, stored, transcribe)
	}()
	return stored, nil
}

// Process runs the post-upload steps for a stored file synchronously.
func (p *Pipeline) Process(ctx context.Context, uploadID, stored string, transcribe bool) {
	audio := stored
	if p.isVideo(stored) {
		if p.extractor == nil {
			p.fail(uploadID, "Audio extraction failed", errors.New("no audio extractor configured"))
			return
		}
		p.setStatus(uploadID, Status{Stage: stage.Extracting, Message: stage.Extracting.DefaultMessage(stored)})

		_, name, err := p.extractor.Extract(ctx, p.files.Path(stored))
		if err != nil {
			p.fail(uploadID, "Audio extraction failed", err)
			return
		}
		slog.Info("audio extracted", "upload_id", uploadID, "video", stored, "audio", name)
		audio = name
	}

	if !transcribe || p.jobs == nil {
		p.setStatus(uploadID, Status{
			Stage:    stage.Complete,
			Message:  stage.Complete.DefaultMessage(audio),
			Complete: true,
			Filename: audio,
		})
		return
	}

	j, err := p.jobs.Submit(job.SubmitRequest{FileName: audio})
	if err != nil {
		p.fail(uploadID, "Could not queue transcription", err)
		return
	}
	p.setStatus(uploadID, Status{
		Stage:    stage.Transcribing,
		Message:  stage.Transcribing.DefaultMessage(audio),
		Filename: audio,
		JobID:    j.ID,
	})

	err = p.jobs.Watch(j.ID, func(ev queue.Event) {
		p.onJobEvent(uploadID, audio, ev)
	})
	if err != nil {
		p.fail(uploadID, "Transcription job lost", err)
	}
}

func (p *Pipeline) onJobEvent(uploadID, audio string, ev queue.Event) {
	switch ev.Kind {
	case queue.EventCancelled:
		p.fail(uploadID, "Transcription cancelled", fmt.Errorf("job %s was cancelled", ev.Job.ID))
	case queue.EventResult:
		if ev.Job.Status == job.StatusCompleted {
			p.setStatus(uploadID, Status{
				Stage:    stage.Complete,
				Message:  stage.Complete.DefaultMessage(audio),
				Complete: true,
				Filename: audio,
				JobID:    ev.Job.ID,
			})
			return
		}
		p.setStatus(uploadID, Status{
			Stage:    stage.Error,
			Message:  "Transcription failed",
			Error:    ev.Job.Error,
			Filename: audio,
			JobID:    ev.Job.ID,
		})
	}
}

func (p *Pipeline) fail(uploadID, message string, err error) {
	slog.Warn("upload failed", "upload_id", uploadID, "error", err)
	p.setStatus(uploadID, Status{Stage: stage.Error, Message: message, Error: err.Error()})
}

func (p *Pipeline) setStatus(uploadID string, st Status) {
	if err := p.tracker.SetStatus(uploadID, st); err != nil {
		slog.Error("upload: set status", "upload_id", uploadID, "error", err)
	}
}
