package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transcribeq/transcribeq/internal/job"
)

// Runner executes one transcription. It is never invoked concurrently by a
// Scheduler.
type Runner interface {
	Run(ctx context.Context, filePath string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, filePath string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, filePath string) (string, error) {
	return f(ctx, filePath)
}

// Config wires a Scheduler to its collaborators.
type Config struct {
	Runner Runner
	// Exists reports whether a stored file can be transcribed. Nil accepts any name.
	Exists func(fileName string) bool
	// Resolve maps a stored file name to the path handed to Runner. Nil passes the name through.
	Resolve func(fileName string) string
	// Timeout bounds a single run. Zero means no timeout.
	Timeout time.Duration
}

// Scheduler is the single writer of job state. It runs at most one job at a
// time, in submission order, and advances to the next queued job whenever the
// current one finishes.
type Scheduler struct {
	mu         sync.Mutex
	store      *job.Store
	queue      *job.Queue
	currentID  string
	processing bool
	baseCtx    context.Context

	runner  Runner
	exists  func(string) bool
	resolve func(string) string
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	subMu    sync.RWMutex
	subs     map[string][]chan Event
	watchers map[string][]func(Event)
	hooks    []func(job.Job)

	running sync.WaitGroup
}

// New creates an idle Scheduler with an empty store and queue.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:    job.NewStore(),
		queue:    job.NewQueue(),
		baseCtx:  context.Background(),
		runner:   cfg.Runner,
		exists:   cfg.Exists,
		resolve:  cfg.Resolve,
		timeout:  cfg.Timeout,
		now:      time.Now,
		newID:    func() string { return "transcription_" + uuid.New().String() },
		subs:     make(map[string][]chan Event),
		watchers: make(map[string][]func(Event)),
	}
	if s.resolve == nil {
		s.resolve = func(name string) string { return name }
	}
	return s
}

// Start sets the context every future run derives from and kicks dispatch.
// Cancelling ctx aborts the running job through its context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	started := s.dispatchLocked()
	s.mu.Unlock()
	s.launch(started)
}

// Wait blocks until no run goroutine is in flight.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// OnTerminal registers fn to be called with every job that reaches a
// terminal status. Register hooks before submitting work.
func (s *Scheduler) OnTerminal(fn func(job.Job)) {
	s.subMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.subMu.Unlock()
}

// Submit validates req, queues a new job and dispatches it if the scheduler
// is idle. It never waits for the transcription.
func (s *Scheduler) Submit(req job.SubmitRequest) (job.Job, error) {
	if err := req.Validate(); err != nil {
		return job.Job{}, err
	}
	if s.exists != nil && !s.exists(req.FileName) {
		return job.Job{}, fmt.Errorf("%w: file %q not found", job.ErrValidation, req.FileName)
	}

	s.mu.Lock()
	j := &job.Job{
		ID:          s.newID(),
		FileName:    req.FileName,
		Status:      job.StatusQueued,
		CallbackURL: req.CallbackURL,
		Timestamp:   s.now().UTC(),
	}
	s.store.Put(j)
	s.queue.Push(j.ID)
	s.renumberLocked()
	queued := s.snapshotLocked(j)
	started := s.dispatchLocked()
	out := s.snapshotLocked(j)
	s.mu.Unlock()

	slog.Info("job queued", "job_id", j.ID, "file", j.FileName, "position", queued.QueuePosition)
	s.publish(Event{Kind: EventStatus, Job: queued})
	s.launch(started)
	return out, nil
}

// Get returns a snapshot of the job. A queued job's position is read from the
// queue at call time.
func (s *Scheduler) Get(id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.store.Get(id)
	if j == nil {
		return job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return s.snapshotLocked(j), nil
}

// List returns every job, newest first, plus scheduler stats taken in the
// same critical section.
func (s *Scheduler) List() ([]job.Job, job.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.store.All()
	out := make([]job.Job, 0, len(all))
	for _, j := range all {
		out = append(out, s.snapshotLocked(j))
	}
	return out, s.statsLocked()
}

// Stats returns queue statistics.
func (s *Scheduler) Stats() job.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// Cancel forgets a queued job. Jobs that are processing or finished cannot be
// cancelled.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j := s.store.Get(id)
	if j == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if j.Status != job.StatusQueued {
		status := j.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", job.ErrConflict, id, status)
	}
	s.queue.Remove(id)
	s.store.Delete(id)
	s.renumberLocked()
	gone := *j
	gone.QueuePosition = 0
	s.mu.Unlock()

	slog.Info("job cancelled", "job_id", id)
	s.publish(Event{Kind: EventCancelled, Job: gone})
	return nil
}

// Process is the idempotent dispatch tick. It returns the job that is
// processing after the attempt, if any.
func (s *Scheduler) Process() (job.Job, bool) {
	s.mu.Lock()
	started := s.dispatchLocked()
	var cur job.Job
	ok := s.processing
	if ok {
		cur = s.snapshotLocked(s.store.Get(s.currentID))
	}
	s.mu.Unlock()

	s.launch(started)
	return cur, ok
}

// Complete records a successful transcription for the processing job and
// dispatches the next one.
func (s *Scheduler) Complete(id, transcription string) error {
	return s.finish(id, job.StatusCompleted, transcription, "")
}

// Fail records a failure for the processing job and dispatches the next one.
func (s *Scheduler) Fail(id, errMsg string) error {
	return s.finish(id, job.StatusError, "", errMsg)
}

func (s *Scheduler) finish(id string, status job.Status, transcription, errMsg string) error {
	s.mu.Lock()
	j := s.store.Get(id)
	if j == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	if j.Status != job.StatusProcessing {
		cur := j.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s, not %s", job.ErrConflict, id, cur, job.StatusProcessing)
	}

	now := s.now().UTC()
	j.Status = status
	j.Transcription = transcription
	j.Error = errMsg
	j.CompletedAt = &now
	if s.currentID == id {
		s.currentID = ""
		s.processing = false
	}
	if s.queue.Remove(id) {
		slog.Warn("queue: removed residue of finished job", "job_id", id)
	}
	s.renumberLocked()
	done := s.snapshotLocked(j)
	started := s.dispatchLocked()
	s.mu.Unlock()

	if status == job.StatusError {
		slog.Warn("job failed", "job_id", id, "error", errMsg)
	} else {
		slog.Info("job completed", "job_id", id, "chars", len(transcription))
	}
	s.publish(Event{Kind: EventResult, Job: done})
	s.launch(started)
	s.runHooks(done)
	return nil
}

// dispatchLocked moves the queue head to processing. It returns the started
// job, or nil when busy or empty. Ids whose record is gone are discarded.
func (s *Scheduler) dispatchLocked() *job.Job {
	if s.processing || s.baseCtx.Err() != nil {
		return nil
	}
	for {
		id, ok := s.queue.Pop()
		if !ok {
			return nil
		}
		j := s.store.Get(id)
		if j == nil || j.Status != job.StatusQueued {
			slog.Warn("queue: discarding stale id", "job_id", id)
			continue
		}

		now := s.now().UTC()
		j.Status = job.StatusProcessing
		j.QueuePosition = 0
		j.StartedAt = &now
		s.currentID = id
		s.processing = true
		s.renumberLocked()

		snap := s.snapshotLocked(j)
		return &snap
	}
}

// launch publishes the start of j and runs it outside the lock.
func (s *Scheduler) launch(j *job.Job) {
	if j == nil {
		return
	}
	slog.Info("job processing", "job_id", j.ID, "file", j.FileName)
	s.publish(Event{Kind: EventStatus, Job: *j})

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.execute(ctx, *j)
	}()
}

func (s *Scheduler) execute(ctx context.Context, j job.Job) {
	text, err := s.run(ctx, j)

	var finishErr error
	if err != nil {
		finishErr = s.Fail(j.ID, err.Error())
	} else {
		finishErr = s.Complete(j.ID, text)
	}
	if finishErr != nil {
		slog.Error("worker: record result", "job_id", j.ID, "error", finishErr)
	}
}

func (s *Scheduler) run(ctx context.Context, j job.Job) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker: runner panic", "job_id", j.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("transcription runner panic: %v", r)
		}
	}()

	if s.runner == nil {
		return "", errors.New("no transcription runner configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err = s.runner.Run(ctx, s.resolve(j.FileName))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("transcription timed out after %s: %w", s.timeout, err)
	}
	return text, err
}

func (s *Scheduler) renumberLocked() {
	for i, id := range s.queue.IDs() {
		if j := s.store.Get(id); j != nil {
			j.QueuePosition = i + 1
		}
	}
}

func (s *Scheduler) snapshotLocked(j *job.Job) job.Job {
	out := *j
	if out.Status == job.StatusQueued {
		out.QueuePosition = s.queue.Position(j.ID)
	} else {
		out.QueuePosition = 0
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (s *Scheduler) statsLocked() job.Stats {
	return job.Stats{
		QueueLength:  s.queue.Len(),
		IsProcessing: s.processing,
		CurrentJobID: s.currentID,
		TotalJobs:    s.store.Len(),
	}
}

func (s *Scheduler) runHooks(j job.Job) {
	s.subMu.RLock()
	hooks := s.hooks
	s.subMu.RUnlock()

	for _, fn := range hooks {
		fn(j)
	}
}
