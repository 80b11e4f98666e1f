// Package poller watches a server-side upload status until it settles.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/transcribeq/transcribeq/internal/stage"
	"github.com/transcribeq/transcribeq/internal/upload"
)

// DefaultInterval is the delay between two fetches.
const DefaultInterval = 2 * time.Second

// Fetcher loads the current status of an upload.
type Fetcher interface {
	UploadStatus(ctx context.Context, uploadID string) (upload.Status, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uploadID string) (upload.Status, error)

func (f FetcherFunc) UploadStatus(ctx context.Context, uploadID string) (upload.Status, error) {
	return f(ctx, uploadID)
}

type Config struct {
	Interval time.Duration
	// OnStatus sees every fetched status, including the final one.
	OnStatus   func(upload.Status)
	OnComplete func(upload.Status)
	OnError    func(upload.Status)
}

// Poller runs at most one polling loop at a time. Callbacks run on the loop
// goroutine.
type Poller struct {
	fetch Fetcher
	cfg   Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(fetch Fetcher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{fetch: fetch, cfg: cfg}
}

// Start fetches immediately and then every interval until the status is
// complete, reports an error, Stop is called, or ctx is done. A loop already
// running is stopped first.
func (p *Poller) Start(ctx context.Context, uploadID string) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		p.loop(ctx, uploadID)
	}()
}

// Stop ends the loop. It does not wait; use Wait for that. Safe to call from
// a callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Wait blocks until the current loop, if any, has returned.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Done is closed when the current loop returns.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

func (p *Poller) loop(ctx context.Context, uploadID string) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if p.poll(ctx, uploadID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll performs one fetch and reports whether polling is over.
func (p *Poller) poll(ctx context.Context, uploadID string) bool {
	st, err := p.fetch.UploadStatus(ctx, uploadID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		slog.Debug("poller: fetch failed", "upload_id", uploadID, "error", err)
		return false
	}

	if p.cfg.OnStatus != nil {
		p.cfg.OnStatus(st)
	}
	switch {
	case st.Complete:
		if p.cfg.OnComplete != nil {
			p.cfg.OnComplete(st)
		}
		return true
	case st.Stage == stage.Error && st.Error != "":
		if p.cfg.OnError != nil {
			p.cfg.OnError(st)
		}
		return true
	}
	return false
}
