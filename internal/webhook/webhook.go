// Package webhook notifies a job's callback URL once the job is finished.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/transcribeq/transcribeq/internal/job"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	JobID         string     `json:"jobId"`
	FileName      string     `json:"fileName"`
	Status        job.Status `json:"status"`
	Transcription string     `json:"transcription,omitempty"`
	Error         string     `json:"error,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Notifier posts terminal job results to their callback URLs.
type Notifier struct {
	ctx    context.Context
	client *http.Client

	// AllowPrivate skips the private address check. Tests only.
	AllowPrivate bool
	attempts     int
	base         time.Duration

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier whose retries stop when ctx is done.
func NewNotifier(ctx context.Context) *Notifier {
	return &Notifier{
		ctx:      ctx,
		client:   &http.Client{Timeout: 30 * time.Second},
		attempts: retryAttempts,
		base:     retryBase,
	}
}

// Notify is a scheduler terminal hook. Jobs without a callback URL are ignored.
func (n *Notifier) Notify(j job.Job) {
	if j.CallbackURL == "" {
		return
	}
	payload, err := json.Marshal(Payload{
		JobID:         j.ID,
		FileName:      j.FileName,
		Status:        j.Status,
		Transcription: j.Transcription,
		Error:         j.Error,
		CompletedAt:   j.CompletedAt,
	})
	if err != nil {
		slog.Error("webhook: marshal payload", "job_id", j.ID, "error", err)
		return
	}
	n.Send(j.CallbackURL, payload)
}

// Send dispatches the JSON payload to callbackURL asynchronously.
// 8 retries max with full-jitter exponential backoff (cap 5 min). 30s timeout per request.
func (n *Notifier) Send(callbackURL string, payload []byte) {
	if !n.AllowPrivate {
		if err := validateURL(callbackURL); err != nil {
			slog.Warn("webhook: rejected callback URL", "url", callbackURL, "error", err)
			return
		}
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(callbackURL, payload)
	}()
}

// Wait blocks until every pending delivery succeeded or gave up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// validateURL blocks non-HTTP(S) schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func (n *Notifier) send(callbackURL string, payload []byte) {
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if n.ctx.Err() != nil {
			return
		}
		err := n.post(callbackURL, payload)
		if err == nil {
			return
		}
		slog.Warn("webhook attempt failed", "attempt", attempt, "url", callbackURL, "error", err)
		if attempt < n.attempts {
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(jitter(n.base, attempt)):
			}
		}
	}
	slog.Error("webhook: all retries exhausted", "url", callbackURL)
}

// jitter returns a random duration between 0 and min(retryCap, base * 2^attempt).
// Full jitter prevents synchronized retries when multiple webhooks fail at the same time.
func jitter(base time.Duration, attempt int) time.Duration {
	exp := base * (1 << attempt) // base * 2^attempt
	if exp > retryCap {
		exp = retryCap
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func (n *Notifier) post(callbackURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
