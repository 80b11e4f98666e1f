package progress

import "time"

// DefaultSamples is the rolling window size used when none is configured.
const DefaultSamples = 5

type sample struct {
	at    time.Time
	bytes int64
}

// Estimator predicts the time left for a transfer from the average
// throughput over the last few samples.
type Estimator struct {
	size    int
	samples []sample
}

func NewEstimator(size int) *Estimator {
	if size < 2 {
		size = DefaultSamples
	}
	return &Estimator{size: size, samples: make([]sample, 0, size)}
}

// Add records that loaded bytes were transferred by time at.
func (e *Estimator) Add(at time.Time, loaded int64) {
	if len(e.samples) == e.size {
		copy(e.samples, e.samples[1:])
		e.samples = e.samples[:e.size-1]
	}
	e.samples = append(e.samples, sample{at: at, bytes: loaded})
}

// Estimate returns the remaining time to reach total, or nil while there is
// no usable throughput measurement. The result is never negative.
func (e *Estimator) Estimate(total int64) *time.Duration {
	if len(e.samples) < 2 {
		return nil
	}
	first, last := e.samples[0], e.samples[len(e.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return nil
	}
	rate := float64(last.bytes-first.bytes) / elapsed
	if rate <= 0 {
		return nil
	}
	secs := float64(total-last.bytes) / rate
	if secs < 0 {
		secs = 0
	}
	d := time.Duration(secs * float64(time.Second))
	return &d
}

func (e *Estimator) Len() int { return len(e.samples) }

func (e *Estimator) Reset() {
	e.samples = e.samples[:0]
}
