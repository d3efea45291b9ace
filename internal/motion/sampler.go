// Package motion turns a platform acceleration event stream into bump
// gestures: the Sampler normalizes and rate-caps raw samples, the
// Detector recognizes the sharp jerk of two devices tapped together.
package motion

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sample is one normalized 3-axis acceleration reading in m/s^2
type Sample struct {
	X float64
	Y float64
	Z float64
	T time.Time
}

// Source abstracts the platform's raw acceleration event stream.
// Subscribe attaches fn to the stream and returns a cancel function;
// after cancel returns the source must not deliver further samples.
type Source interface {
	Subscribe(fn func(Sample)) (cancel func(), err error)
}

// Sampler delivers normalized samples from a Source to one consumer at
// the platform's native rate. It holds at most one underlying
// subscription: Start while running is a no-op, Stop is idempotent.
type Sampler struct {
	source  Source
	limiter *rate.Limiter

	mu     sync.Mutex
	cancel func()
}

// NewSampler creates a sampler over the given source. rateCap bounds
// how many samples per second reach the consumer; samples above the cap
// are dropped, not buffered, so delivery never lags the sensor.
func NewSampler(source Source, rateCap float64) *Sampler {
	// a tenth of a second of burst absorbs platform delivery jitter
	burst := int(rateCap/10) + 1
	return &Sampler{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(rateCap), burst),
	}
}

// Start subscribes to the source and begins delivering samples to fn.
// Calling Start while already started does nothing and keeps the
// existing subscription.
func (s *Sampler) Start(fn func(Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	cancel, err := s.source.Subscribe(func(sample Sample) {
		if !s.limiter.Allow() {
			return
		}
		if sample.T.IsZero() {
			sample.T = time.Now()
		}
		fn(sample)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to motion source: %w", err)
	}

	s.cancel = cancel
	return nil
}

// Stop detaches from the source. Safe to call when not started.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}

// SubscriptionCount reports how many platform subscriptions the sampler
// currently holds (zero or one).
func (s *Sampler) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return 1
	}
	return 0
}
