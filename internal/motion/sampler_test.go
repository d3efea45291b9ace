package motion

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource is a scriptable motion source for tests
type fakeSource struct {
	mu         sync.Mutex
	fn         func(Sample)
	subscribes int
	cancels    int
	failWith   error
}

func (s *fakeSource) Subscribe(fn func(Sample)) (func(), error) {
	if s.failWith != nil {
		return nil, s.failWith
	}

	s.mu.Lock()
	s.fn = fn
	s.subscribes++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.fn = nil
		s.cancels++
		s.mu.Unlock()
	}, nil
}

func (s *fakeSource) emit(sample Sample) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(sample)
	}
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.cancels
}

func TestSamplerDeliversSamples(t *testing.T) {
	source := &fakeSource{}
	sampler := NewSampler(source, 200)

	var received []Sample
	if err := sampler.Start(func(s Sample) {
		received = append(received, s)
	}); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if got := sampler.SubscriptionCount(); got != 1 {
		t.Fatalf("expected 1 subscription after start, got %d", got)
	}

	now := time.Now()
	source.emit(Sample{X: 1, Y: 2, Z: 3, T: now})

	if len(received) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(received))
	}
	if received[0].X != 1 || received[0].Y != 2 || received[0].Z != 3 {
		t.Errorf("sample not forwarded intact: %+v", received[0])
	}
	if !received[0].T.Equal(now) {
		t.Errorf("expected timestamp preserved, got %v", received[0].T)
	}
}

func TestSamplerStampsMissingTimestamps(t *testing.T) {
	source := &fakeSource{}
	sampler := NewSampler(source, 200)

	var received Sample
	if err := sampler.Start(func(s Sample) { received = s }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	source.emit(Sample{X: 1})

	if received.T.IsZero() {
		t.Error("expected sampler to stamp a missing timestamp")
	}
}

func TestSamplerStartTwiceKeepsOneSubscription(t *testing.T) {
	source := &fakeSource{}
	sampler := NewSampler(source, 200)

	if err := sampler.Start(func(Sample) {}); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := sampler.Start(func(Sample) {}); err != nil {
		t.Fatalf("unexpected second start error: %v", err)
	}

	subscribes, _ := source.counts()
	if subscribes != 1 {
		t.Errorf("expected exactly 1 platform subscription, got %d", subscribes)
	}
	if got := sampler.SubscriptionCount(); got != 1 {
		t.Errorf("expected subscription count 1, got %d", got)
	}
}

func TestSamplerStopDetaches(t *testing.T) {
	source := &fakeSource{}
	sampler := NewSampler(source, 200)

	delivered := 0
	if err := sampler.Start(func(Sample) { delivered++ }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	sampler.Stop()

	if got := sampler.SubscriptionCount(); got != 0 {
		t.Fatalf("expected 0 subscriptions after stop, got %d", got)
	}

	source.emit(Sample{X: 1})
	if delivered != 0 {
		t.Errorf("expected no delivery after stop, got %d", delivered)
	}

	_, cancels := source.counts()
	if cancels != 1 {
		t.Errorf("expected 1 cancel, got %d", cancels)
	}
}

func TestSamplerStopIdempotent(t *testing.T) {
	source := &fakeSource{}
	sampler := NewSampler(source, 200)

	// Stop before start must be safe
	sampler.Stop()

	if err := sampler.Start(func(Sample) {}); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	sampler.Stop()
	sampler.Stop()

	_, cancels := source.counts()
	if cancels != 1 {
		t.Errorf("expected exactly 1 cancel after double stop, got %d", cancels)
	}
}

func TestSamplerSubscribeFailure(t *testing.T) {
	source := &fakeSource{failWith: errors.New("sensor unavailable")}
	sampler := NewSampler(source, 200)

	err := sampler.Start(func(Sample) {})
	if err == nil {
		t.Fatal("expected error when source subscription fails")
	}
	if got := sampler.SubscriptionCount(); got != 0 {
		t.Errorf("expected 0 subscriptions after failed start, got %d", got)
	}
}

func TestSamplerRateCap(t *testing.T) {
	source := &fakeSource{}
	// one sample per second with a burst of one
	sampler := NewSampler(source, 1)

	delivered := 0
	if err := sampler.Start(func(Sample) { delivered++ }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	for i := 0; i < 50; i++ {
		source.emit(Sample{X: float64(i)})
	}

	if delivered != 1 {
		t.Errorf("expected the cap to pass exactly 1 of 50 immediate samples, got %d", delivered)
	}
}
