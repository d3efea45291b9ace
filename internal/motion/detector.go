package motion

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"bumplink/internal/observability"
)

// DetectorState is the bump detector's position in its arm/cool cycle
type DetectorState string

const (
	DetectorIdle    DetectorState = "idle"
	DetectorArmed   DetectorState = "armed"
	DetectorCooling DetectorState = "cooling_down"
)

// Detector recognizes a bump gesture in the sample stream: a jerk whose
// magnitude across two consecutive samples exceeds the sensitivity
// threshold. After a bump it cools down for the refractory interval so
// the mechanical ringing of a real tap cannot fire twice. The detector
// owns the sampler, and with it the platform subscription.
type Detector struct {
	sampler     *Sampler
	sensitivity float64
	refractory  time.Duration

	mu      sync.Mutex
	state   DetectorState
	last    Sample
	hasLast bool
	bumpAt  time.Time
	onBump  func()
}

// NewDetector creates a detector over the sampler. sensitivity is the
// minimum acceleration delta in m/s^2 between consecutive samples that
// counts as a bump; refractory is the suppression window after one.
func NewDetector(sampler *Sampler, sensitivity float64, refractory time.Duration) *Detector {
	return &Detector{
		sampler:     sampler,
		sensitivity: sensitivity,
		refractory:  refractory,
		state:       DetectorIdle,
	}
}

// Start arms the detector and begins consuming samples. onBump fires at
// most once per physical tap, on the sampler's delivery goroutine.
// Start while armed is a no-op and keeps the original callback.
func (d *Detector) Start(onBump func()) error {
	d.mu.Lock()
	if d.state != DetectorIdle {
		d.mu.Unlock()
		return nil
	}
	d.state = DetectorArmed
	d.hasLast = false
	d.onBump = onBump
	d.mu.Unlock()

	if err := d.sampler.Start(d.handleSample); err != nil {
		d.mu.Lock()
		d.state = DetectorIdle
		d.onBump = nil
		d.mu.Unlock()
		return err
	}
	return nil
}

// Stop disarms the detector and releases the sensor subscription.
// Idempotent.
func (d *Detector) Stop() {
	d.sampler.Stop()

	d.mu.Lock()
	d.state = DetectorIdle
	d.hasLast = false
	d.onBump = nil
	d.mu.Unlock()
}

// State returns the detector's current state. Timing runs on sample
// timestamps, so a cooled-down detector reports cooling_down until the
// first sample at or past the refractory boundary re-arms it.
func (d *Detector) State() DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) handleSample(sample Sample) {
	d.mu.Lock()

	if d.state == DetectorIdle {
		d.mu.Unlock()
		return
	}

	if !d.hasLast {
		d.last, d.hasLast = sample, true
		d.mu.Unlock()
		return
	}

	delta := magnitude(sample, d.last)
	d.last = sample

	if d.state == DetectorCooling {
		if sample.T.Sub(d.bumpAt) < d.refractory {
			d.mu.Unlock()
			return
		}
		d.state = DetectorArmed
	}

	if delta < d.sensitivity {
		d.mu.Unlock()
		return
	}

	d.state = DetectorCooling
	d.bumpAt = sample.T
	fire := d.onBump
	d.mu.Unlock()

	observability.BumpsDetected.Inc()
	slog.Debug("bump detected",
		slog.Float64("delta", delta),
		slog.Float64("sensitivity", d.sensitivity))

	if fire != nil {
		fire()
	}
}

// magnitude is the euclidean norm of the acceleration change between
// two consecutive samples
func magnitude(a, b Sample) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
