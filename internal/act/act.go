// Package act coordinates the actuators of the telephone exhibit: audio
// playback, the hardware bell, and indicator lights.
//
// Every actuator is a cooperative task implementing [Act]: started on state
// entry, polled for completion by the evaluator, and cancelled on state
// exit. Acts never block the tick thread; long-running work happens in the
// sound package's worker pool and in a bell worker goroutine spawned per
// ring request.
package act

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/observe"
)

// Act is a single actuator task scoped to the current state.
type Act interface {
	// Update gives the act a chance to advance cheap bookkeeping on the
	// tick thread. Must not block.
	Update() error

	// Done reports whether the act completed or was cancelled. Looping
	// activity reports done once all its non-looping parts finished.
	Done() bool

	// Cancel stops the act. Cancelling a finished act is a no-op, and
	// cancel takes effect within a bounded time.
	Cancel() error
}

// Ringer drives the hardware bell. Implemented by the I2C phone; when no
// hardware is detected, [NopRinger] keeps the timing deterministic.
type Ringer interface {
	Ring() error
	Unring() error
}

// NopRinger honours ring timing without hardware.
type NopRinger struct{}

func (NopRinger) Ring() error   { return nil }
func (NopRinger) Unring() error { return nil }

// LightSink receives the light levels of the current state. Levels are
// opaque to the runtime, a map of light name to 0..100.
type LightSink interface {
	SetLights(levels map[string]int) error
}

// NopLights discards light levels.
type NopLights struct{}

func (NopLights) SetLights(map[string]int) error { return nil }

// MaxRingDuration is the hardware safety cap on a single ring. Longer
// requests are silently truncated.
const MaxRingDuration = 2 * time.Second

// ringCancelWait bounds how long Cancel blocks for the bell worker to
// silence the bell.
const ringCancelWait = 200 * time.Millisecond

// Ring rings the bell until its duration elapses or it is cancelled. The
// I2C transactions run on a bell worker goroutine spawned per ring request,
// so the tick thread never blocks on the bus.
type Ring struct {
	ringer Ringer

	// stop asks the worker to silence the bell early.
	stop     chan struct{}
	stopOnce sync.Once

	// finished closes once the worker has silenced the bell and exited.
	finished chan struct{}
}

// NewRing spawns the bell worker and returns immediately. Durations beyond
// [MaxRingDuration] are truncated. A ring that fails to start counts as
// done, so timelines keep advancing on flaky hardware.
func NewRing(ringer Ringer, duration time.Duration) *Ring {
	if duration > MaxRingDuration {
		duration = MaxRingDuration
	}
	r := &Ring{
		ringer:   ringer,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	observe.DefaultMetrics().RecordRing(context.Background())
	go r.work(duration)
	return r
}

// work is the bell worker: it owns both bus transactions of one ring.
func (r *Ring) work(duration time.Duration) {
	defer close(r.finished)

	if err := r.ringer.Ring(); err != nil {
		slog.Warn("bell did not start ringing", "err", err)
		return
	}
	select {
	case <-time.After(duration):
	case <-r.stop:
	}
	if err := r.ringer.Unring(); err != nil {
		slog.Warn("bell did not stop ringing", "err", err)
	}
}

func (r *Ring) Update() error { return nil }

func (r *Ring) Done() bool {
	select {
	case <-r.finished:
		return true
	default:
		return false
	}
}

// Cancel asks the worker to stop and waits, bounded, until the bell is
// actually silent, so the next state's ring cannot be overtaken by this
// one's unring. Idempotent.
func (r *Ring) Cancel() error {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.finished:
	case <-time.After(ringCancelWait):
		slog.Debug("bell still winding down after cancel grace period")
	}
	return nil
}

// Lights forwards a state's light levels to the sink. Forwarding happens at
// construction and the act is immediately done; there is nothing to cancel.
type Lights struct{}

// NewLights applies levels to the sink. Failures are logged, never fatal.
func NewLights(sink LightSink, levels map[string]int) *Lights {
	if err := sink.SetLights(levels); err != nil {
		slog.Warn("failed to set light levels", "err", err)
	}
	return &Lights{}
}

func (*Lights) Update() error { return nil }
func (*Lights) Done() bool    { return true }
func (*Lights) Cancel() error { return nil }
