package resilience

import (
	"errors"
	"testing"
	"time"
)

// errSynth stands in for a crashing speech synthesizer subprocess, the
// backend the runtime puts behind a breaker.
var errSynth = errors.New("espeak: exit status 1")

// synthBreaker returns a breaker tuned like the one guarding speech
// synthesis, with a short reset timeout so tests can cross into half-open.
func synthBreaker(resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "speech-synth",
		MaxFailures:  3,
		ResetTimeout: resetTimeout,
		HalfOpenMax:  2,
	})
}

// trip drives the breaker into the open state with consecutive synth
// failures.
func trip(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for range failures {
		_ = cb.Execute(func() error { return errSynth })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after %d synth crashes", cb.State(), failures)
	}
}

func TestZeroConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "speech-synth"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want default 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want default 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want default 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestHealthySynthesisPassesThrough(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(time.Hour)
	synthesized := 0
	if err := cb.Execute(func() error {
		synthesized++
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if synthesized != 1 {
		t.Fatal("synthesis was not attempted through the closed breaker")
	}
}

func TestRepeatedSynthCrashesOpenTheBreaker(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(time.Hour)
	trip(t, cb, 3)

	// While open, the broken synth is not re-spawned: the call is
	// rejected outright and the caller substitutes silence.
	spawned := false
	err := cb.Execute(func() error {
		spawned = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if spawned {
		t.Error("open breaker still spawned the synth")
	}
}

func TestOneGoodSynthesisClearsTheFailureStreak(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(time.Hour)

	// Two crashes, then a working synthesis: the streak resets and two
	// more crashes are not enough to open.
	_ = cb.Execute(func() error { return errSynth })
	_ = cb.Execute(func() error { return errSynth })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errSynth })
	_ = cb.Execute(func() error { return errSynth })

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after the streak was broken", cb.State())
	}
}

func TestRecoveredSynthClosesBreakerThroughProbes(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(10 * time.Millisecond)
	trip(t, cb, 3)

	// After the reset timeout the breaker probes the synth again.
	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the reset timeout", cb.State())
	}

	// The synth was fixed (say, espeak reinstalled): successful probes
	// close the breaker and speech comes back.
	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestStillBrokenSynthReopensFromHalfOpen(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(10 * time.Millisecond)
	trip(t, cb, 3)

	time.Sleep(15 * time.Millisecond)

	// The probe crashes too: straight back to open, silence continues.
	if err := cb.Execute(func() error { return errSynth }); !errors.Is(err, errSynth) {
		t.Fatalf("probe err = %v, want the synth error", err)
	}

	cb.mu.Lock()
	state := cb.state
	cb.mu.Unlock()
	if state != StateOpen {
		t.Fatalf("state = %v, want open after a failing probe", state)
	}
}

func TestManualResetRestoresSpeech(t *testing.T) {
	t.Parallel()

	cb := synthBreaker(time.Hour)
	trip(t, cb, 3)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after manual reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestStateNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
