package sound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/observe"
	"github.com/fernspielapparat/fernspielapparat/internal/resilience"
)

// Synth turns text into audio files through an external text-to-speech
// subprocess. Repeated failures open a circuit breaker so a broken
// synthesizer is not re-spawned on every state entry; while the breaker is
// open, callers substitute silence.
type Synth struct {
	// argv is the primary synthesizer command, espeak-compatible: the
	// output file is passed with -w, the text as the last argument.
	argv []string

	// fallback is the platform text-to-speech tried when the primary
	// command fails, say-compatible (-o for the output file).
	fallback []string

	breaker *resilience.CircuitBreaker
}

// NewSynth creates a synthesizer around the given espeak-compatible
// command. An empty argv disables the primary synthesizer and only the
// platform fallback, if any, is used.
func NewSynth(argv []string) *Synth {
	s := &Synth{
		argv: argv,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "speech-synth",
			MaxFailures: 3,
		}),
	}
	if runtime.GOOS == "darwin" {
		s.fallback = []string{"say"}
	}
	return s
}

// Synthesize writes the spoken form of text to a temporary audio file and
// returns its path. The caller removes the file when done. Returns
// [ErrUnavailable] when neither the primary synthesizer nor the platform
// fallback produced audio.
func (s *Synth) Synthesize(ctx context.Context, text string) (string, error) {
	out, err := os.CreateTemp("", "fernspielapparat-speech-*.wav")
	if err != nil {
		return "", fmt.Errorf("create speech file: %w", err)
	}
	out.Close()
	path := out.Name()

	started := time.Now()
	err = s.breaker.Execute(func() error {
		return s.runPrimary(ctx, text, path)
	})
	observe.DefaultMetrics().SynthesisDuration.Record(ctx, time.Since(started).Seconds())
	if err == nil {
		return path, nil
	}
	if ctx.Err() != nil {
		os.Remove(path)
		return "", ctx.Err()
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		slog.Warn("speech synthesizer failed, trying platform fallback", "err", err)
	}

	if len(s.fallback) > 0 {
		if err := s.runFallback(ctx, text, path); err == nil {
			return path, nil
		} else if ctx.Err() == nil {
			slog.Warn("platform text-to-speech failed", "err", err)
		}
	}

	os.Remove(path)
	return "", fmt.Errorf("synthesize speech: %w", ErrUnavailable)
}

func (s *Synth) runPrimary(ctx context.Context, text, path string) error {
	if len(s.argv) == 0 {
		return fmt.Errorf("no synthesizer configured: %w", ErrUnavailable)
	}
	args := append(append([]string{}, s.argv[1:]...), "-w", path, text)
	return runSynthCommand(ctx, s.argv[0], args)
}

func (s *Synth) runFallback(ctx context.Context, text, path string) error {
	args := append(append([]string{}, s.fallback[1:]...), "-o", path, text)
	return runSynthCommand(ctx, s.fallback[0], args)
}

func runSynthCommand(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = cancelGrace
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
