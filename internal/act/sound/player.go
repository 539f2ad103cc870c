// Package sound plays the sound groups of phonebook states: media files
// through an external player subprocess and speech through a synthesizer
// subprocess, with bell cues extracted from speech markers.
//
// A [Player] is the single global playback backend. [Player.Start] launches
// one playback group asynchronously and returns a [Handle] whose completion
// covers every non-looping item; looping items repeat until the handle is
// cancelled and never count towards completion.
package sound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/fernspielapparat/fernspielapparat/internal/book"
	"github.com/fernspielapparat/fernspielapparat/internal/observe"
	"github.com/fernspielapparat/fernspielapparat/internal/speech"
)

// ErrUnavailable reports a missing playback or synthesis backend. The
// actuator scheduler treats a start that fails with it as an immediately
// completed act.
var ErrUnavailable = errors.New("audio backend unavailable")

// cancelGrace is how long a cancelled subprocess may take to exit after the
// polite signal before it is killed.
const cancelGrace = 200 * time.Millisecond

// silenceWait bounds how long Cancel blocks for actual silence.
const silenceWait = 100 * time.Millisecond

// RingSink receives bell requests extracted from speech markers.
type RingSink interface {
	RequestRing(duration time.Duration)
}

// Player launches and tracks playback subprocesses. All methods are safe
// for concurrent use. The zero value is not usable, construct with
// [NewPlayer].
type Player struct {
	playerCmd []string
	available bool
	synth     *Synth
	rings     RingSink
	pool      pond.Pool

	// progress remembers playback positions by sound id so re-entered
	// sounds with a backoff can rewind instead of restarting.
	mu       sync.Mutex
	progress map[string]time.Duration
}

// NewPlayer creates the global playback backend. playerCmd is the argv
// prefix of an ffplay-compatible player; the media path is appended. rings
// may be nil when no bell is present.
func NewPlayer(playerCmd []string, synth *Synth, rings RingSink) *Player {
	available := len(playerCmd) > 0
	if available {
		if _, err := exec.LookPath(playerCmd[0]); err != nil {
			slog.Warn("audio player not found, media playback unavailable", "command", playerCmd[0], "err", err)
			available = false
		}
	}
	return &Player{
		playerCmd: playerCmd,
		available: available,
		synth:     synth,
		rings:     rings,
		pool:      pond.NewPool(16),
		progress:  make(map[string]time.Duration),
	}
}

// Close stops the playback worker pool, waiting for cancelled subprocesses
// to be reaped.
func (p *Player) Close() error {
	p.pool.StopAndWait()
	return nil
}

// ResetProgress forgets remembered playback positions. Called when the
// story starts over, so sounds play from their start offset again.
func (p *Player) ResetProgress() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.progress)
}

// PlayOnce plays a single file synchronously, used by the hardware check.
func (p *Player) PlayOnce(ctx context.Context, file string) error {
	if !p.available {
		return ErrUnavailable
	}
	return p.runPlayer(ctx, file, 0, 1.0)
}

// Handle tracks one running playback group.
type Handle struct {
	cancel context.CancelFunc

	// completion closes when every non-looping item has finished.
	completion chan struct{}

	// idle closes when every item goroutine has returned and the output
	// is silent.
	idle chan struct{}

	cancelOnce sync.Once
}

// Start begins playback of the group's items in declaration order and
// returns immediately. When the file backend is unavailable and the group
// needs it, Start fails with [ErrUnavailable].
func (p *Player) Start(group []*book.Sound) (*Handle, error) {
	for _, snd := range group {
		if snd.File != "" && !p.available {
			return nil, fmt.Errorf("cannot play %q: %w", snd.ID, ErrUnavailable)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cancel:     cancel,
		completion: make(chan struct{}),
		idle:       make(chan struct{}),
	}

	var nonLooping, all sync.WaitGroup
	for _, snd := range group {
		all.Add(1)
		if !snd.Loop {
			nonLooping.Add(1)
		}
		task := func() {
			defer all.Done()
			if !snd.Loop {
				defer nonLooping.Done()
			}
			p.play(ctx, snd)
		}
		if err := p.pool.Go(task); err != nil {
			// Pool is shutting down; count the item as finished.
			all.Done()
			if !snd.Loop {
				nonLooping.Done()
			}
			slog.Warn("playback pool rejected sound", "sound", snd.ID, "err", err)
		}
	}

	go func() {
		nonLooping.Wait()
		close(h.completion)
	}()
	go func() {
		all.Wait()
		close(h.idle)
	}()

	return h, nil
}

// Completion returns a channel that closes once every non-looping item has
// finished. Looping items are ignored for completion.
func (h *Handle) Completion() <-chan struct{} {
	return h.completion
}

// Done reports whether the completion signal has fired.
func (h *Handle) Done() bool {
	select {
	case <-h.completion:
		return true
	default:
		return false
	}
}

// Cancel stops all activity for the group and blocks, bounded, until the
// output backend is silent and subprocesses are reaped. Idempotent.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		h.cancel()
		select {
		case <-h.idle:
		case <-time.After(silenceWait):
			slog.Debug("playback still winding down after cancel grace period")
		}
	})
}

// play runs a single sound to completion or cancellation.
func (p *Player) play(ctx context.Context, snd *book.Sound) {
	start := time.Now()
	offset := p.resumeOffset(snd)
	metrics := observe.DefaultMetrics()

	var err error
	if snd.Speech != "" {
		metrics.RecordPlaybackStart(ctx, "speech")
		err = p.playSpeech(ctx, snd)
	} else {
		metrics.RecordPlaybackStart(ctx, "file")
		err = p.playFile(ctx, snd, offset)
	}

	p.rememberProgress(snd, offset+time.Since(start))

	if err != nil && ctx.Err() == nil {
		metrics.RecordPlaybackFailure(context.Background())
		slog.Warn("sound playback failed, treating as completed", "sound", snd.ID, "err", err)
	}
}

// resumeOffset decides where a sound starts: sounds with a backoff resume
// near their last position when re-entered, everything else rewinds to the
// start offset.
func (p *Player) resumeOffset(snd *book.Sound) time.Duration {
	if snd.Backoff <= 0 {
		return snd.StartOffset
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, seen := p.progress[snd.ID]
	if !seen {
		return snd.StartOffset
	}
	resumed := last - snd.Backoff
	if resumed < snd.StartOffset {
		return snd.StartOffset
	}
	return resumed
}

func (p *Player) rememberProgress(snd *book.Sound, pos time.Duration) {
	if snd.Backoff <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[snd.ID] = pos
}

// playFile plays a media file, looping until cancelled when requested.
func (p *Player) playFile(ctx context.Context, snd *book.Sound, offset time.Duration) error {
	for {
		if err := p.runPlayer(ctx, snd.File, offset, snd.Volume); err != nil {
			return err
		}
		if ctx.Err() != nil || !snd.Loop {
			return ctx.Err()
		}
		// Loop iterations restart from the start offset.
		offset = snd.StartOffset
	}
}

// playSpeech synthesizes speech text and plays the result. Bell cues from
// <ring> markers fire on their own timers so bell timing does not depend on
// synthesis latency. When synthesis is unavailable, silence of the
// heuristic duration substitutes.
func (p *Player) playSpeech(ctx context.Context, snd *book.Sound) error {
	script := speech.Parse(snd.Speech)
	p.scheduleRings(ctx, script)

	wav, err := p.synthesize(ctx, script)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("speech synthesis unavailable, substituting silence", "sound", snd.ID, "err", err)
		return waitSilent(ctx, script.EstimatedDuration(), snd.Loop)
	}
	defer os.Remove(wav)

	if !p.available {
		// Synthesized but nothing to play it with: keep the timeline by
		// substituting silence.
		slog.Warn("audio player unavailable, substituting silence for speech", "sound", snd.ID)
		return waitSilent(ctx, script.EstimatedDuration(), snd.Loop)
	}

	for {
		if err := p.runPlayer(ctx, wav, snd.StartOffset, snd.Volume); err != nil {
			return err
		}
		if ctx.Err() != nil || !snd.Loop {
			return ctx.Err()
		}
	}
}

func (p *Player) synthesize(ctx context.Context, script speech.Script) (string, error) {
	if p.synth == nil {
		return "", ErrUnavailable
	}
	return p.synth.Synthesize(ctx, script.SynthText())
}

// scheduleRings arms one timer per ring cue of the script.
func (p *Player) scheduleRings(ctx context.Context, script speech.Script) {
	if p.rings == nil {
		return
	}
	for _, cue := range script.Rings() {
		err := p.pool.Go(func() {
			select {
			case <-ctx.Done():
			case <-time.After(cue.Offset):
				p.rings.RequestRing(cue.Duration)
			}
		})
		if err != nil {
			slog.Warn("playback pool rejected ring cue", "err", err)
		}
	}
}

// runPlayer runs one player subprocess to completion or cancellation.
func (p *Player) runPlayer(ctx context.Context, file string, offset time.Duration, volume float64) error {
	args := make([]string, 0, len(p.playerCmd)+5)
	args = append(args, p.playerCmd[1:]...)
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}
	if volume != 1.0 {
		args = append(args, "-volume", strconv.Itoa(int(volume*100)))
	}
	args = append(args, file)

	cmd := exec.CommandContext(ctx, p.playerCmd[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = cancelGrace

	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("play %q: %w", file, err)
	}
	return nil
}

// waitSilent blocks for the given duration, or forever for looping sounds,
// until cancelled.
func waitSilent(ctx context.Context, d time.Duration, loop bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			if !loop {
				return nil
			}
		}
	}
}
