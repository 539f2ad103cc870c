// Package app wires all runtime subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the tick loop until the context is cancelled,
// and Shutdown tears everything down in order within a bounded deadline.
//
// For testing, inject doubles via functional options (WithActuators,
// WithSensors). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fernspielapparat/fernspielapparat/internal/act"
	"github.com/fernspielapparat/fernspielapparat/internal/act/sound"
	"github.com/fernspielapparat/fernspielapparat/internal/book"
	"github.com/fernspielapparat/fernspielapparat/internal/config"
	"github.com/fernspielapparat/fernspielapparat/internal/health"
	"github.com/fernspielapparat/fernspielapparat/internal/machine"
	"github.com/fernspielapparat/fernspielapparat/internal/observe"
	"github.com/fernspielapparat/fernspielapparat/internal/phone"
	"github.com/fernspielapparat/fernspielapparat/internal/sense"
	"github.com/fernspielapparat/fernspielapparat/internal/serve"
)

// dialPollInterval is the cadence of the hardware dial and keyboard
// pollers, 50 Hz.
const dialPollInterval = 20 * time.Millisecond

// shutdownTimeout bounds orderly shutdown before hard termination is
// acceptable.
const shutdownTimeout = 2 * time.Second

// App owns all subsystem lifetimes and runs the evaluator tick loop.
type App struct {
	cfg *config.Config

	machine *machine.Machine
	acts    machine.Actuators
	sensors *sense.Sensors
	phone   *phone.Phone
	player  *sound.Player
	metrics *observe.Metrics

	server  *serve.Server
	httpSrv *http.Server
	watcher *book.Watcher

	// reloads receives hot-reloaded phonebooks from the file watcher; the
	// tick thread installs them.
	reloads chan *book.Book

	// finished closes when a terminal state is reached and the runtime is
	// configured to exit on it.
	finished     chan struct{}
	finishedOnce sync.Once

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithActuators injects an actuator scheduler instead of building the real
// one with audio and bell backends.
func WithActuators(acts machine.Actuators) Option {
	return func(a *App) { a.acts = acts }
}

// WithSensors injects a sensor multiplexer instead of attaching keyboard
// and hardware pollers.
func WithSensors(s *sense.Sensors) Option {
	return func(a *App) { a.sensors = s }
}

// Params are the startup decisions made by the CLI.
type Params struct {
	// StartupBook runs at startup. Nil evaluates the passive built-in
	// book until a remote run arrives.
	StartupBook *book.Book

	// Serve hosts the fernspielctl remote control server.
	Serve bool

	// WatchPath reloads this phonebook file on change when non-empty.
	WatchPath string
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Hardware that is
// not available degrades to software fallbacks: a missing phone keeps the
// bell silent and leaves input to the keyboard.
func New(cfg *config.Config, params Params, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
		reloads:  make(chan *book.Book, 1),
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telephone hardware ────────────────────────────────────────────
	var ringer act.Ringer = act.NopRinger{}
	if a.acts == nil || a.sensors == nil {
		p, err := phone.Connect(cfg.Phone.Device, cfg.Phone.Address)
		if err != nil {
			slog.Warn("no phone available, continuing with keyboard and silent bell", "err", err)
		} else {
			slog.Info("phone connected", "device", cfg.Phone.Device, "address", cfg.Phone.Address)
			a.phone = p
			ringer = p
			a.closers = append(a.closers, p.Close)
		}
	}

	// ── 2. Actuators ─────────────────────────────────────────────────────
	if a.acts == nil {
		acts := act.New(ringer, act.NopLights{})
		synth := sound.NewSynth(cfg.Audio.SynthCommand)
		a.player = sound.NewPlayer(cfg.Audio.PlayerCommand, synth, acts)
		acts.AttachPlayer(a.player)
		a.acts = acts
		a.closers = append(a.closers, a.player.Close)
	}

	// ── 3. Sensors ───────────────────────────────────────────────────────
	if a.sensors == nil {
		a.sensors = sense.NewSensors()
		a.sensors.Background(sense.NewKeyboard(os.Stdin), dialPollInterval)
		if a.phone != nil {
			a.sensors.Background(a.phone, dialPollInterval)
		}
	}

	// ── 4. Evaluator ─────────────────────────────────────────────────────
	startupBook := params.StartupBook
	if startupBook == nil {
		startupBook = book.Passive()
	}
	a.machine = machine.New(startupBook, a.acts, a.respond)
	a.closers = append(a.closers, func() error {
		// Whatever book is active at shutdown owns the decoded media.
		return a.machine.Book().Close()
	})

	// ── 5. Remote control ────────────────────────────────────────────────
	if params.Serve {
		a.initServer()
	}

	// ── 6. Phonebook hot reload ──────────────────────────────────────────
	if params.WatchPath != "" {
		w, err := book.Watch(params.WatchPath, func(b *book.Book) {
			select {
			case a.reloads <- b:
			default:
				// An older pending reload is superseded.
				select {
				case stale := <-a.reloads:
					stale.Close()
				default:
				}
				a.reloads <- b
			}
		})
		if err != nil {
			return nil, fmt.Errorf("app: watch phonebook: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initServer assembles the remote control listener: the fernspielctl
// WebSocket endpoint, health probes and the Prometheus scrape endpoint
// share one mux.
func (a *App) initServer() {
	a.server = serve.New()

	mux := http.NewServeMux()
	mux.Handle("/", a.server.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "player", Check: commandChecker(a.cfg.Audio.PlayerCommand)},
		health.Checker{Name: "synth", Check: commandChecker(a.cfg.Audio.SynthCommand)},
	).Register(mux)

	a.httpSrv = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: mux,
	}
}

// commandChecker probes that a configured subprocess command resolves to an
// executable.
func commandChecker(argv []string) func(context.Context) error {
	return func(context.Context) error {
		if len(argv) == 0 {
			return errors.New("not configured")
		}
		_, err := exec.LookPath(argv[0])
		return err
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the remote control listener and the tick loop, blocking until
// ctx is cancelled, a fatal error occurs, or a terminal state is reached
// with exit-on-terminal configured.
func (a *App) Run(ctx context.Context) error {
	// The tick loop ending for any reason, including a reached terminal
	// state, also stops the listener so that Wait returns.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("remote control listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: remote control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return a.tickLoop(ctx)
	})

	return g.Wait()
}

// tickLoop owns the evaluator: it is the only goroutine that mutates story
// state. It wakes on the tick period, early on new input, and whenever a
// remote request or a reloaded phonebook arrives.
func (a *App) tickLoop(ctx context.Context) error {
	a.machine.Start(time.Now())

	ticker := time.NewTicker(a.cfg.TickPeriod())
	defer ticker.Stop()

	var requests <-chan serve.Request
	if a.server != nil {
		requests = a.server.Requests()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.finished:
			slog.Info("terminal state reached, exiting as configured")
			return nil
		case req := <-requests:
			a.handleRequest(req)
		case b := <-a.reloads:
			a.installBook(b)
		case <-a.sensors.Ready():
		case <-ticker.C:
		}
		a.tick()
	}
}

// tick drains pending inputs and advances the evaluator by at most one
// transition.
func (a *App) tick() {
	started := time.Now()

	var inputs []sense.Event
	for {
		ev, ok := a.sensors.Poll()
		if !ok {
			break
		}
		inputs = append(inputs, ev)
	}

	a.machine.Tick(time.Now(), inputs)
	a.metrics.RecordTick(context.Background(), time.Since(started).Seconds())
}

// handleRequest applies one remote command on the tick thread.
func (a *App) handleRequest(req serve.Request) {
	now := time.Now()
	switch {
	case req.Run != nil:
		slog.Info("remote run request, replacing phonebook", "states", req.Run.Len())
		a.installBook(req.Run)
	case len(req.Dial) > 0:
		for _, in := range req.Dial {
			a.sensors.Push(in)
		}
	case req.Reset:
		slog.Info("remote reset request")
		a.machine.Reset(now)
	}
}

// installBook swaps the active phonebook and releases the previous one.
func (a *App) installBook(b *book.Book) {
	previous := a.machine.Swap(b, time.Now())
	if err := previous.Close(); err != nil {
		slog.Warn("failed to release previous phonebook media", "err", err)
	}
}

// respond handles every evaluator event on the tick thread: metrics,
// logging, broadcast to remote clients, and the exit-on-terminal latch.
func (a *App) respond(ev machine.Event) {
	ctx := context.Background()
	switch e := ev.(type) {
	case machine.Start:
		slog.Info("phonebook started", "initial", e.Initial)
	case machine.Transition:
		a.metrics.RecordTransition(ctx, reasonLabel(e.Reason))
		slog.Info("transition", "from", e.From, "to", e.To, "reason", reasonLabel(e.Reason))
	case machine.Finish:
		slog.Info("finished in terminal state", "terminal", e.Terminal)
		if a.cfg.Runtime.ExitOnTerminal {
			a.finishedOnce.Do(func() { close(a.finished) })
		}
	}

	if a.server != nil {
		a.server.Publish(ev)
	}
}

func reasonLabel(r machine.Reason) string {
	switch r.Kind {
	case machine.ReasonDial:
		return "dial"
	case machine.ReasonEnd:
		return "end"
	case machine.ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: stop ingesting (watcher, remote
// clients, sensors), silence the actuators, then release backends by running
// the closers in the order they were added (phone, player, active
// phonebook media). It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.server != nil {
			if err := a.server.Close(); err != nil {
				slog.Warn("remote server close error", "err", err)
			}
		}
		a.sensors.Close()

		if err := a.acts.Reset(); err != nil {
			slog.Warn("actuator cancel error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
