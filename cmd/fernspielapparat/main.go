// Command fernspielapparat is the runtime for phonebooks: declarative YAML
// stories played on a retrofitted telephone exhibit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/app"
	"github.com/fernspielapparat/fernspielapparat/internal/book"
	"github.com/fernspielapparat/fernspielapparat/internal/check"
	"github.com/fernspielapparat/fernspielapparat/internal/config"
	"github.com/fernspielapparat/fernspielapparat/internal/demo"
	"github.com/fernspielapparat/fernspielapparat/internal/observe"
)

// version of the runtime; the remote protocol it speaks is fernspielctl
// 0.2.0.
const version = "0.2.0"

// Exit codes: 0 normal shutdown, 1 startup failure, 2 runtime fatal.
const (
	exitOK      = 0
	exitStartup = 1
	exitFatal   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	demoFlag := flag.Bool("demo", false, "load the embedded demo phonebook instead of a file")
	testFlag := flag.Bool("test", false, "ring the bell and speak one phrase as a hardware check, then exit")
	serveFlag := flag.Bool("serve", false, "host the fernspielctl remote control server even without a startup phonebook")
	addrFlag := flag.String("addr", "", "remote control bind address, overriding the configuration")
	watchFlag := flag.Bool("watch", false, "reload the phonebook file when it changes on disk")
	exitOnTerminal := flag.Bool("exit-on-terminal", false, "exit with status 0 when a terminal state is reached")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println("fernspielapparat", version)
		return exitOK
	}

	bookPath := flag.Arg(0)
	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "fernspielapparat: expected at most one phonebook path")
		return exitStartup
	}
	if bookPath != "" && (*demoFlag || *testFlag) {
		fmt.Fprintln(os.Stderr, "fernspielapparat: a phonebook path cannot be combined with --demo or --test")
		return exitStartup
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fernspielapparat: %v\n", err)
			return exitStartup
		}
		cfg = loaded
	}
	if *addrFlag != "" {
		cfg.Server.ListenAddr = *addrFlag
	}
	if *exitOnTerminal {
		cfg.Runtime.ExitOnTerminal = true
	}
	if *watchFlag {
		cfg.Runtime.Watch = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Diagnostic mode ───────────────────────────────────────────────────────
	if *testFlag {
		if err := check.System(ctx, cfg); err != nil {
			return exitStartup
		}
		return exitOK
	}

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return exitStartup
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Startup phonebook ─────────────────────────────────────────────────────
	var startupBook *book.Book
	switch {
	case *demoFlag:
		startupBook, err = demo.Book()
	case bookPath != "":
		startupBook, err = book.Load(bookPath)
	}
	if err != nil {
		slog.Error("failed to load phonebook", "err", err)
		return exitStartup
	}

	// The remote server is on by default as soon as there is something to
	// observe; the explicit flag allows running with no initial phonebook.
	serveEnabled := *serveFlag || startupBook != nil
	if startupBook == nil && !serveEnabled {
		fmt.Fprintln(os.Stderr, "fernspielapparat: nothing to do — pass a phonebook, --demo, or --serve")
		return exitStartup
	}

	watchPath := ""
	if cfg.Runtime.Watch && bookPath != "" {
		watchPath = bookPath
	}

	slog.Info("fernspielapparat starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"serve", serveEnabled,
		"tick", cfg.TickPeriod(),
	)

	application, err := app.New(cfg, app.Params{
		StartupBook: startupBook,
		Serve:       serveEnabled,
		WatchPath:   watchPath,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitStartup
	}

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitFatal
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("runtime failure", "err", runErr)
		return exitFatal
	}
	slog.Info("goodbye")
	return exitOK
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"Usage: fernspielapparat [flags] [phonebook.yaml]\n\n"+
			"Runtime environment for fernspielapparat phonebooks.\n\n"+
			"Flags:\n")
	flag.PrintDefaults()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
