// Command murmur renders chat messages to HTML and reads them aloud.
//
// Usage:
//
//	murmur [-config path] serve
//	murmur [-config path] render <file>
//	murmur [-config path] speak [-out speech.wav] [-voice id] <file>
//	murmur [-config path] chunks [-min n] [-locale tag] <file>
//
// A file is either a message JSON document or plain markdown; "-" reads
// standard input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
)

const usage = `usage: murmur [-config path] <command> [flags] [file]

commands:
  serve    run the HTTP API
  render   print the markup of a message
  speak    synthesize a message into a WAV file
  chunks   print the chunks a message is spoken in
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("murmur", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "murmur.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	// ── Load configuration ────────────────────────────────────────────────────
	// Only serve needs a config file; the offline commands fall back to
	// defaults.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd == "serve" {
			fmt.Fprintf(stderr, "murmur: %v\n", err)
			return 1
		}
		d := config.Config{}.WithDefaults()
		cfg = &d
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, cfg.Server.LogFormat, &level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &env{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, *configPath, &level)
	case "render":
		err = env.render(ctx, rest)
	case "speak":
		err = env.speak(ctx, rest)
	case "chunks":
		err = env.chunks(rest)
	default:
		fmt.Fprintf(stderr, "murmur: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "murmur %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// serve runs the HTTP API until a signal arrives.
func serve(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	slog.Info("murmur starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"locale", cfg.Locale,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildTTS(cfg, reg, metrics)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLevelVar(level),
		app.WithConfigWatch(configPath, 0),
	)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
