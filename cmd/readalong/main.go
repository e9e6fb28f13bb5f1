// Command readalong is the oral reading assessment service. It accepts
// capture streams over WebSocket, scores them word by word and persists the
// refined results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/bootstrap"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional .env file loaded before the config")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "readalong: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "readalong: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "readalong: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("readalong starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "readalong"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := telemetry.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	built, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{app.WithMetrics(metrics)}
	for _, c := range built.Closers() {
		opts = append(opts, app.WithCloser(c))
	}
	application, err := app.New(ctx, cfg, built.Providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = built.Close()
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		if d.Changed() {
			application.Reconfigure(new)
			slog.Info("config reloaded; applies to new sessions",
				"log_level", d.LogLevelChanged,
				"thresholds", d.ThresholdsChanged,
				"deadlines", d.DeadlinesChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", telemetry.Handler())
	health.New(checkers(built)...).Register(mux)

	var srvOpts []server.Option
	srvOpts = append(srvOpts, server.WithMetrics(metrics))
	if built.Providers.Store != nil {
		srvOpts = append(srvOpts, server.WithStore(built.Providers.Store))
	}
	if origins := os.Getenv("READALONG_ALLOWED_ORIGINS"); origins != "" {
		srvOpts = append(srvOpts, server.WithOriginPatterns(splitList(origins)...))
	}
	server.New(application.Sessions(), srvOpts...).Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("server ready; press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections survive the listener shutdown, so
	// readings in progress still deliver their refined events.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

func checkers(b *bootstrap.Built) []health.Checker {
	var out []health.Checker
	if s := b.Providers.Store; s != nil {
		out = append(out, health.PingChecker("store", s))
	}
	if n := b.Providers.Notifier; n != nil {
		out = append(out, health.Optional(health.PingChecker("redis", n)))
	}
	if a := b.Acoustic; a != nil {
		out = append(out, health.Optional(health.AvailabilityChecker("acoustic", a.Available)))
	}
	return out
}

// reloadOnHangup reloads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			switch err := w.Reload(); {
			case errors.Is(err, config.ErrUnchanged):
				slog.Info("SIGHUP: config unchanged")
			case err != nil:
				slog.Warn("SIGHUP: config reload failed", "err", err)
			}
		}
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
