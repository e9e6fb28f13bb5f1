// Package app wires the reading pipeline into a running service.
//
// The App struct owns the service lifecycle: New builds the substitution
// table, the [Runner] and the [SessionManager] from the config, and Shutdown
// stops active readings and tears everything down in order.
//
// For testing, inject mock collaborators through [Providers] and functional
// options (WithMetrics, WithSubstitutionTable, etc.).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/scoring"
	"github.com/MrWong99/readalong/pkg/notify"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/provider/comprehension"
	"github.com/MrWong99/readalong/pkg/provider/stt"
	"github.com/MrWong99/readalong/pkg/store"
)

// Providers holds one interface value per collaborator. Nil means the
// collaborator is not configured. Populated by main.go via the config
// registry.
type Providers struct {
	STT           stt.Provider
	Acoustic      acoustic.Provider
	Comprehension comprehension.Provider
	Classifier    classifier.Provider
	Store         store.Store
	Notifier      notify.Notifier
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	table     *scoring.Table

	runner   *Runner
	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSubstitutionTable injects a substitution table instead of building one
// from scoring.substitutions_file.
func WithSubstitutionTable(t *scoring.Table) Option {
	return func(a *App) { a.table = t }
}

// WithCloser registers fn to run during Shutdown, after active readings have
// wound down. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg, which must have passed [config.Validate].
// The providers struct comes from main.go.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initScoring(); err != nil {
		return nil, fmt.Errorf("app: init scoring: %w", err)
	}

	a.runner = NewRunner(cfg, providers,
		WithRunnerMetrics(a.metrics),
		WithSubstitutions(a.table),
	)
	a.sessions = NewSessionManager(a.runner)

	if providers.STT == nil {
		slog.Warn("no transcription provider configured; readings cannot start")
	}
	if providers.Store == nil {
		slog.Info("no session store configured; refined results are not persisted")
	} else if err := providers.Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("app: ping session store: %w", err)
	}
	return a, nil
}

func (a *App) initScoring() error {
	if a.table != nil {
		return nil
	}
	path := a.cfg.Scoring.SubstitutionsFile
	if path == "" {
		a.table = scoring.DefaultTable()
		return nil
	}
	t, err := scoring.LoadTableFile(path)
	if err != nil {
		return err
	}
	pairs, patterns := t.Len()
	slog.Info("loaded substitution table", "path", path, "pairs", pairs, "patterns", patterns)
	a.table = t
	return nil
}

// Sessions returns the manager of active readings.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Runner returns the session runner.
func (a *App) Runner() *Runner { return a.runner }

// Store returns the session store, nil when none is configured.
func (a *App) Store() store.Store { return a.providers.Store }

// Reconfigure applies a reloaded config to sessions started from now on.
func (a *App) Reconfigure(cfg *config.Config) {
	a.runner.Reconfigure(cfg)
}

// Shutdown stops capture of every active reading, waits for their
// refinement passes, then runs the closers. It respects the context
// deadline: if ctx expires first, running passes are abandoned, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_sessions", a.sessions.Len(), "closers", len(a.closers))

		a.sessions.StopAll()
		if err := a.sessions.Wait(ctx); err != nil {
			slog.Warn("readings still refining at shutdown", "err", err)
		}
		if err := a.runner.Close(ctx); err != nil {
			shutdownErr = err
			return
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
