// Package bootstrap builds the collaborators named in a [config.Config]:
// transcription engines, the acoustic model, comprehension scoring, the
// classifier, the session store and the result notifier. Both the service
// and the evaluation CLI wire their [app.Providers] through it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/ortenv"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/notify"
	"github.com/MrWong99/readalong/pkg/notify/redis"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
	acousticonnx "github.com/MrWong99/readalong/pkg/provider/acoustic/onnx"
	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/provider/classifier/rules"
	"github.com/MrWong99/readalong/pkg/provider/comprehension"
	llmgrader "github.com/MrWong99/readalong/pkg/provider/comprehension/anyllm"
	"github.com/MrWong99/readalong/pkg/provider/comprehension/embed"
	"github.com/MrWong99/readalong/pkg/provider/embeddings"
	embedonnx "github.com/MrWong99/readalong/pkg/provider/embeddings/onnx"
	oaembed "github.com/MrWong99/readalong/pkg/provider/embeddings/openai"
	"github.com/MrWong99/readalong/pkg/provider/stt"
	"github.com/MrWong99/readalong/pkg/provider/stt/deepgram"
	"github.com/MrWong99/readalong/pkg/provider/stt/vosk"
	"github.com/MrWong99/readalong/pkg/provider/stt/whisper"
	"github.com/MrWong99/readalong/pkg/store"
	"github.com/MrWong99/readalong/pkg/store/postgres"
	"github.com/MrWong99/readalong/pkg/store/sqlite"
)

// breakerConfig guards every external collaborator. Three consecutive
// failures open the breaker for half a minute.
var breakerConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
		},
	},
}

// Built holds what [Build] created. Close releases native models and
// connections in reverse creation order.
type Built struct {
	Providers *app.Providers

	// Acoustic is set when an acoustic model is configured; its Available
	// method backs the readiness check.
	Acoustic *resilience.AcousticFallback

	closers []func() error
}

// Closers returns the release functions in the order they must run.
func (b *Built) Closers() []func() error {
	out := make([]func() error, 0, len(b.closers))
	for i := len(b.closers) - 1; i >= 0; i-- {
		out = append(out, b.closers[i])
	}
	return out
}

// Close runs every closer and joins their errors.
func (b *Built) Close() error {
	var errs []error
	for _, c := range b.Closers() {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Built) track(v any) {
	if c, ok := v.(io.Closer); ok {
		b.closers = append(b.closers, c.Close)
	}
}

// NewRegistry returns a registry with every built-in provider factory.
// The "embed" comprehension scorer uses emb, resolved when the factory runs.
func NewRegistry(emb *embeddings.Provider) *config.Registry {
	reg := config.NewRegistry()

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		var opts []whisper.Option
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if ms := entry.IntOption("silence_threshold_ms", 0); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := entry.IntOption("max_buffer_ms", 0); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		return vosk.New(modelPath)
	})

	// ── Acoustic ──────────────────────────────────────────────────────────────

	reg.RegisterAcoustic("onnx", func(entry config.ProviderEntry) (acoustic.Provider, error) {
		var opts []acousticonnx.Option
		if lib := entry.StringOption("shared_library"); lib != "" {
			opts = append(opts, acousticonnx.WithSharedLibrary(lib))
		}
		if out := entry.StringOption("output_name"); out != "" {
			opts = append(opts, acousticonnx.WithOutputName(out))
		}
		return acousticonnx.New(entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := entry.IntOption("dimensions", 0); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("onnx", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embedonnx.Option
		if lib := entry.StringOption("shared_library"); lib != "" {
			opts = append(opts, embedonnx.WithSharedLibrary(lib))
		}
		if n := entry.IntOption("dimensions", 0); n > 0 {
			opts = append(opts, embedonnx.WithDimensions(n))
		}
		if n := entry.IntOption("max_tokens", 0); n > 0 {
			opts = append(opts, embedonnx.WithMaxTokens(n))
		}
		return embedonnx.New(entry.Model, entry.StringOption("tokenizer_path"), opts...)
	})

	// ── Comprehension ─────────────────────────────────────────────────────────

	reg.RegisterComprehension("embed", func(config.ProviderEntry) (comprehension.Provider, error) {
		if emb == nil || *emb == nil {
			return nil, errors.New(`comprehension "embed" needs an embeddings provider`)
		}
		return embed.New(*emb), nil
	})

	// anyllm grades with a chat model; options.provider picks the backend.
	reg.RegisterComprehension("anyllm", func(entry config.ProviderEntry) (comprehension.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		backend := entry.StringOption("provider")
		if backend == "" {
			backend = "openai"
		}
		return llmgrader.New(backend, entry.Model, opts...)
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("rules", func(config.ProviderEntry) (classifier.Provider, error) {
		return rules.New(), nil
	})

	return reg
}

// Build creates every collaborator configured in cfg. Unconfigured ones stay
// nil and the pipeline runs without them. On error, anything created so far
// is released.
func Build(ctx context.Context, cfg *config.Config) (_ *Built, err error) {
	b := &Built{Providers: &app.Providers{}}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	var emb embeddings.Provider
	reg := NewRegistry(&emb)
	ps := b.Providers

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		b.track(p)
		ps.STT = resilience.NewSTTFallback(p, name, breakerConfig)
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.Acoustic.Name; name != "" {
		p, err := reg.CreateAcoustic(cfg.Providers.Acoustic)
		if err != nil {
			return nil, fmt.Errorf("create acoustic provider %q: %w", name, err)
		}
		b.track(p)
		b.Acoustic = resilience.NewAcousticFallback(p, name, breakerConfig)
		ps.Acoustic = b.Acoustic
		slog.Info("provider created", "kind", "acoustic", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		b.track(p)
		emb = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if name := cfg.Providers.Comprehension.Name; name != "" {
		p, err := reg.CreateComprehension(cfg.Providers.Comprehension)
		if err != nil {
			return nil, fmt.Errorf("create comprehension provider %q: %w", name, err)
		}
		ps.Comprehension = p
		slog.Info("provider created", "kind", "comprehension", "name", name)
	}

	if name := cfg.Providers.Classifier.Name; name != "" {
		p, err := reg.CreateClassifier(cfg.Providers.Classifier)
		if err != nil {
			return nil, fmt.Errorf("create classifier provider %q: %w", name, err)
		}
		ps.Classifier = p
		slog.Info("provider created", "kind", "classifier", "name", name)
	}

	// The ONNX environment outlives every session created from it.
	if cfg.Providers.Acoustic.Name == "onnx" || cfg.Providers.Embeddings.Name == "onnx" {
		b.closers = append([]func() error{ortenv.Shutdown}, b.closers...)
	}

	if ps.Store, err = openStore(ctx, cfg.Store, b); err != nil {
		return nil, err
	}
	if ps.Notifier, err = openNotifier(ctx, cfg.Notify, b); err != nil {
		return nil, err
	}
	return b, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, b *Built) (store.Store, error) {
	switch {
	case cfg.PostgresDSN != "":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		slog.Info("session store opened", "kind", "postgres")
		return s, nil
	case cfg.SQLitePath != "":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		slog.Info("session store opened", "kind", "sqlite", "path", cfg.SQLitePath)
		return s, nil
	}
	slog.Warn("no session store configured; refined results are not persisted")
	return nil, nil
}

func openNotifier(ctx context.Context, cfg config.NotifyConfig, b *Built) (notify.Notifier, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	n, err := redis.New(ctx, redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Channel: cfg.Channel})
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, n.Close)
	slog.Info("result notifier connected", "addr", cfg.RedisAddr, "channel", n.Channel())
	return n, nil
}
