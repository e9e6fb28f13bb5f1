package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/readalong/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":           {"deepgram", "whisper", "vosk"},
	"acoustic":      {"onnx"},
	"comprehension": {"embed", "anyllm"},
	"embeddings":    {"openai", "onnx"},
	"classifier":    {"rules"},
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" is tried.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg, with defaults applied, contains a coherent set of
// values. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate != audio.SampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the pipeline runs at %d", cfg.Audio.SampleRate, audio.SampleRate))
	}
	if cfg.Audio.HighPassHz >= cfg.Audio.LowPassHz {
		errs = append(errs, fmt.Errorf("audio.highpass_hz %.0f must be below audio.lowpass_hz %.0f", cfg.Audio.HighPassHz, cfg.Audio.LowPassHz))
	}
	if cfg.Audio.LowPassHz >= float64(cfg.Audio.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("audio.lowpass_hz %.0f must be below the Nyquist frequency", cfg.Audio.LowPassHz))
	}
	errs = appendUnit(errs, "audio.noise_gate_rms", cfg.Audio.NoiseGateRMS)
	errs = appendUnit(errs, "audio.normalize_rms", cfg.Audio.NormalizeRMS)
	errs = appendUnit(errs, "audio.agc.target_peak", cfg.Audio.AGC.TargetPeak)
	errs = appendUnit(errs, "audio.noise_reduction", cfg.Audio.NoiseReduction)

	// Watchdog
	if cfg.Watchdog.ComplexWordDeadline < cfg.Watchdog.Deadline {
		errs = append(errs, fmt.Errorf("watchdog.complex_word_deadline %s is shorter than watchdog.deadline %s",
			cfg.Watchdog.ComplexWordDeadline, cfg.Watchdog.Deadline))
	}
	if d := cfg.Watchdog.SilenceDeadline; d != nil && *d < 0 {
		errs = append(errs, fmt.Errorf("watchdog.silence_deadline %s must not be negative", *d))
	}
	if ledger := time.Duration(cfg.Audio.LedgerSeconds) * time.Second; ledger < cfg.Watchdog.ComplexWordDeadline {
		slog.Warn("audio.ledger_seconds is shorter than the longest word deadline; slow words will miss acoustic scoring",
			"ledger", ledger, "deadline", cfg.Watchdog.ComplexWordDeadline)
	}

	// Aligner, phonetic and sampler thresholds
	th := cfg.Aligner.Thresholds
	errs = appendUnit(errs, "aligner.thresholds.up_to_2", th.UpTo2)
	errs = appendUnit(errs, "aligner.thresholds.three", th.Three)
	errs = appendUnit(errs, "aligner.thresholds.up_to_5", th.UpTo5)
	errs = appendUnit(errs, "aligner.thresholds.longer", th.Longer)
	errs = appendUnit(errs, "phonetic.veto_similarity", cfg.Phonetic.VetoSimilarity)
	errs = appendUnit(errs, "sampler.confidence_threshold", cfg.Sampler.ConfidenceThreshold)
	if cfg.Sampler.Padding < 0 {
		errs = append(errs, fmt.Errorf("sampler.padding %s must not be negative", cfg.Sampler.Padding))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("acoustic", cfg.Providers.Acoustic.Name)
	validateProviderName("comprehension", cfg.Providers.Comprehension.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; reading sessions cannot be transcribed")
	}
	if cfg.Providers.Acoustic.Name == "" {
		slog.Warn("providers.acoustic is not configured; results keep their text verdicts")
	}
	if cfg.Providers.Comprehension.Name == "embed" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New(`providers.comprehension "embed" requires providers.embeddings`))
	}

	// Store
	if cfg.Store.PostgresDSN != "" && cfg.Store.SQLitePath != "" {
		slog.Warn("both store.postgres_dsn and store.sqlite_path are set; using postgres")
	}

	return errors.Join(errs...)
}

// appendUnit records an error when v is outside (0, 1].
func appendUnit(errs []error, field string, v float64) []error {
	if v <= 0 || v > 1 {
		return append(errs, fmt.Errorf("%s %.3f is out of range (0, 1]", field, v))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
