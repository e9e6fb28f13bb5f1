// Package config provides the configuration schema, loader, and provider
// registry for the readalong assessment server.
//
// Every tunable of the pipeline has a default; a zero-valued field in YAML
// means "use the default". Call [Config.ApplyDefaults] after decoding, which
// [LoadFromReader] does for you.
package config

import (
	"time"

	"github.com/MrWong99/readalong/internal/align"
	"github.com/MrWong99/readalong/internal/sampler"
	"github.com/MrWong99/readalong/internal/watchdog"
	"github.com/MrWong99/readalong/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Aligner   AlignerConfig   `yaml:"aligner"`
	Phonetic  PhoneticConfig  `yaml:"phonetic"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig tunes capture conditioning and the audio ledger.
type AudioConfig struct {
	// SampleRate is the pipeline rate in Hz. Only 16000 is supported.
	SampleRate int `yaml:"sample_rate"`

	// FrameMS is the capture frame length. Default 20.
	FrameMS int `yaml:"frame_ms"`

	NoiseGateRMS   float64 `yaml:"noise_gate_rms"`
	GateHoldFrames int     `yaml:"gate_hold_frames"`
	HighPassHz     float64 `yaml:"highpass_hz"`
	LowPassHz      float64 `yaml:"lowpass_hz"`

	AGC AGCConfig `yaml:"agc"`

	// NoiseProfileFrames enables spectral subtraction when positive, with a
	// noise profile averaged over that many quiet capture frames.
	NoiseProfileFrames int `yaml:"noise_profile_frames"`

	// NoiseReduction scales the noise profile before subtraction. Default 0.8.
	NoiseReduction float64 `yaml:"noise_reduction"`

	// NormalizeRMS is the level word audio is brought to before acoustic
	// scoring. Default 0.1.
	NormalizeRMS float64 `yaml:"normalize_rms"`

	// LedgerSeconds is how much recent audio is retained. Default 15.
	LedgerSeconds int `yaml:"ledger_seconds"`
}

// AGCConfig tunes automatic gain control. It applies per capture frame in the
// conditioner and once more to word audio before acoustic scoring.
type AGCConfig struct {
	Enabled    bool    `yaml:"enabled"`
	TargetPeak float64 `yaml:"target_peak"`
	MaxGain    float64 `yaml:"max_gain"`
}

// WatchdogConfig holds the word timeout deadlines.
type WatchdogConfig struct {
	Deadline            time.Duration `yaml:"deadline"`
	ComplexWordDeadline time.Duration `yaml:"complex_word_deadline"`
	ComplexWordLength   int           `yaml:"complex_word_length"`

	// SilenceDeadline is the trailing silence that times out a word. Nil
	// uses the default of 500ms; an explicit 0 disables it.
	SilenceDeadline *time.Duration `yaml:"silence_deadline"`
}

// AlignerConfig tunes the streaming word aligner.
type AlignerConfig struct {
	Lookahead  int              `yaml:"lookahead"`
	Thresholds align.Thresholds `yaml:"thresholds"`

	// SkipOneAhead enables the skip rule. Nil means enabled.
	SkipOneAhead *bool `yaml:"skip_one_ahead"`
}

// PhoneticConfig tunes the phonetic cross-checker.
type PhoneticConfig struct {
	// VetoSimilarity is the Jaro-Winkler similarity below which a phonetic
	// mismatch vetoes an aligner verdict. Default 0.75.
	VetoSimilarity float64 `yaml:"veto_similarity"`
}

// SamplerConfig tunes the acoustic re-scoring pass.
type SamplerConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// FullPass re-scores every heard word of a normally completed session
	// instead of only low-confidence ones. Nil means enabled.
	FullPass *bool `yaml:"full_pass"`

	Concurrency int `yaml:"concurrency"`

	// Padding widens each word's audio span on both sides.
	Padding time.Duration `yaml:"padding"`
}

// ScoringConfig configures reconciliation.
type ScoringConfig struct {
	// SubstitutionsFile is an optional YAML file of extra substitution rules
	// merged into the built-in table.
	SubstitutionsFile string `yaml:"substitutions_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each field selects a named provider registered in the
// [Registry]. An empty name leaves the collaborator unconfigured.
type ProvidersConfig struct {
	STT           ProviderEntry `yaml:"stt"`
	Acoustic      ProviderEntry `yaml:"acoustic"`
	Comprehension ProviderEntry `yaml:"comprehension"`
	Embeddings    ProviderEntry `yaml:"embeddings"`
	Classifier    ProviderEntry `yaml:"classifier"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "onnx").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For local providers this is
	// the model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) StringOption(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// IntOption returns Options[key] as an int, or def when absent.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// StoreConfig selects session persistence. PostgresDSN wins when both are
// set; with neither, sessions are not persisted.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// NotifyConfig configures result notification. Empty RedisAddr disables it.
type NotifyConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	Channel       string `yaml:"channel"`
}

// ApplyDefaults fills every unset tunable with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	cond := audio.DefaultConditionerConfig()
	a := &c.Audio
	if a.SampleRate == 0 {
		a.SampleRate = audio.SampleRate
	}
	if a.FrameMS <= 0 {
		a.FrameMS = 20
	}
	if a.NoiseGateRMS <= 0 {
		a.NoiseGateRMS = cond.GateThreshold
	}
	if a.GateHoldFrames <= 0 {
		a.GateHoldFrames = cond.GateHoldFrames
	}
	if a.HighPassHz <= 0 {
		a.HighPassHz = cond.HighPassHz
	}
	if a.LowPassHz <= 0 {
		a.LowPassHz = cond.LowPassHz
	}
	if a.AGC.TargetPeak <= 0 {
		a.AGC.TargetPeak = 0.7
	}
	if a.AGC.MaxGain <= 0 {
		a.AGC.MaxGain = 4
	}
	if a.NoiseReduction <= 0 {
		a.NoiseReduction = cond.NoiseReduction
	}
	if a.NormalizeRMS <= 0 {
		a.NormalizeRMS = 0.1
	}
	if a.LedgerSeconds <= 0 {
		a.LedgerSeconds = 15
	}

	wd := watchdog.DefaultConfig()
	w := &c.Watchdog
	if w.Deadline <= 0 {
		w.Deadline = wd.Deadline
	}
	if w.ComplexWordDeadline <= 0 {
		w.ComplexWordDeadline = wd.ComplexDeadline
	}
	if w.ComplexWordLength <= 0 {
		w.ComplexWordLength = wd.ComplexLength
	}
	if w.SilenceDeadline == nil {
		d := wd.SilenceDeadline
		w.SilenceDeadline = &d
	}

	if c.Aligner.Lookahead <= 0 {
		c.Aligner.Lookahead = 2
	}
	if c.Aligner.Thresholds == (align.Thresholds{}) {
		c.Aligner.Thresholds = align.DefaultThresholds
	}
	if c.Aligner.SkipOneAhead == nil {
		c.Aligner.SkipOneAhead = ptr(true)
	}

	if c.Phonetic.VetoSimilarity <= 0 {
		c.Phonetic.VetoSimilarity = 0.75
	}

	if c.Sampler.ConfidenceThreshold <= 0 {
		c.Sampler.ConfidenceThreshold = 0.80
	}
	if c.Sampler.FullPass == nil {
		c.Sampler.FullPass = ptr(true)
	}
	if c.Sampler.Concurrency <= 0 {
		c.Sampler.Concurrency = 4
	}
}

func ptr[T any](v T) *T { return &v }

// Conditioner returns the signal conditioner settings.
func (a AudioConfig) Conditioner() audio.ConditionerConfig {
	return audio.ConditionerConfig{
		SampleRate:         a.SampleRate,
		GateThreshold:      a.NoiseGateRMS,
		GateHoldFrames:     a.GateHoldFrames,
		HighPassHz:         a.HighPassHz,
		LowPassHz:          a.LowPassHz,
		AGC:                a.AGC.Enabled,
		AGCTargetPeak:      a.AGC.TargetPeak,
		AGCMaxGain:         a.AGC.MaxGain,
		NoiseProfileFrames: a.NoiseProfileFrames,
		NoiseReduction:     a.NoiseReduction,
	}
}

// FrameSamples is the capture frame length in samples.
func (a AudioConfig) FrameSamples() int { return a.SampleRate * a.FrameMS / 1000 }

// LedgerSamples is the ledger capacity in samples.
func (a AudioConfig) LedgerSamples() int { return a.SampleRate * a.LedgerSeconds }

// Config returns the watchdog settings.
func (w WatchdogConfig) Config() watchdog.Config {
	c := watchdog.Config{
		Deadline:        w.Deadline,
		ComplexDeadline: w.ComplexWordDeadline,
		ComplexLength:   w.ComplexWordLength,
	}
	if w.SilenceDeadline != nil {
		c.SilenceDeadline = *w.SilenceDeadline
	}
	return c
}

// Config returns the aligner settings.
func (a AlignerConfig) Config() align.Config {
	return align.Config{
		LookAhead:   a.Lookahead,
		Thresholds:  a.Thresholds,
		DisableSkip: a.SkipOneAhead != nil && !*a.SkipOneAhead,
	}
}

// Config returns the sampler settings, taking level adjustments from audio.
func (s SamplerConfig) Config(a AudioConfig) sampler.Config {
	return sampler.Config{
		ConfidenceThreshold: s.ConfidenceThreshold,
		Concurrency:         s.Concurrency,
		AGC:                 a.AGC.Enabled,
		AGCTargetPeak:       a.AGC.TargetPeak,
		AGCMaxGain:          a.AGC.MaxGain,
		NormalizeRMS:        a.NormalizeRMS,
	}
}

// FullPassEnabled reports whether completed sessions get a full acoustic pass.
func (s SamplerConfig) FullPassEnabled() bool { return s.FullPass == nil || *s.FullPass }
