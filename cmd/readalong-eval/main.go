// Command readalong-eval scores recorded readings offline with the same
// pipeline and providers as the service. It is used to recalibrate match
// thresholds and deadlines against labelled recordings.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/bootstrap"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/scoring"
	"github.com/MrWong99/readalong/internal/session"
	"github.com/MrWong99/readalong/pkg/audio"
)

var (
	configPath string
	envPath    string
	verbose    bool

	scorePassage string
	scoreText    string
	scoreAudio   string
	scoreStudent string
	scoreSpeed   float64
	scorePersist bool

	historyLimit int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "readalong-eval",
		Short:         "Offline scoring for recorded oral readings",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return config.LoadEnv(envPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "optional .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline details to stderr")

	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newLookupCmd())
	return rootCmd
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a WAV recording against a passage",
		Args:  cobra.NoArgs,
		RunE:  runScoreCmd,
	}
	cmd.Flags().StringVar(&scorePassage, "passage", "", "file holding the passage text")
	cmd.Flags().StringVar(&scoreText, "text", "", "passage text, instead of --passage")
	cmd.Flags().StringVar(&scoreAudio, "audio", "", "16-bit PCM WAV recording")
	cmd.Flags().StringVar(&scoreStudent, "student", "eval", "student id recorded with the session")
	cmd.Flags().Float64Var(&scoreSpeed, "speed", 1, "playback speed relative to real time; 0 feeds as fast as possible")
	cmd.Flags().BoolVar(&scorePersist, "persist", false, "save and publish the result with the configured store and notifier")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history STUDENT_ID",
		Short: "List stored sessions of a student, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryCmd,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of sessions; 0 lists all")
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup HEARD EXPECTED",
		Short: "Show which substitution rule accepts a heard word",
		Args:  cobra.ExactArgs(2),
		RunE:  runLookupCmd,
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, config.Validate(cfg)
	}
	return config.Load(configPath)
}

// report is printed by the score command.
type report struct {
	Provisional *session.Result `json:"provisional,omitempty"`
	Refined     *session.Result `json:"refined,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func runScoreCmd(cmd *cobra.Command, _ []string) error {
	passage, err := passageText()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(scoreAudio)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	samples, format, err := audio.DecodeWAV(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", scoreAudio, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !scorePersist {
		cfg.Store = config.StoreConfig{}
		cfg.Notify = config.NotifyConfig{}
	}

	ctx := cmd.Context()
	built, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer built.Close()

	runner := app.NewRunner(cfg, built.Providers)
	defer runner.Close(context.WithoutCancel(ctx))

	rd, err := runner.Start(ctx, app.SessionInfo{ID: uuid.NewString(), StudentID: scoreStudent, PassageText: passage})
	if err != nil {
		return err
	}

	conv := &audio.FormatConverter{Source: format}
	go feed(ctx, rd, conv, samples, format)
	go audio.Drain(rd.Updates())
	go audio.Drain(rd.Partials())

	var rep report
	if o, ok := <-rd.Provisional(); ok {
		rep.Provisional = &o.Result
	}
	o, err := rd.Wait(ctx)
	if o.Result.SessionID != "" {
		rep.Refined = &o.Result
	}
	if err != nil {
		rep.Error = err.Error()
	}
	if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
		return werr
	}
	var inc *session.IncompleteError
	if errors.As(err, &inc) {
		return fmt.Errorf("reading incomplete: %d of %d words detected", inc.Detected, inc.Total)
	}
	return err
}

func passageText() (string, error) {
	switch {
	case scoreText != "" && scorePassage != "":
		return "", errors.New("use either --passage or --text")
	case scoreText != "":
		return scoreText, nil
	case scorePassage != "":
		b, err := os.ReadFile(scorePassage)
		if err != nil {
			return "", fmt.Errorf("read passage: %w", err)
		}
		return string(b), nil
	}
	return "", errors.New("a passage is required (--passage or --text)")
}

// feed writes the recording in 20 ms chunks, paced by scoreSpeed, then stops
// capture.
func feed(ctx context.Context, rd *app.Reading, conv *audio.FormatConverter, samples []int16, f audio.Format) {
	defer rd.Stop()
	chunk := max(f.SampleRate*f.Channels/50, f.Channels)
	chunk -= chunk % f.Channels
	interval := time.Duration(0)
	if scoreSpeed > 0 {
		interval = time.Duration(float64(20*time.Millisecond) / scoreSpeed)
	}
	for start := 0; start < len(samples); start += chunk {
		end := min(start+chunk, len(samples))
		if err := rd.Write(conv.Convert(samples[start:end])); err != nil {
			return
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.PostgresDSN == "" && cfg.Store.SQLitePath == "" {
		return errors.New("no session store configured")
	}
	cfg.Notify = config.NotifyConfig{}
	cfg.Providers = config.ProvidersConfig{}

	built, err := bootstrap.Build(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer built.Close()

	recs, err := built.Providers.Store.ListByStudent(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s  %-19s  %8s  %8s  %5s  %s\n", "SESSION", "ENDED", "ACCURACY", "PRONUNC.", "WPM", "LEVEL")
	for _, r := range recs {
		fmt.Fprintf(out, "%-36s  %-19s  %7.1f%%  %7.1f%%  %5.0f  %s\n",
			r.SessionID, r.EndedAt.Local().Format(time.DateTime),
			100*r.Accuracy, 100*r.Pronunciation, r.WordsPerMinute, r.Level.Name)
	}
	return nil
}

func runLookupCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table := scoring.DefaultTable()
	if path := cfg.Scoring.SubstitutionsFile; path != "" {
		if table, err = scoring.LoadTableFile(path); err != nil {
			return err
		}
	}
	heard, expected := strings.ToLower(args[0]), strings.ToLower(args[1])
	rule, ok := table.Lookup(heard, expected)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%q is not accepted for %q\n", heard, expected)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%q is accepted for %q by %s\n", heard, expected, rule)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
