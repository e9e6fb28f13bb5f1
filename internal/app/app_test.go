package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/scoring"
	sttmock "github.com/MrWong99/readalong/pkg/provider/stt/mock"
	storemock "github.com/MrWong99/readalong/pkg/store/mock"
)

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	table := scoring.DefaultTable()
	application, err := app.New(t.Context(), testConfig(), &app.Providers{
		STT:   &sttmock.Provider{},
		Store: &storemock.Store{},
	}, app.WithSubstitutionTable(table))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Runner().Substitutions() != table {
		t.Error("injected substitution table not used")
	}
	if application.Sessions() == nil {
		t.Error("Sessions() returned nil")
	}
	if err := application.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestNew_SubstitutionsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "subs.yaml")
	if err := os.WriteFile(path, []byte("pairs:\n  - {heard: tree, expected: three}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Scoring.SubstitutionsFile = path

	application, err := app.New(t.Context(), cfg, nil)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, ok := application.Runner().Substitutions().Lookup("tree", "three"); !ok {
		t.Error("rule from substitutions file missing")
	}
	if _, ok := application.Runner().Substitutions().Lookup("pather", "father"); !ok {
		t.Error("built-in rule missing")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing substitutions file", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Scoring.SubstitutionsFile = filepath.Join(t.TempDir(), "missing.yaml")
		if _, err := app.New(t.Context(), cfg, nil); err == nil {
			t.Error("expected error for missing substitutions file")
		}
	})

	t.Run("unreachable store", func(t *testing.T) {
		t.Parallel()
		s := &storemock.Store{PingErr: errors.New("connection refused")}
		if _, err := app.New(t.Context(), testConfig(), &app.Providers{Store: s}); err == nil {
			t.Error("expected error for unreachable store")
		}
	})
}

func TestShutdown_RunsClosersOnce(t *testing.T) {
	t.Parallel()

	var calls []int
	application, err := app.New(t.Context(), testConfig(), &app.Providers{STT: &sttmock.Provider{}},
		app.WithCloser(func() error { calls = append(calls, 1); return nil }),
		app.WithCloser(func() error { calls = append(calls, 2); return errors.New("ignored") }),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	rd, err := application.Sessions().Start(t.Context(), app.SessionInfo{StudentID: "s", PassageText: "the cat"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}

	select {
	case <-rd.Done():
	default:
		t.Error("active reading not finished by Shutdown")
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("closer calls = %v, want [1 2]", calls)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	called := false
	application, err := app.New(t.Context(), testConfig(), nil,
		app.WithCloser(func() error { called = true; return nil }),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := application.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("closer ran after the deadline")
	}
}
