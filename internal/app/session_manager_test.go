package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/app"
	sttmock "github.com/MrWong99/readalong/pkg/provider/stt/mock"
)

func newTestSessionManager(t *testing.T) (*app.SessionManager, *sttmock.Provider) {
	t.Helper()
	stt := &sttmock.Provider{}
	r := app.NewRunner(testConfig(), &app.Providers{STT: stt})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return app.NewSessionManager(r), stt
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t)

	rd, err := sm.Start(t.Context(), app.SessionInfo{StudentID: "s", PassageText: "the cat"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if rd.ID() == "" {
		t.Fatal("expected a generated session id")
	}
	if got, ok := sm.Get(rd.ID()); !ok || got != rd {
		t.Fatalf("Get(%q) = %v, %v", rd.ID(), got, ok)
	}
	if sm.Len() != 1 {
		t.Errorf("Len() = %d, want 1", sm.Len())
	}

	rd.Stop()
	select {
	case <-rd.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reading did not finish")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sm.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := sm.Get(rd.ID()); ok {
		t.Error("finished reading still tracked")
	}
}

func TestSessionManager_DuplicateID(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t)
	info := app.SessionInfo{ID: "same", StudentID: "s", PassageText: "the cat"}
	rd, err := sm.Start(t.Context(), info)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(rd.Stop)

	if _, err := sm.Start(t.Context(), info); !errors.Is(err, app.ErrSessionExists) {
		t.Errorf("second Start() error = %v, want ErrSessionExists", err)
	}
}

func TestSessionManager_StartFailureIsNotTracked(t *testing.T) {
	t.Parallel()

	sm, stt := newTestSessionManager(t)
	stt.StartStreamErr = errors.New("engine down")

	_, err := sm.Start(t.Context(), app.SessionInfo{ID: "x", StudentID: "s", PassageText: "the cat"})
	if !errors.Is(err, app.ErrTranscriptionUnavailable) {
		t.Fatalf("Start() error = %v, want ErrTranscriptionUnavailable", err)
	}
	if sm.Len() != 0 {
		t.Errorf("Len() = %d, want 0", sm.Len())
	}
}

func TestSessionManager_ActiveAndStopAll(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t)
	for _, id := range []string{"b", "a"} {
		if _, err := sm.Start(t.Context(), app.SessionInfo{ID: id, StudentID: "s", PassageText: "the cat"}); err != nil {
			t.Fatalf("Start(%q) error: %v", id, err)
		}
	}

	active := sm.Active()
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Errorf("Active() = %+v, want a, b", active)
	}

	sm.StopAll()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := sm.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
}
