package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionExists is returned by [SessionManager.Start] for an id that is
// already active.
var ErrSessionExists = errors.New("app: session already active")

// SessionManager tracks the readings that are capturing or refining. A
// reading is removed once its refinement pass has ended.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	runner *Runner

	mu     sync.Mutex
	active map[string]*Reading
}

// NewSessionManager returns a SessionManager starting readings on runner.
func NewSessionManager(runner *Runner) *SessionManager {
	return &SessionManager{runner: runner, active: make(map[string]*Reading)}
}

// Start begins a reading. An empty info.ID is replaced by a random UUID.
//
// Returns [ErrSessionExists] if a reading with the same id is still active.
func (sm *SessionManager) Start(ctx context.Context, info SessionInfo) (*Reading, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.active[info.ID]; ok {
		return nil, fmt.Errorf("%w (id=%s)", ErrSessionExists, info.ID)
	}

	rd, err := sm.runner.Start(ctx, info)
	if err != nil {
		return nil, err
	}
	sm.active[info.ID] = rd
	go func() {
		<-rd.Done()
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if sm.active[info.ID] == rd {
			delete(sm.active, info.ID)
		}
	}()
	return rd, nil
}

// Get returns the active reading with id.
func (sm *SessionManager) Get(id string) (*Reading, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	rd, ok := sm.active[id]
	return rd, ok
}

// Active returns metadata about every active reading, ordered by id.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, rd := range sm.active {
		out = append(out, rd.Info())
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of active readings.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

// StopAll ends capture of every active reading.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, rd := range sm.active {
		rd.Stop()
	}
}

// Wait blocks until every reading active at the time of the call is done,
// or ctx expires.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	readings := make([]*Reading, 0, len(sm.active))
	for _, rd := range sm.active {
		readings = append(readings, rd)
	}
	sm.mu.Unlock()

	for _, rd := range readings {
		select {
		case <-rd.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
