// Package server exposes reading sessions over HTTP.
//
// A client captures audio and streams it over a WebSocket at
// /v1/sessions/ws: one JSON start message, then binary little-endian 16-bit
// PCM, then an optional JSON stop message. The server answers with a JSON
// event per verdict change, interim transcripts for display, the immediate
// estimate and finally the refined result.
//
// Persisted sessions are served at /v1/sessions/{id} and per student at
// /v1/students/{id}/sessions.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/store"
)

const (
	// maxMessageBytes bounds one WebSocket message: a second of 48 kHz
	// stereo audio or a long passage.
	maxMessageBytes = 1 << 18

	defaultListLimit = 20
)

// Server routes HTTP requests to the session manager and the store.
type Server struct {
	sessions *app.SessionManager
	store    store.Store
	metrics  *observe.Metrics

	originPatterns []string

	mux *http.ServeMux
}

// Option configures a [Server].
type Option func(*Server)

// WithStore serves persisted sessions from s.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMetrics records request durations.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithOriginPatterns allows WebSocket connections from browsers on other
// origins, e.g. "*.example.com".
func WithOriginPatterns(patterns ...string) Option {
	return func(srv *Server) { srv.originPatterns = patterns }
}

// New returns a Server starting readings through sessions.
func New(sessions *app.SessionManager, opts ...Option) *Server {
	s := &Server{sessions: sessions, mux: http.NewServeMux()}
	for _, o := range opts {
		o(s)
	}
	s.mux.HandleFunc("GET /v1/sessions/ws", s.handleWS)
	s.mux.HandleFunc("GET /v1/sessions", s.handleActive)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)
	s.mux.HandleFunc("GET /v1/students/{id}/sessions", s.handleList)
	return s
}

// Register mounts the routes on mux, wrapped in the observability
// middleware when metrics are configured.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/v1/", s.Handler())
}

// Handler returns the server's routes as one handler.
func (s *Server) Handler() http.Handler {
	if s.metrics == nil {
		return s.mux
	}
	return observe.Middleware(s.metrics)(s.mux)
}

// activeSession is the body of GET /v1/sessions/{id} for a reading that has
// not finished yet.
type activeSession struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	PassageID string `json:"passage_id,omitempty"`
	Active    bool   `json:"active"`
	Words     any    `json:"words"`
}

func (s *Server) handleActive(w http.ResponseWriter, _ *http.Request) {
	infos := s.sessions.Active()
	out := make([]activeSession, len(infos))
	for i, in := range infos {
		out[i] = activeSession{SessionID: in.ID, StudentID: in.StudentID, PassageID: in.PassageID, Active: true}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if rd, ok := s.sessions.Get(id); ok {
		words, err := rd.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		info := rd.Info()
		writeJSON(w, http.StatusOK, activeSession{
			SessionID: info.ID,
			StudentID: info.StudentID,
			PassageID: info.PassageID,
			Active:    true,
			Words:     words,
		})
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		observe.Logger(r.Context()).Error("server: get session", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.Record{})
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := s.store.ListByStudent(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("server: list sessions", "student_id", r.PathValue("id"), "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("server: encode response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
