package server

import (
	"errors"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/session"
	"github.com/MrWong99/readalong/pkg/audio"
)

// Event types sent to the client.
const (
	EventStarted     = "started"
	EventVerdict     = "verdict"
	EventPartial     = "partial"
	EventProvisional = "provisional"
	EventRefined     = "refined"
	EventError       = "error"
)

// Control message types sent by the client.
const (
	ControlStart = "start"
	ControlStop  = "stop"
)

// Error kinds reported to the client. Incomplete readings can be retried by
// reading more clearly; infrastructure failures need a restart.
const (
	KindIncomplete     = "incomplete"
	KindInfrastructure = "infrastructure"
	KindBadRequest     = "bad_request"
)

// Control is a text message from the client. The first message of a
// connection must be a start; a stop ends capture.
type Control struct {
	Type string `json:"type"`

	StudentID    string `json:"student_id,omitempty"`
	StudentName  string `json:"student_name,omitempty"`
	PassageID    string `json:"passage_id,omitempty"`
	PassageTitle string `json:"passage_title,omitempty"`
	PassageText  string `json:"passage_text,omitempty"`

	// SampleRate and Channels describe the binary frames that follow.
	// Zero means 16 kHz mono.
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// Format is the declared audio format. Each omitted field takes its value
// from [audio.PipelineFormat].
func (c Control) Format() audio.Format {
	f := audio.PipelineFormat
	if c.SampleRate > 0 {
		f.SampleRate = c.SampleRate
	}
	if c.Channels > 0 {
		f.Channels = c.Channels
	}
	return f
}

// Event is a message to the client.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// TraceID correlates the reading with server logs. Sent with started.
	TraceID string `json:"trace_id,omitempty"`

	// Words is the tokenized passage, sent with started.
	Words []string `json:"words,omitempty"`

	Verdict *session.WordVerdict `json:"verdict,omitempty"`

	// Text is the interim transcript of a partial event.
	Text string `json:"text,omitempty"`

	Result *session.Result `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo describes why a session failed or was not persisted.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	// Detected and Total are set for incomplete readings.
	Detected int `json:"detected,omitempty"`
	Total    int `json:"total,omitempty"`
}

// errorInfo classifies err. A nil err gives nil.
func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var inc *session.IncompleteError
	switch {
	case errors.As(err, &inc):
		return &ErrorInfo{Kind: KindIncomplete, Message: err.Error(), Detected: inc.Detected, Total: inc.Total}
	case errors.Is(err, app.ErrEmptyPassage):
		return &ErrorInfo{Kind: KindBadRequest, Message: err.Error()}
	default:
		return &ErrorInfo{Kind: KindInfrastructure, Message: err.Error()}
	}
}

func outcomeEvent(typ string, o session.Outcome) Event {
	res := o.Result
	return Event{Type: typ, SessionID: res.SessionID, Result: &res, Error: errorInfo(o.Err)}
}
