// Package notify publishes finished reading sessions to other services, for
// example a teacher dashboard that shows results as they arrive.
package notify

import (
	"context"
	"time"

	"github.com/MrWong99/readalong/pkg/store"
)

// Message announces the refined result of one session.
type Message struct {
	// Type is always "session.refined".
	Type string `json:"type"`

	// Complete is false when reading ended before every word was detected.
	// Such sessions are not persisted.
	Complete bool   `json:"complete"`
	Error    string `json:"error,omitempty"`

	Record      store.Record `json:"record"`
	PublishedAt time.Time    `json:"published_at"`
}

// TypeRefined is the Message.Type of refined results.
const TypeRefined = "session.refined"

// Notifier publishes session messages. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Publish(ctx context.Context, m Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Ping(context.Context) error             { return nil }
func (Nop) Close() error                           { return nil }

var _ Notifier = Nop{}
