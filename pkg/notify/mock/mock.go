// Package mock provides a recording notify.Notifier for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/notify"
)

// Notifier records published messages.
type Notifier struct {
	mu sync.Mutex

	// PublishErr and PingErr, if non-nil, are returned by Publish and Ping.
	PublishErr error
	PingErr    error

	messages []notify.Message
	closed   bool
}

// Publish records m.
func (n *Notifier) Publish(_ context.Context, m notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return n.PublishErr
}

// Ping returns PingErr.
func (n *Notifier) Ping(context.Context) error { return n.PingErr }

// Close marks the notifier closed.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Messages returns every published message.
func (n *Notifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

// Closed reports whether Close was called.
func (n *Notifier) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

var _ notify.Notifier = (*Notifier)(nil)
