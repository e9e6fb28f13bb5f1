// Package redis publishes session messages on a redis pub/sub channel.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/readalong/pkg/notify"
)

// DefaultChannel is used when Options.Channel is empty.
const DefaultChannel = "readalong:sessions"

// Options configures a Notifier.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Notifier implements notify.Notifier with PUBLISH.
type Notifier struct {
	rdb     *goredis.Client
	channel string
}

var _ notify.Notifier = (*Notifier)(nil)

// New connects to redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Notifier, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis notify: address is required")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis notify: ping %s: %w", opts.Addr, err)
	}
	return &Notifier{rdb: rdb, channel: opts.Channel}, nil
}

// Channel returns the channel messages are published on.
func (n *Notifier) Channel() string { return n.channel }

// Publish encodes m as JSON and publishes it. An empty Type defaults to
// notify.TypeRefined and a zero PublishedAt to now.
func (n *Notifier) Publish(ctx context.Context, m notify.Message) error {
	if m.Type == "" {
		m.Type = notify.TypeRefined
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now().UTC()
	}
	raw, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis notify: encode %q: %w", m.Record.SessionID, err)
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis notify: publish %q: %w", m.Record.SessionID, err)
	}
	return nil
}

// Ping implements notify.Notifier.
func (n *Notifier) Ping(ctx context.Context) error {
	if err := n.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis notify: ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (n *Notifier) Close() error {
	return n.rdb.Close()
}
