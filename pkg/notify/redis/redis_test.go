package redis_test

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/readalong/pkg/notify"
	"github.com/MrWong99/readalong/pkg/notify/redis"
	"github.com/MrWong99/readalong/pkg/store"
)

func TestNotifier_Publish(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	n, err := redis.New(t.Context(), redis.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	if n.Channel() != redis.DefaultChannel {
		t.Errorf("Channel = %q", n.Channel())
	}

	sub := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(t.Context(), n.Channel())
	defer ps.Close()
	if _, err := ps.Receive(t.Context()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err = n.Publish(t.Context(), notify.Message{
		Complete: true,
		Record:   store.Record{SessionID: "s1", StudentID: "kid", Accuracy: 0.95},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ps.Channel():
		var got notify.Message
		if err := sonic.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != notify.TypeRefined || !got.Complete || got.Record.SessionID != "s1" {
			t.Errorf("message = %+v", got)
		}
		if got.PublishedAt.IsZero() {
			t.Error("PublishedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNotifier_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	n, err := redis.New(t.Context(), redis.Options{Addr: mr.Addr(), Channel: "custom"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()
	if err := n.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	mr.Close()
	if err := n.Ping(t.Context()); err == nil {
		t.Error("Ping succeeded after server shutdown")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	if _, err := redis.New(t.Context(), redis.Options{}); err == nil {
		t.Error("New accepted empty address")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := redis.New(t.Context(), redis.Options{Addr: addr}); err == nil {
		t.Error("New succeeded without a server")
	}
}
