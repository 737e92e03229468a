package postbox

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rbaliyan/postbox/store/memory"
)

func TestEventsWithRedisTransport(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc, err := NewService(
		WithStore(memory.New()),
		WithRedisClient(client),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer svc.Close(ctx)

	t.Run("events are registered on the bus", func(t *testing.T) {
		if svc.Events() == nil {
			t.Fatal("expected non-nil ServiceEvents")
		}
	})

	t.Run("operations publish without error", func(t *testing.T) {
		sender := svc.Client("alice")

		delivery, err := sender.Send(ctx, []string{"bob"}, "over redis")
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}

		if _, err := svc.Client("bob").Inbox(ctx, PageRequest{Page: 1, PerPage: 10}, FilterAny); err != nil {
			t.Fatalf("inbox failed: %v", err)
		}

		if err := svc.Client("bob").Delete(ctx, delivery.Envelopes[0].ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
	})
}

func TestEventsIsolatedPerService(t *testing.T) {
	ctx := context.Background()

	// Two services get distinct bus names, so their events never collide
	// even inside one process.
	first := setupTestService(t)
	defer first.Close(ctx)
	second := setupTestService(t)
	defer second.Close(ctx)

	if first.Events() == second.Events() {
		t.Error("expected distinct ServiceEvents per service")
	}
}

func TestEventPublishFailureHandler(t *testing.T) {
	ctx := context.Background()

	// The noop transport accepts every publish, so the failure handler
	// must stay silent during normal operation.
	var failures int
	svc := setupTestService(t, WithEventPublishFailureHandler(func(string, error) {
		failures++
	}))
	defer svc.Close(ctx)

	if _, err := svc.Client("alice").Send(ctx, []string{"bob"}, "fine"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if failures != 0 {
		t.Errorf("expected no failures with noop transport, got %d", failures)
	}
}
