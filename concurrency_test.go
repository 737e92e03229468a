package postbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestConcurrentSends(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithMaxConcurrentSends(4))
	defer svc.Close(ctx)

	const senders = 8
	const sendsPerSender = 5

	var wg sync.WaitGroup
	errCh := make(chan error, senders*sendsPerSender)

	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			mb := svc.Client(fmt.Sprintf("sender-%d", n))
			for j := 0; j < sendsPerSender; j++ {
				if _, err := mb.Send(ctx, []string{"shared-inbox"}, fmt.Sprintf("mail %d-%d", n, j)); err != nil {
					errCh <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent send failed: %v", err)
	}

	count, err := svc.Client("shared-inbox").UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count failed: %v", err)
	}
	if count != senders*sendsPerSender {
		t.Errorf("expected %d envelopes, got %d", senders*sendsPerSender, count)
	}
}

func TestConcurrentInboxReads(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	defer svc.Close(ctx)

	sender := svc.Client("sender")
	for i := 0; i < 10; i++ {
		if _, err := sender.Send(ctx, []string{"reader"}, "mail"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	// Concurrent readers all mark the same page; the transition is
	// one-directional so the result must be identical regardless of order.
	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := svc.Client("reader").Inbox(ctx, PageRequest{Page: 1, PerPage: 10}, FilterAny)
			if err != nil {
				errCh <- err
				return
			}
			if len(page.Envelopes) != 10 {
				errCh <- fmt.Errorf("expected full page, got %d", len(page.Envelopes))
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent inbox read failed: %v", err)
	}

	count, err := svc.Client("reader").UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unread after concurrent reads, got %d", count)
	}
}

func TestGracefulShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("close waits for in-flight sends", func(t *testing.T) {
		svc := setupTestService(t, WithShutdownTimeout(5*time.Second))

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				// Errors are fine here; sends racing Close may be rejected.
				_, _ = svc.Client("sender").Send(ctx, []string{fmt.Sprintf("r-%d", n)}, "bye")
			}(i)
		}
		wg.Wait()

		if err := svc.Close(ctx); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})

	t.Run("operations after close fail with not connected", func(t *testing.T) {
		svc := setupTestService(t)
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		_, err := svc.Client("sender").Send(ctx, []string{"r"}, "late")
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected after close, got %v", err)
		}
	})
}
