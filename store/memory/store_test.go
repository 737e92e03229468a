package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/postbox/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, sender string, receivers []string, body string) *store.Delivery {
	t.Helper()
	delivery, err := s.CreateMail(context.Background(), store.MailData{
		Sender:    sender,
		Receivers: receivers,
		Body:      body,
	})
	if err != nil {
		t.Fatalf("create mail failed: %v", err)
	}
	return delivery
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := s.GetText(ctx, "any")
	if !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestCreateMail(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	t.Run("one text, one envelope per receiver", func(t *testing.T) {
		delivery := mustCreate(t, s, "alice", []string{"bob", "carol"}, "hello")

		if delivery.Text.Content != "hello" {
			t.Errorf("expected content 'hello', got %q", delivery.Text.Content)
		}
		if len(delivery.Envelopes) != 2 {
			t.Fatalf("expected 2 envelopes, got %d", len(delivery.Envelopes))
		}

		text, err := s.GetText(ctx, delivery.Text.ID)
		if err != nil {
			t.Fatalf("get text failed: %v", err)
		}
		if text.Content != "hello" {
			t.Errorf("expected stored content 'hello', got %q", text.Content)
		}

		for _, e := range delivery.Envelopes {
			got, err := s.GetEnvelope(ctx, e.ID)
			if err != nil {
				t.Fatalf("get envelope failed: %v", err)
			}
			if got.Status != store.StatusNotViewed {
				t.Errorf("expected not viewed, got %q", got.Status)
			}
			if got.TextID != delivery.Text.ID {
				t.Error("envelope should reference the text")
			}
			if got.Body != "hello" {
				t.Errorf("expected denormalized body, got %q", got.Body)
			}
		}
	})

	t.Run("duplicate receivers kept", func(t *testing.T) {
		delivery := mustCreate(t, s, "alice", []string{"dup", "dup"}, "twice")
		if len(delivery.Envelopes) != 2 {
			t.Fatalf("expected 2 envelopes, got %d", len(delivery.Envelopes))
		}
		if delivery.Envelopes[0].ID == delivery.Envelopes[1].ID {
			t.Error("duplicate receivers must get distinct envelopes")
		}
	})

	t.Run("empty receivers rejected", func(t *testing.T) {
		_, err := s.CreateMail(ctx, store.MailData{Sender: "alice", Body: "nobody"})
		if !errors.Is(err, store.ErrEmptyReceivers) {
			t.Errorf("expected ErrEmptyReceivers, got %v", err)
		}
	})

	t.Run("explicit sent time is preserved", func(t *testing.T) {
		sentAt := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
		delivery, err := s.CreateMail(ctx, store.MailData{
			Sender:    "alice",
			Receivers: []string{"bob"},
			Body:      "dated",
			SentAt:    sentAt,
		})
		if err != nil {
			t.Fatalf("create mail failed: %v", err)
		}
		if !delivery.Text.CreatedAt.Equal(sentAt) {
			t.Errorf("expected created_at %v, got %v", sentAt, delivery.Text.CreatedAt)
		}
	})
}

func TestViewInbox(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	page := store.PageRequest{Page: 1, PerPage: 10}

	mustCreate(t, s, "alice", []string{"bob"}, "first")
	mustCreate(t, s, "alice", []string{"bob"}, "second")

	t.Run("returns marked page", func(t *testing.T) {
		result, err := s.ViewInbox(ctx, "bob", page, store.FilterAny)
		if err != nil {
			t.Fatalf("view inbox failed: %v", err)
		}
		if len(result.Envelopes) != 2 {
			t.Fatalf("expected 2 envelopes, got %d", len(result.Envelopes))
		}
		for _, e := range result.Envelopes {
			if e.Status != store.StatusViewed {
				t.Errorf("expected viewed on returned page, got %q", e.Status)
			}
			if e.ViewedAt == nil {
				t.Error("expected viewed_at stamped")
			}
		}
	})

	t.Run("marking is idempotent", func(t *testing.T) {
		first, err := s.ViewInbox(ctx, "bob", page, store.FilterAny)
		if err != nil {
			t.Fatalf("view inbox failed: %v", err)
		}
		second, err := s.ViewInbox(ctx, "bob", page, store.FilterAny)
		if err != nil {
			t.Fatalf("view inbox failed: %v", err)
		}
		if len(second.Envelopes) != len(first.Envelopes) {
			t.Errorf("repeat read returned %d envelopes, want %d", len(second.Envelopes), len(first.Envelopes))
		}
		for i := range first.Envelopes {
			if !second.Envelopes[i].ViewedAt.Equal(*first.Envelopes[i].ViewedAt) {
				t.Error("viewed_at must not move on repeat reads")
			}
		}
	})

	t.Run("empty page writes nothing", func(t *testing.T) {
		result, err := s.ViewInbox(ctx, "stranger", page, store.FilterAny)
		if err != nil {
			t.Fatalf("view inbox failed: %v", err)
		}
		if len(result.Envelopes) != 0 || result.Total != 0 {
			t.Errorf("expected empty page, got %d/%d", len(result.Envelopes), result.Total)
		}
	})

	t.Run("invalid page rejected", func(t *testing.T) {
		_, err := s.ViewInbox(ctx, "bob", store.PageRequest{Page: 0, PerPage: 10}, store.FilterAny)
		if !errors.Is(err, store.ErrInvalidPage) {
			t.Errorf("expected ErrInvalidPage, got %v", err)
		}
	})
}

func TestPeekInbox(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	page := store.PageRequest{Page: 1, PerPage: 10}

	mustCreate(t, s, "alice", []string{"bob"}, "quiet")

	result, err := s.PeekInbox(ctx, "bob", page, store.FilterAny)
	if err != nil {
		t.Fatalf("peek inbox failed: %v", err)
	}
	if len(result.Envelopes) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(result.Envelopes))
	}
	if result.Envelopes[0].Status != store.StatusNotViewed {
		t.Error("peek must not mark viewed")
	}

	count, err := s.CountByReceiver(ctx, "bob", store.FilterNotViewed)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 unread after peek, got %d", count)
	}
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	page := store.PageRequest{Page: 1, PerPage: 10}

	mustCreate(t, s, "alice", []string{"bob", "carol"}, "note")
	mustCreate(t, s, "zed", []string{"bob"}, "other")

	result, err := s.Outbox(ctx, "alice", page)
	if err != nil {
		t.Fatalf("outbox failed: %v", err)
	}
	if len(result.Envelopes) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(result.Envelopes))
	}
	for _, e := range result.Envelopes {
		if e.Sender != "alice" {
			t.Errorf("expected sender alice, got %q", e.Sender)
		}
	}
}

func TestOrdering(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.CreateMail(ctx, store.MailData{
		Sender: "a", Receivers: []string{"r"}, Body: "old", SentAt: older,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.CreateMail(ctx, store.MailData{
		Sender: "a", Receivers: []string{"r"}, Body: "new", SentAt: newer,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	result, err := s.PeekInbox(ctx, "r", store.PageRequest{Page: 1, PerPage: 10}, store.FilterAny)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if result.Envelopes[0].Body != "new" || result.Envelopes[1].Body != "old" {
		t.Errorf("expected newest first, got %q then %q", result.Envelopes[0].Body, result.Envelopes[1].Body)
	}
}

func TestMarkViewed(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	delivery := mustCreate(t, s, "alice", []string{"bob", "carol"}, "mark me")
	ids := []string{delivery.Envelopes[0].ID, "missing-id"}

	written, err := s.MarkViewed(ctx, ids)
	if err != nil {
		t.Fatalf("mark viewed failed: %v", err)
	}
	if written != 1 {
		t.Errorf("expected 1 written, got %d", written)
	}

	e, err := s.GetEnvelope(ctx, delivery.Envelopes[0].ID)
	if err != nil {
		t.Fatalf("get envelope failed: %v", err)
	}
	if e.Status != store.StatusViewed || e.ViewedAt == nil {
		t.Errorf("expected viewed with timestamp, got %q %v", e.Status, e.ViewedAt)
	}

	// Second mark preserves the original timestamp
	firstViewed := *e.ViewedAt
	if _, err := s.MarkViewed(ctx, ids[:1]); err != nil {
		t.Fatalf("mark viewed failed: %v", err)
	}
	e, err = s.GetEnvelope(ctx, delivery.Envelopes[0].ID)
	if err != nil {
		t.Fatalf("get envelope failed: %v", err)
	}
	if !e.ViewedAt.Equal(firstViewed) {
		t.Error("repeat mark must not move viewed_at")
	}
}

func TestDeleteEnvelope(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	delivery := mustCreate(t, s, "alice", []string{"bob", "carol"}, "shared")

	if err := s.DeleteEnvelope(ctx, delivery.Envelopes[0].ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	t.Run("deleted envelope is gone", func(t *testing.T) {
		_, err := s.GetEnvelope(ctx, delivery.Envelopes[0].ID)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("text survives", func(t *testing.T) {
		if _, err := s.GetText(ctx, delivery.Text.ID); err != nil {
			t.Errorf("text should survive envelope deletion, got %v", err)
		}
	})

	t.Run("other envelope survives", func(t *testing.T) {
		e, err := s.GetEnvelope(ctx, delivery.Envelopes[1].ID)
		if err != nil {
			t.Fatalf("get envelope failed: %v", err)
		}
		if e.Body != "shared" {
			t.Errorf("expected body preserved, got %q", e.Body)
		}
	})

	t.Run("double delete reports not found", func(t *testing.T) {
		err := s.DeleteEnvelope(ctx, delivery.Envelopes[0].ID)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	for i := 0; i < 5; i++ {
		mustCreate(t, s, "alice", []string{"bob"}, "mail")
	}

	t.Run("page slicing", func(t *testing.T) {
		result, err := s.PeekInbox(ctx, "bob", store.PageRequest{Page: 2, PerPage: 2}, store.FilterAny)
		if err != nil {
			t.Fatalf("peek failed: %v", err)
		}
		if result.Total != 5 || result.Pages != 3 {
			t.Errorf("expected total 5 pages 3, got %d/%d", result.Total, result.Pages)
		}
		if len(result.Envelopes) != 2 {
			t.Errorf("expected 2 envelopes, got %d", len(result.Envelopes))
		}
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		result, err := s.PeekInbox(ctx, "bob", store.PageRequest{Page: 10, PerPage: 2}, store.FilterAny)
		if err != nil {
			t.Fatalf("peek failed: %v", err)
		}
		if len(result.Envelopes) != 0 {
			t.Errorf("expected empty page, got %d", len(result.Envelopes))
		}
		if result.Total != 5 {
			t.Errorf("expected total 5, got %d", result.Total)
		}
	})
}

func TestCountBySender(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	mustCreate(t, s, "alice", []string{"bob", "carol"}, "one")
	mustCreate(t, s, "zed", []string{"bob"}, "two")

	count, err := s.CountBySender(ctx, "alice")
	if err != nil {
		t.Fatalf("count by sender failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2, got %d", count)
	}

	count, err = s.CountBySender(ctx, "nobody")
	if err != nil {
		t.Fatalf("count by sender failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
}

func TestPurgeOrphanTexts(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	orphaned := mustCreate(t, s, "alice", []string{"bob"}, "orphan")
	kept := mustCreate(t, s, "alice", []string{"carol"}, "kept")

	if err := s.DeleteEnvelope(ctx, orphaned.Envelopes[0].ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	cutoff := time.Now().UTC().Add(time.Minute)

	t.Run("purges only unreferenced texts", func(t *testing.T) {
		deleted, err := s.PurgeOrphanTexts(ctx, cutoff, 100)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 purged, got %d", deleted)
		}

		if _, err := s.GetText(ctx, orphaned.Text.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected orphaned text gone, got %v", err)
		}
		if _, err := s.GetText(ctx, kept.Text.ID); err != nil {
			t.Errorf("referenced text must survive, got %v", err)
		}
	})

	t.Run("cutoff protects newer texts", func(t *testing.T) {
		fresh := mustCreate(t, s, "alice", []string{"dave"}, "fresh")
		if err := s.DeleteEnvelope(ctx, fresh.Envelopes[0].ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		past := time.Now().UTC().Add(-time.Hour)
		deleted, err := s.PurgeOrphanTexts(ctx, past, 100)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if deleted != 0 {
			t.Errorf("expected nothing purged before cutoff, got %d", deleted)
		}
	})

	t.Run("zero limit is a no-op", func(t *testing.T) {
		deleted, err := s.PurgeOrphanTexts(ctx, cutoff, 0)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if deleted != 0 {
			t.Errorf("expected 0, got %d", deleted)
		}
	})
}

func TestStatusFilters(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	page := store.PageRequest{Page: 1, PerPage: 10}

	first := mustCreate(t, s, "alice", []string{"bob"}, "read me")
	mustCreate(t, s, "alice", []string{"bob"}, "leave me")

	if _, err := s.MarkViewed(ctx, []string{first.Envelopes[0].ID}); err != nil {
		t.Fatalf("mark viewed failed: %v", err)
	}

	unread, err := s.PeekInbox(ctx, "bob", page, store.FilterNotViewed)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(unread.Envelopes) != 1 || unread.Envelopes[0].Body != "leave me" {
		t.Errorf("unexpected unread page: %+v", unread.Envelopes)
	}

	viewed, err := s.PeekInbox(ctx, "bob", page, store.FilterViewed)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(viewed.Envelopes) != 1 || viewed.Envelopes[0].Body != "read me" {
		t.Errorf("unexpected viewed page: %+v", viewed.Envelopes)
	}

	counts := map[store.StatusFilter]int64{
		store.FilterAny:       2,
		store.FilterNotViewed: 1,
		store.FilterViewed:    1,
	}
	for filter, want := range counts {
		got, err := s.CountByReceiver(ctx, "bob", filter)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if got != want {
			t.Errorf("filter %v: expected %d, got %d", filter, want, got)
		}
	}
}
