package postbox

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/postbox/store"
)

// StatsReader provides access to aggregate mailbox statistics.
type StatsReader interface {
	// Stats returns aggregate statistics for this user's mailbox.
	// Results are cached per user with a TTL refresh (see
	// WithStatsRefreshInterval), so counts may lag the store by up to
	// one interval.
	Stats(ctx context.Context) (*MailboxStats, error)
}

// MailboxStats is an alias for store.MailboxStats.
type MailboxStats = store.MailboxStats

// statsEntry holds a cached stats snapshot for a single user.
type statsEntry struct {
	mu        sync.Mutex
	stats     *MailboxStats
	updatedAt time.Time
}

// getOrRefreshStats returns cached stats if within TTL, otherwise refreshes
// from the store.
func (s *service) getOrRefreshStats(ctx context.Context, userID string) (*MailboxStats, error) {
	now := time.Now()

	// Fast path: return cached entry if within TTL.
	if val, ok := s.statsCache.Load(userID); ok {
		entry := val.(*statsEntry)
		entry.mu.Lock()
		if entry.stats != nil && now.Sub(entry.updatedAt) < s.opts.statsRefreshInterval {
			clone := entry.stats.Clone()
			entry.mu.Unlock()
			return clone, nil
		}
		entry.mu.Unlock()
	}

	// Slow path: count from the store and cache the snapshot.
	stats, err := s.computeStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.statsCache.Store(userID, &statsEntry{
		stats:     stats,
		updatedAt: now,
	})

	return stats.Clone(), nil
}

// computeStats assembles the aggregate counts for one user.
func (s *service) computeStats(ctx context.Context, userID string) (*MailboxStats, error) {
	received, err := s.store.CountByReceiver(ctx, userID, store.FilterAny)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountByReceiver(ctx, userID, store.FilterNotViewed)
	if err != nil {
		return nil, err
	}
	sent, err := s.store.CountBySender(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &MailboxStats{
		Received: received,
		Unread:   unread,
		Sent:     sent,
	}, nil
}

// Stats returns aggregate statistics for this user's mailbox.
func (m *userMailbox) Stats(ctx context.Context) (*MailboxStats, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.getOrRefreshStats(ctx, m.userID)
}
