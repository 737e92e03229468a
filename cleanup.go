package postbox

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// cleanupBatchSize is the number of orphaned texts purged per store call.
const cleanupBatchSize = 100

// CleanupResult contains the result of an orphan text cleanup run.
type CleanupResult struct {
	// DeletedCount is the number of texts permanently deleted.
	DeletedCount int
	// Interrupted indicates the cleanup stopped early (context cancelled).
	Interrupted bool
}

// CleanupOrphanTexts permanently deletes texts that no envelope references
// anymore. Deleting an envelope never removes the shared text, so once the
// last envelope of a send is deleted its text lingers until a cleanup run.
// Only texts older than the configured retention (default 24 hours) are
// purged, which keeps the cleanup away from sends still in flight.
//
// The run processes orphans in batches until none remain or the context is
// cancelled. The library does not schedule cleanup itself; call this
// periodically from the application, for example:
//
//	go func() {
//	    ticker := time.NewTicker(1 * time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        result, err := svc.CleanupOrphanTexts(ctx)
//	        if err != nil {
//	            log.Printf("orphan text cleanup error: %v", err)
//	        } else if result.DeletedCount > 0 {
//	            log.Printf("purged %d orphaned texts", result.DeletedCount)
//	        }
//	    }
//	}()
func (s *service) CleanupOrphanTexts(ctx context.Context) (*CleanupResult, error) {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return nil, ErrNotConnected
	}

	result := &CleanupResult{}
	cutoff := time.Now().UTC().Add(-s.opts.textRetention)

	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		deleted, err := s.store.PurgeOrphanTexts(ctx, cutoff, cleanupBatchSize)
		if err != nil {
			return result, fmt.Errorf("purge orphan texts: %w", err)
		}
		result.DeletedCount += int(deleted)

		if deleted < cleanupBatchSize {
			break
		}
	}

	if result.DeletedCount > 0 {
		s.logger.Debug("purged orphaned texts", "count", result.DeletedCount)
	}
	return result, nil
}
