// Package resolver provides RecipientResolver implementations.
package resolver

import (
	"context"
)

// Static is a fixed-list RecipientResolver for testing and simple deployments.
// Safe for concurrent use (read-only after creation).
type Static struct {
	userIDs []string
}

// NewStatic creates a Static resolver from a list of user IDs.
// The list is copied to prevent external mutation.
func NewStatic(userIDs ...string) *Static {
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	return &Static{userIDs: ids}
}

// ListAllUserIDs returns every configured user ID.
func (s *Static) ListAllUserIDs(_ context.Context) ([]string, error) {
	ids := make([]string, len(s.userIDs))
	copy(ids, s.userIDs)
	return ids, nil
}

// Func adapts a plain function to the RecipientResolver interface.
//
//	r := resolver.Func(func(ctx context.Context) ([]string, error) {
//	    return userDB.AllIDs(ctx)
//	})
type Func func(ctx context.Context) ([]string, error)

// ListAllUserIDs calls f.
func (f Func) ListAllUserIDs(ctx context.Context) ([]string, error) {
	return f(ctx)
}
