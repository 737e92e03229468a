package postbox

import "context"

// RecipientResolver enumerates the user population for broadcast delivery.
// Implementations should be safe for concurrent use.
//
// Broadcast calls ListAllUserIDs once per send, so the receiver set reflects
// the population at that moment. Users registered afterwards do not receive
// earlier broadcasts.
type RecipientResolver interface {
	// ListAllUserIDs returns every known user ID, including the sender's.
	ListAllUserIDs(ctx context.Context) ([]string, error)
}
