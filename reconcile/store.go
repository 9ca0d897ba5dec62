// Package reconcile keeps settlements whose ticket was never minted so support tooling can
// re-mint or refund them by hand.
package reconcile

import (
	"context"
	"errors"

	x402 "github.com/ticketchain/x402-tickets"
)

// ErrNotFound is returned when no open entry has the requested id
var ErrNotFound = errors.New("orphaned settlement not found")

// Store persists orphaned settlements until they are resolved
type Store interface {
	x402.ReconciliationRecorder

	// List returns the open entries, oldest first
	List(ctx context.Context) ([]x402.OrphanedSettlement, error)

	// Get returns one open entry
	Get(ctx context.Context, id string) (*x402.OrphanedSettlement, error)

	// Resolve closes an entry and returns it
	Resolve(ctx context.Context, id string) (*x402.OrphanedSettlement, error)
}
