package x402

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle resolves the current price of an event in the reference currency.
// Implementations never fail: upstream errors are swallowed and a fallback price is returned,
// so quoting never blocks browsing.
type PriceOracle interface {
	GetPrice(ctx context.Context, eventAddress string) decimal.Decimal
}

// EventCatalog reads event metadata from the ticketing contract
type EventCatalog interface {
	GetEventInfo(ctx context.Context, eventAddress string) (*EventInfo, error)
}

// AuthorizationVerifier checks the typed-data signature of an authorization against its From address.
//
// Returns:
//
//	false, nil for a signature that is well-formed but does not recover to From
//	error only for structurally malformed input
type AuthorizationVerifier interface {
	VerifyAuthorization(ctx context.Context, auth *PaymentAuthorization) (bool, error)
}

// Settler executes a verified authorization on the payment rail and blocks until it is confirmed.
// There is no retry: resubmitting a consumed nonce fails at the contract level.
type Settler interface {
	Settle(ctx context.Context, auth *PaymentAuthorization) (*SettlementResult, error)
}

// Minter creates a ticket on the fulfillment chain once payment is settled
type Minter interface {
	Mint(ctx context.Context, eventAddress string, buyerAddress string, settlementTx string) (*MintResult, error)
}

// ReconciliationRecorder stores settlements that were not followed by a successful mint
type ReconciliationRecorder interface {
	Record(ctx context.Context, entry OrphanedSettlement) error
}
