package move

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	x402 "github.com/ticketchain/x402-tickets"
)

const (
	FunctionMintTicketAfterPayment = "mint_ticket_after_payment"

	// TicketPurchasedEvent is the type suffix of the event emitted for every minted ticket
	TicketPurchasedEvent = "::ticket::TicketPurchased"

	// DefaultMintTimeout bounds submission and confirmation of one mint
	DefaultMintTimeout = 45 * time.Second
)

var (
	// ErrMintTimeout is returned when the mint is not committed before the deadline
	ErrMintTimeout = x402.ErrMintTimeout

	// ErrMintFailed is returned when the mint transaction was committed but aborted
	ErrMintFailed = errors.New("mint transaction failed")
)

// FulfillmentMinter mints tickets from the processor account once payment has settled
type FulfillmentMinter struct {
	signer  ProcessorSigner
	module  string
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// MinterOption configures a FulfillmentMinter
type MinterOption func(*FulfillmentMinter)

// WithMintTimeout overrides DefaultMintTimeout
func WithMintTimeout(timeout time.Duration) MinterOption {
	return func(m *FulfillmentMinter) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithMinterClock overrides the time source mixed into proof hashes
func WithMinterClock(now func() time.Time) MinterOption {
	return func(m *FulfillmentMinter) {
		m.now = now
	}
}

// WithMinterLogger sets the minter logger
func WithMinterLogger(logger zerolog.Logger) MinterOption {
	return func(m *FulfillmentMinter) {
		m.logger = logger
	}
}

// NewFulfillmentMinter creates a minter calling the contract published at moduleAddress
func NewFulfillmentMinter(signer ProcessorSigner, moduleAddress string, opts ...MinterOption) *FulfillmentMinter {
	m := &FulfillmentMinter{
		signer:  signer,
		module:  moduleAddress,
		timeout: DefaultMintTimeout,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint implements x402.Minter. A committed transaction without a TicketPurchased event is
// still a successful mint with an empty TicketAddress.
func (m *FulfillmentMinter) Mint(ctx context.Context, eventAddress string, buyerAddress string, settlementTx string) (*x402.MintResult, error) {
	buyer := NormalizeAddress(buyerAddress)
	proof := ProofHash(eventAddress, buyer, settlementTx, m.now())

	payload := NewEntryFunctionPayload(
		FunctionID(m.module, TicketModule, FunctionMintTicketAfterPayment),
		eventAddress,
		buyer,
		"0x"+hex.EncodeToString(proof[:]),
	)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	txHash, err := m.signer.SubmitEntryFunction(ctx, payload)
	if err != nil {
		return nil, m.classify(ctx, "", fmt.Errorf("failed to submit mint: %w", err))
	}

	m.logger.Info().
		Str("tx", txHash).
		Str("event", eventAddress).
		Str("buyer", buyer).
		Str("settlement_tx", settlementTx).
		Msg("mint submitted, waiting for commit")

	tx, err := m.signer.WaitForTransaction(ctx, txHash)
	if err != nil {
		return nil, m.classify(ctx, txHash, fmt.Errorf("failed to confirm mint %s: %w", txHash, err))
	}
	if !tx.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrMintFailed, txHash, tx.VMStatus)
	}

	ticketAddress, found := FindTicketAddress(tx.Events)
	if !found {
		m.logger.Warn().Str("tx", txHash).Msg("mint committed without a TicketPurchased event")
	}

	return &x402.MintResult{
		Success:       true,
		TxHash:        txHash,
		TicketAddress: ticketAddress,
		QRHash:        hex.EncodeToString(proof[:]),
		Buyer:         buyer,
	}, nil
}

func (m *FulfillmentMinter) classify(ctx context.Context, txHash string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if txHash != "" {
			return fmt.Errorf("%w after %s: tx %s: %v", ErrMintTimeout, m.timeout, txHash, err)
		}
		return fmt.Errorf("%w after %s: %v", ErrMintTimeout, m.timeout, err)
	}
	return err
}

// ProofHash derives the ticket's QR payload. The timestamp makes every mint attempt unique.
func ProofHash(eventAddress, buyerAddress, settlementTx string, at time.Time) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%d", eventAddress, buyerAddress, settlementTx, at.UnixNano())))
}

// FindTicketAddress returns the ticket_address of the first TicketPurchased event
func FindTicketAddress(events []Event) (string, bool) {
	i := slices.IndexFunc(events, func(e Event) bool {
		return strings.Contains(e.Type, TicketPurchasedEvent)
	})
	if i < 0 {
		return "", false
	}

	var data struct {
		TicketAddress string `json:"ticket_address"`
	}
	if err := json.Unmarshal(events[i].Data, &data); err != nil || data.TicketAddress == "" {
		return "", false
	}
	return data.TicketAddress, true
}
