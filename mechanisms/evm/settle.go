package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	x402 "github.com/ticketchain/x402-tickets"

	"github.com/rs/zerolog"
)

// DefaultSettlementTimeout bounds the write and the receipt wait of one settlement
const DefaultSettlementTimeout = 45 * time.Second

var (
	// ErrSettlementTimeout is returned when the transfer is not confirmed before the deadline
	ErrSettlementTimeout = x402.ErrSettlementTimeout

	// ErrTransferFailed is returned when the transfer was mined with a non-success status
	ErrTransferFailed = errors.New("transfer failed on-chain")

	// ErrAuthorizationUsed is returned when the token contract reports the nonce as consumed
	ErrAuthorizationUsed = errors.New("authorization nonce already used")
)

// SettlementExecutor executes verified authorizations through transferWithAuthorization,
// paying gas from the relayer account. There is no retry.
type SettlementExecutor struct {
	signer  RelayerSigner
	token   string
	network string
	timeout time.Duration
	logger  zerolog.Logger
}

// SettlementOption configures a SettlementExecutor
type SettlementOption func(*SettlementExecutor)

// WithSettlementTimeout overrides DefaultSettlementTimeout
func WithSettlementTimeout(timeout time.Duration) SettlementOption {
	return func(e *SettlementExecutor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithSettlementLogger sets the executor logger
func WithSettlementLogger(logger zerolog.Logger) SettlementOption {
	return func(e *SettlementExecutor) {
		e.logger = logger
	}
}

// NewSettlementExecutor creates an executor settling on token for the named network
func NewSettlementExecutor(signer RelayerSigner, token string, network string, opts ...SettlementOption) *SettlementExecutor {
	e := &SettlementExecutor{
		signer:  signer,
		token:   token,
		network: network,
		timeout: DefaultSettlementTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settle implements x402.Settler. It blocks until the transfer receipt is available.
func (e *SettlementExecutor) Settle(ctx context.Context, auth *x402.PaymentAuthorization) (*x402.SettlementResult, error) {
	v, r, s, err := SplitSignature(auth.Signature)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	used, err := e.authorizationUsed(ctx, auth)
	if err != nil {
		return nil, e.classify(ctx, fmt.Errorf("failed to check authorization state: %w", err))
	}
	if used {
		return nil, ErrAuthorizationUsed
	}

	txHash, err := e.signer.WriteContract(
		ctx,
		e.token,
		TransferWithAuthorizationABI,
		FunctionTransferWithAuthorization,
		auth.From,
		auth.To,
		auth.Value,
		auth.ValidAfter,
		auth.ValidBefore,
		auth.Nonce,
		v,
		r,
		s,
	)
	if err != nil {
		return nil, e.classify(ctx, fmt.Errorf("failed to execute transfer: %w", err))
	}

	e.logger.Info().
		Str("tx", txHash).
		Str("from", auth.From).
		Str("value", auth.Value.String()).
		Msg("transfer submitted, waiting for receipt")

	receipt, err := e.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError(txHash, e.network, e.classify(ctx, fmt.Errorf("failed to get receipt: %w", err)))
	}

	if receipt.Status != TxStatusSuccess {
		return nil, x402.NewSettleError(txHash, e.network, ErrTransferFailed)
	}

	e.logger.Info().Str("tx", txHash).Uint64("block", receipt.BlockNumber).Msg("transfer confirmed")

	return &x402.SettlementResult{
		Success:     true,
		Transaction: txHash,
		Network:     e.network,
		Payer:       auth.From,
	}, nil
}

func (e *SettlementExecutor) authorizationUsed(ctx context.Context, auth *x402.PaymentAuthorization) (bool, error) {
	result, err := e.signer.ReadContract(
		ctx,
		e.token,
		AuthorizationStateABI,
		FunctionAuthorizationState,
		auth.From,
		auth.Nonce,
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState: %T", result)
	}
	return used, nil
}

// classify maps an expired settlement deadline to ErrSettlementTimeout
func (e *SettlementExecutor) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrSettlementTimeout, e.timeout, err)
	}
	return err
}
