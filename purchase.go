package x402

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FreeMintProof is the settlement reference used when minting a zero-price ticket
const FreeMintProof = "free"

// PurchaseRequest is a single ticket purchase attempt
type PurchaseRequest struct {
	EventAddress  string
	BuyerAddress  string
	PaymentHeader string
}

// TicketView describes the minted ticket in purchase responses
type TicketView struct {
	Address      string `json:"address,omitempty"`
	EventAddress string `json:"eventAddress,omitempty"`
	Owner        string `json:"owner,omitempty"`
	QRHash       string `json:"qrHash"`
}

// PaymentView describes the settled payment in purchase responses
type PaymentView struct {
	TxHash  string          `json:"txHash"`
	Amount  decimal.Decimal `json:"amount"`
	Network string          `json:"network"`
}

// TxRef references a transaction by hash
type TxRef struct {
	Hash string `json:"hash"`
}

// PurchaseResponse is returned for a fulfilled paid purchase
type PurchaseResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	Ticket       TicketView  `json:"ticket"`
	Payment      PaymentView `json:"payment"`
	SettlementTx TxRef       `json:"settlementTx"`
	MintTx       TxRef       `json:"mintTx"`
}

// FreePurchaseResponse is returned for a fulfilled zero-price purchase
type FreePurchaseResponse struct {
	Success bool       `json:"success"`
	Ticket  TicketView `json:"ticket"`
	TxHash  string     `json:"txHash"`
}

// FreeUnavailable is the 402 body for purchase-free on a priced event
type FreeUnavailable struct {
	Error string          `json:"error"`
	Price decimal.Decimal `json:"price"`
}

// PurchaseOrchestrator composes the payment gate and the minter into the purchase flow.
// Minting is only ever attempted after a VALID payment outcome or for a zero-price event.
type PurchaseOrchestrator struct {
	gate     *PaymentGate
	oracle   PriceOracle
	minter   Minter
	recorder ReconciliationRecorder
	logger   zerolog.Logger
	network  string
	now      func() time.Time
}

// OrchestratorOption configures a PurchaseOrchestrator
type OrchestratorOption func(*PurchaseOrchestrator)

// WithRecorder stores settlements whose mint failed
func WithRecorder(recorder ReconciliationRecorder) OrchestratorOption {
	return func(o *PurchaseOrchestrator) {
		o.recorder = recorder
	}
}

// WithOrchestratorLogger sets the orchestrator logger
func WithOrchestratorLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *PurchaseOrchestrator) {
		o.logger = logger
	}
}

// NewPurchaseOrchestrator creates an orchestrator
func NewPurchaseOrchestrator(gate *PaymentGate, oracle PriceOracle, minter Minter, opts ...OrchestratorOption) *PurchaseOrchestrator {
	o := &PurchaseOrchestrator{
		gate:    gate,
		oracle:  oracle,
		minter:  minter,
		logger:  zerolog.Nop(),
		network: gate.config.Network,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Purchase runs a paid purchase. Errors are always *PaymentError; a 402 carries its challenge.
func (o *PurchaseOrchestrator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error) {
	if strings.TrimSpace(req.BuyerAddress) == "" {
		return nil, &PaymentError{
			Code:    ErrCodeBuyerRequired,
			Message: "Provide buyerAddress in body or X-Buyer-Address header",
			Err:     ErrBuyerRequired,
		}
	}

	quote := o.gate.Quote(ctx, req.EventAddress)
	if quote.IsFree() {
		o.logger.Info().Str("event", req.EventAddress).Msg("zero-price event, minting without payment")
		free, err := o.mintFree(ctx, req)
		if err != nil {
			return nil, err
		}
		return &PurchaseResponse{
			Success: true,
			Message: "Ticket purchased successfully",
			Ticket:  free.Ticket,
			Payment: PaymentView{TxHash: FreeMintProof, Amount: decimal.Zero, Network: o.network},
			MintTx:  TxRef{Hash: free.TxHash},
		}, nil
	}

	outcome, err := o.gate.Verify(ctx, quote, req.PaymentHeader)
	if err != nil {
		o.logger.Error().Err(err).Str("event", req.EventAddress).Msg("payment settlement failed")
		o.settlementFailure(ctx, req, quote, err)
		return nil, err
	}

	switch outcome.State {
	case StateQuoteIssued:
		return nil, &PaymentError{
			Code:      ErrCodePaymentRequired,
			Message:   "Payment Required",
			Challenge: outcome.Challenge,
		}
	case StateInvalid:
		return nil, &PaymentError{
			Code:      ErrCodeInvalidPayment,
			Message:   outcome.Message,
			Details:   map[string]interface{}{"reason": outcome.Reason},
			Challenge: outcome.Challenge,
		}
	}

	settlement := outcome.Settlement
	mint, err := o.minter.Mint(context.WithoutCancel(ctx), req.EventAddress, req.BuyerAddress, settlement.Transaction)
	if err != nil {
		return nil, o.mintFailure(ctx, req, outcome, err)
	}

	o.logger.Info().
		Str("event", req.EventAddress).
		Str("buyer", req.BuyerAddress).
		Str("settlement_tx", settlement.Transaction).
		Str("mint_tx", mint.TxHash).
		Str("ticket", mint.TicketAddress).
		Msg("ticket purchased")

	return &PurchaseResponse{
		Success: true,
		Message: "Ticket purchased successfully",
		Ticket: TicketView{
			Address:      mint.TicketAddress,
			EventAddress: req.EventAddress,
			Owner:        req.BuyerAddress,
			QRHash:       mint.QRHash,
		},
		Payment: PaymentView{
			TxHash:  settlement.Transaction,
			Amount:  outcome.Amount,
			Network: settlement.Network,
		},
		SettlementTx: TxRef{Hash: settlement.Transaction},
		MintTx:       TxRef{Hash: mint.TxHash},
	}, nil
}

// PurchaseFree mints a ticket for a zero-price event. A priced event returns a 402 whose
// Details carry the price.
func (o *PurchaseOrchestrator) PurchaseFree(ctx context.Context, req PurchaseRequest) (*FreePurchaseResponse, error) {
	if strings.TrimSpace(req.BuyerAddress) == "" {
		return nil, &PaymentError{
			Code:    ErrCodeBuyerRequired,
			Message: "Buyer address required",
			Err:     ErrBuyerRequired,
		}
	}

	price := o.oracle.GetPrice(ctx, req.EventAddress)
	if !price.IsZero() {
		return nil, &PaymentError{
			Code:    ErrCodePaymentRequired,
			Message: "Payment required",
			Details: map[string]interface{}{"price": price},
		}
	}

	return o.mintFree(ctx, req)
}

func (o *PurchaseOrchestrator) mintFree(ctx context.Context, req PurchaseRequest) (*FreePurchaseResponse, error) {
	mint, err := o.minter.Mint(ctx, req.EventAddress, req.BuyerAddress, FreeMintProof)
	if err != nil {
		o.logger.Error().Err(err).Str("event", req.EventAddress).Str("buyer", req.BuyerAddress).Msg("free mint failed")
		return nil, &PaymentError{
			Code:    mintErrorCode(err),
			Message: "Error creating ticket",
			Err:     err,
		}
	}
	return &FreePurchaseResponse{
		Success: true,
		Ticket: TicketView{
			Address:      mint.TicketAddress,
			EventAddress: req.EventAddress,
			Owner:        req.BuyerAddress,
			QRHash:       mint.QRHash,
		},
		TxHash: mint.TxHash,
	}, nil
}

// mintFailure builds the error for a mint that failed after settlement. The settlement tx is
// always carried back to the caller and, when a recorder is configured, stored for reconciliation.
func (o *PurchaseOrchestrator) mintFailure(ctx context.Context, req PurchaseRequest, outcome *PaymentOutcome, cause error) error {
	settlement := outcome.Settlement

	o.logger.Error().
		Err(cause).
		Str("event", req.EventAddress).
		Str("buyer", req.BuyerAddress).
		Str("settlement_tx", settlement.Transaction).
		Msg("mint failed after settlement")

	if !outcome.Bypassed {
		o.record(ctx, OrphanedSettlement{
			EventAddress: req.EventAddress,
			Buyer:        req.BuyerAddress,
			Payer:        outcome.Payer,
			Amount:       outcome.Amount.String(),
			Network:      settlement.Network,
			SettlementTx: settlement.Transaction,
			Error:        cause.Error(),
		})
	}

	return &PaymentError{
		Code:         mintErrorCode(cause),
		Message:      "Error creating ticket",
		SettlementTx: settlement.Transaction,
		Details: map[string]interface{}{
			"settlementTx": settlement.Transaction,
			"payer":        outcome.Payer,
		},
		Err: cause,
	}
}

// settlementFailure records a broadcast transfer whose confirmation timed out. It may still
// confirm, charging the buyer without a ticket. Reverted transfers moved nothing.
func (o *PurchaseOrchestrator) settlementFailure(ctx context.Context, req PurchaseRequest, quote *PriceQuote, err error) {
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.SettlementTx == "" || paymentErr.Code != ErrCodeSettlementTimeout {
		return
	}

	payer, _ := paymentErr.Details["payer"].(string)
	network := o.network
	var settleErr *SettleError
	if errors.As(err, &settleErr) && settleErr.Network != "" {
		network = settleErr.Network
	}

	o.record(ctx, OrphanedSettlement{
		EventAddress: req.EventAddress,
		Buyer:        req.BuyerAddress,
		Payer:        payer,
		Amount:       quote.Amount.String(),
		Network:      network,
		SettlementTx: paymentErr.SettlementTx,
		Error:        paymentErr.Err.Error(),
	})
}

// record stores entry for reconciliation. Failing to record must not replace the error
// returned to the caller.
func (o *PurchaseOrchestrator) record(ctx context.Context, entry OrphanedSettlement) {
	if o.recorder == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = o.now().Unix()

	if err := o.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Error().
			Err(err).
			Str("settlement_tx", entry.SettlementTx).
			Msg("failed to record orphaned settlement")
	}
}

func mintErrorCode(err error) string {
	if errors.Is(err, ErrMintTimeout) {
		return ErrCodeMintTimeout
	}
	return ErrCodeMintFailed
}
