package x402

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentPolicy selects how the gate treats incoming authorizations.
// PolicyBypassForTesting accepts every request without settling on-chain and
// can only be constructed for non-production gates.
type PaymentPolicy int

const (
	PolicyEnforce PaymentPolicy = iota
	PolicyBypassForTesting
)

func (p PaymentPolicy) String() string {
	switch p {
	case PolicyEnforce:
		return "enforce"
	case PolicyBypassForTesting:
		return "bypass-for-testing"
	default:
		return fmt.Sprintf("PaymentPolicy(%d)", int(p))
	}
}

// ErrBypassInProduction is returned when a bypass gate is requested for a production environment
var ErrBypassInProduction = errors.New("payment bypass is not allowed in production")

// GateState is the terminal state a request reaches in the gate
type GateState int

const (
	// StateQuoteIssued means no payment header was present and a 402 challenge was produced
	StateQuoteIssued GateState = iota
	// StateValid means the authorization was verified and settled
	StateValid
	// StateInvalid means the authorization failed one of the ordered checks
	StateInvalid
)

func (s GateState) String() string {
	switch s {
	case StateQuoteIssued:
		return "QUOTE_ISSUED"
	case StateValid:
		return "VALID"
	case StateInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("GateState(%d)", int(s))
	}
}

// GateConfig is the immutable payment-rail configuration of the gate
type GateConfig struct {
	Network    string // human network name advertised in challenges, e.g. "base-sepolia"
	ChainID    int64  // single supported settlement chain
	Token      string // token contract address
	Receiver   string // payee address
	Decimals   int32  // token decimals used to scale quotes into atomic units
	Currency   string
	Policy     PaymentPolicy
	Production bool
}

// PaymentOutcome is the result of running a request through the gate
type PaymentOutcome struct {
	State      GateState
	Quote      *PriceQuote
	Challenge  *PaymentRequired
	Reason     string
	Message    string
	Settlement *SettlementResult
	Payer      string
	Amount     decimal.Decimal
	Bypassed   bool
}

// PaymentGate orchestrates the 402 challenge/response cycle
type PaymentGate struct {
	config   GateConfig
	oracle   PriceOracle
	verifier AuthorizationVerifier
	settler  Settler
	now      func() time.Time
	logger   zerolog.Logger
}

// GateOption configures a PaymentGate
type GateOption func(*PaymentGate)

// WithClock overrides the time source used for validity checks
func WithClock(now func() time.Time) GateOption {
	return func(g *PaymentGate) {
		g.now = now
	}
}

// WithGateLogger sets the gate logger
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *PaymentGate) {
		g.logger = logger
	}
}

// NewPaymentGate creates a gate. The bypass policy is refused for production configurations,
// and the enforcing policy requires both a verifier and a settler.
func NewPaymentGate(config GateConfig, oracle PriceOracle, verifier AuthorizationVerifier, settler Settler, opts ...GateOption) (*PaymentGate, error) {
	if oracle == nil {
		return nil, errors.New("price oracle is required")
	}
	if config.Receiver == "" {
		return nil, errors.New("receiver address is required")
	}
	if config.Currency == "" {
		config.Currency = "USDC"
	}

	switch config.Policy {
	case PolicyEnforce:
		if verifier == nil || settler == nil {
			return nil, errors.New("enforcing gate requires a signature verifier and a settler")
		}
	case PolicyBypassForTesting:
		if config.Production {
			return nil, ErrBypassInProduction
		}
	default:
		return nil, fmt.Errorf("unknown payment policy: %v", config.Policy)
	}

	g := &PaymentGate{
		config:   config,
		oracle:   oracle,
		verifier: verifier,
		settler:  settler,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if config.Policy == PolicyBypassForTesting {
		g.logger.Warn().
			Str("policy", config.Policy.String()).
			Msg("payment bypass enabled: authorizations are accepted without on-chain settlement")
	}
	return g, nil
}

// Policy returns the gate's payment policy
func (g *PaymentGate) Policy() PaymentPolicy {
	return g.config.Policy
}

// Quote prices an event. It never fails; the oracle falls back to a default price.
func (g *PaymentGate) Quote(ctx context.Context, eventAddress string) *PriceQuote {
	amount := g.oracle.GetPrice(ctx, eventAddress)
	atomic := ToAtomicUnits(amount, g.config.Decimals)

	return &PriceQuote{
		ResourceID:   eventAddress,
		Amount:       amount,
		AtomicAmount: atomic,
		Currency:     g.config.Currency,
		Instructions: PaymentInstructions{
			ChainID:   g.config.ChainID,
			Token:     g.config.Token,
			Recipient: g.config.Receiver,
			Amount:    atomic.String(),
		},
	}
}

// Challenge builds the 402 body for a quote
func (g *PaymentGate) Challenge(quote *PriceQuote) *PaymentRequired {
	return &PaymentRequired{
		Error: "Payment Required",
		PaymentDetails: PaymentDetails{
			Scheme:              Scheme,
			Network:             g.config.Network,
			Receiver:            g.config.Receiver,
			Amount:              quote.Amount.String(),
			Currency:            quote.Currency,
			EventAddress:        quote.ResourceID,
			Description:         fmt.Sprintf("Ticket purchase for event %s", quote.ResourceID),
			PaymentInstructions: quote.Instructions,
		},
	}
}

// Process quotes the event and verifies the payment header against that quote
func (g *PaymentGate) Process(ctx context.Context, eventAddress string, header string) (*PaymentOutcome, error) {
	return g.Verify(ctx, g.Quote(ctx, eventAddress), header)
}

// Verify runs the state machine for a request carrying (or missing) a payment header.
//
// Returns:
//
//	StateQuoteIssued with a challenge when no header is present
//	StateInvalid with the first failing reason
//	StateValid with the settlement result once the transfer is confirmed
//	error only when settlement itself fails
func (g *PaymentGate) Verify(ctx context.Context, quote *PriceQuote, header string) (*PaymentOutcome, error) {
	if g.config.Policy == PolicyBypassForTesting {
		return g.bypass(quote, header), nil
	}

	if strings.TrimSpace(header) == "" {
		g.logger.Debug().Str("event", quote.ResourceID).Msg("no payment header, issuing quote")
		return &PaymentOutcome{
			State:     StateQuoteIssued,
			Quote:     quote,
			Challenge: g.Challenge(quote),
			Amount:    quote.Amount,
		}, nil
	}

	auth, err := DecodePaymentHeader(header)
	if err != nil {
		g.logger.Info().Err(err).Str("event", quote.ResourceID).Msg("payment header rejected")
		return g.invalid(quote, ReasonMalformedPayment), nil
	}

	if reason := g.check(ctx, auth, quote); reason != "" {
		g.logger.Info().
			Str("event", quote.ResourceID).
			Str("payer", auth.From).
			Str("reason", reason).
			Msg("payment authorization rejected")
		return g.invalid(quote, reason), nil
	}

	g.logger.Info().
		Str("event", quote.ResourceID).
		Str("payer", auth.From).
		Str("value", auth.Value.String()).
		Msg("authorization verified, settling")

	// Settlement outlives the client request; the settler bounds the wait with its own timeout
	settlement, err := g.settler.Settle(context.WithoutCancel(ctx), auth)
	if err != nil {
		code := ErrCodeSettlementFailed
		if errors.Is(err, ErrSettlementTimeout) {
			code = ErrCodeSettlementTimeout
		}
		paymentErr := &PaymentError{
			Code:    code,
			Message: "Payment settlement failed",
			Details: map[string]interface{}{"payer": auth.From},
			Err:     err,
		}
		var settleErr *SettleError
		if errors.As(err, &settleErr) {
			paymentErr.SettlementTx = settleErr.Transaction
			paymentErr.Details["settlementTx"] = settleErr.Transaction
		}
		return nil, paymentErr
	}

	return &PaymentOutcome{
		State:      StateValid,
		Quote:      quote,
		Settlement: settlement,
		Payer:      auth.From,
		Amount:     quote.Amount,
	}, nil
}

// check applies the ordered validations and returns the first failing reason, or "" when valid
func (g *PaymentGate) check(ctx context.Context, auth *PaymentAuthorization, quote *PriceQuote) string {
	if auth.ChainID.Cmp(big.NewInt(g.config.ChainID)) != 0 {
		return ReasonInvalidChainID
	}

	now := big.NewInt(g.now().Unix())
	if now.Cmp(auth.ValidBefore) >= 0 {
		return ReasonExpired
	}
	if now.Cmp(auth.ValidAfter) < 0 {
		return ReasonNotYetValid
	}

	if auth.Value.Cmp(quote.AtomicAmount) < 0 {
		return ReasonInsufficientValue
	}

	if !SameAddress(auth.To, g.config.Receiver) {
		return ReasonInvalidRecipient
	}

	valid, err := g.verifier.VerifyAuthorization(ctx, auth)
	if err != nil {
		g.logger.Info().Err(err).Str("payer", auth.From).Msg("signature could not be verified")
		return ReasonInvalidSignature
	}
	if !valid {
		return ReasonInvalidSignature
	}
	return ""
}

func (g *PaymentGate) invalid(quote *PriceQuote, reason string) *PaymentOutcome {
	challenge := g.Challenge(quote)
	challenge.Error = "Invalid Payment"
	challenge.Message = ReasonMessage(reason)
	challenge.Code = reason

	return &PaymentOutcome{
		State:     StateInvalid,
		Quote:     quote,
		Challenge: challenge,
		Reason:    reason,
		Message:   ReasonMessage(reason),
		Amount:    quote.Amount,
	}
}

// bypass accepts any request with a synthetic settlement. The payer is taken from the
// header when it decodes.
func (g *PaymentGate) bypass(quote *PriceQuote, header string) *PaymentOutcome {
	payer := "bypass-user"
	if auth, err := DecodePaymentHeader(header); err == nil {
		payer = auth.From
	}
	txID := "bypass-" + uuid.NewString()

	g.logger.Warn().
		Str("event", quote.ResourceID).
		Str("payer", payer).
		Str("tx", txID).
		Msg("payment bypassed, no on-chain settlement")

	return &PaymentOutcome{
		State: StateValid,
		Quote: quote,
		Settlement: &SettlementResult{
			Success:     true,
			Transaction: txID,
			Network:     g.config.Network,
			Payer:       payer,
		},
		Payer:    payer,
		Amount:   quote.Amount,
		Bypassed: true,
	}
}

// ToAtomicUnits scales a reference-currency amount into token atomic units, truncating
// any precision below one atomic unit
func ToAtomicUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Floor().BigInt()
}

// FromAtomicUnits converts token atomic units back into the reference currency
func FromAtomicUnits(atomic *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(atomic, -decimals)
}
