package x402

import (
	"errors"
	"fmt"
	"net/http"
)

// PaymentError represents a purchase-flow error with a stable code.
// SettlementTx is set whenever a transfer was broadcast on-chain so the
// caller can reconcile; Challenge is set for 402 responses.
type PaymentError struct {
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	SettlementTx string                 `json:"settlementTx,omitempty"`
	Challenge    *PaymentRequired       `json:"-"`
	Err          error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// SettleError is returned by a Settler that failed after its transfer was broadcast.
// Transaction is the broadcast hash; the transfer may still confirm later.
type SettleError struct {
	Transaction string
	Network     string
	Err         error
}

// NewSettleError wraps err with the hash of the broadcast transfer
func NewSettleError(txHash, network string, err error) *SettleError {
	return &SettleError{Transaction: txHash, Network: network, Err: err}
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("settlement %s on %s: %v", e.Transaction, e.Network, e.Err)
}

func (e *SettleError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to the HTTP status returned to clients
func (e *PaymentError) StatusCode() int {
	switch e.Code {
	case ErrCodeBuyerRequired:
		return http.StatusBadRequest
	case ErrCodePaymentRequired, ErrCodeInvalidPayment:
		return http.StatusPaymentRequired
	case ErrCodeEventNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error codes
const (
	ErrCodeBuyerRequired     = "buyer_address_required"
	ErrCodePaymentRequired   = "payment_required"
	ErrCodeInvalidPayment    = "invalid_payment"
	ErrCodeEventNotFound     = "event_not_found"
	ErrCodeSettlementFailed  = "settlement_failed"
	ErrCodeSettlementTimeout = "settlement_timeout"
	ErrCodeMintFailed        = "mint_failed"
	ErrCodeMintTimeout       = "mint_timeout"
)

// Rejection reasons for a present but invalid authorization, checked in this order
const (
	ReasonMalformedPayment  = "malformed_payment_format"
	ReasonInvalidChainID    = "invalid_chain_id"
	ReasonExpired           = "authorization_expired"
	ReasonNotYetValid       = "authorization_not_yet_valid"
	ReasonInsufficientValue = "insufficient_amount"
	ReasonInvalidRecipient  = "invalid_recipient"
	ReasonInvalidSignature  = "invalid_signature"
)

var reasonMessages = map[string]string{
	ReasonMalformedPayment:  "Malformed payment format",
	ReasonInvalidChainID:    "Invalid chain ID",
	ReasonExpired:           "Authorization expired",
	ReasonNotYetValid:       "Authorization not yet valid",
	ReasonInsufficientValue: "Insufficient amount",
	ReasonInvalidRecipient:  "Invalid recipient",
	ReasonInvalidSignature:  "Invalid signature",
}

// ReasonMessage returns the human-readable message for a rejection reason
func ReasonMessage(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reason
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Sentinel errors shared with the chain mechanisms so callers can classify failures with errors.Is
var (
	ErrSettlementTimeout = errors.New("settlement timed out")
	ErrMintTimeout       = errors.New("mint timed out")
	ErrBuyerRequired     = errors.New("buyer address required")
)
