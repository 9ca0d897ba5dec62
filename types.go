package x402

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Scheme is the payment scheme identifier advertised in 402 challenges
const Scheme = "x402"

// PaymentAuthorization is a buyer's signed EIP-3009 TransferWithAuthorization.
// It lives for a single request: decoded from the X-Payment header and discarded after use.
// Nonces are not tracked locally; the token contract is the source of truth for consumed nonces.
type PaymentAuthorization struct {
	From        string
	To          string
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	Signature   []byte
	ChainID     *big.Int
}

// AuthorizationPayload is the wire form of PaymentAuthorization carried in the X-Payment header.
// Every numeric field is a decimal string so no precision is lost in transit.
type AuthorizationPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`     // 32-byte nonce as 0x-prefixed hex
	Signature   string `json:"signature"` // 65-byte r||s||v as 0x-prefixed hex
	ChainID     string `json:"chainId"`
}

// PaymentInstructions are the rail-specific details a client needs to sign an authorization
type PaymentInstructions struct {
	ChainID   int64  `json:"chainId"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"` // atomic units
}

// PriceQuote is computed per request and never persisted
type PriceQuote struct {
	ResourceID   string
	Amount       decimal.Decimal // reference currency
	AtomicAmount *big.Int        // token smallest unit
	Currency     string
	Instructions PaymentInstructions
}

// IsFree reports whether the quoted price is zero
func (q *PriceQuote) IsFree() bool {
	return q.Amount.IsZero()
}

// PaymentDetails is the body of a 402 challenge
type PaymentDetails struct {
	Scheme              string              `json:"scheme"`
	Network             string              `json:"network"`
	Receiver            string              `json:"receiver"`
	Amount              string              `json:"amount"`
	Currency            string              `json:"currency"`
	EventAddress        string              `json:"eventAddress"`
	Description         string              `json:"description"`
	PaymentInstructions PaymentInstructions `json:"paymentInstructions"`
}

// PaymentRequired is the 402 response sent to clients without a payment header
type PaymentRequired struct {
	Error          string         `json:"error"`
	Message        string         `json:"message,omitempty"`
	Code           string         `json:"code,omitempty"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
}

// SettlementResult is the outcome of executing a verified authorization on-chain.
// It is a precondition record for minting and is not persisted independently.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// MintResult is the outcome of the fulfillment step and the only external proof of fulfillment.
// TicketAddress is empty when the purchase event was not found in the committed transaction.
type MintResult struct {
	Success       bool   `json:"success"`
	TxHash        string `json:"txHash"`
	TicketAddress string `json:"ticketAddress,omitempty"`
	QRHash        string `json:"qrHash"`
	Buyer         string `json:"buyer"`
}

// EventInfo describes a ticketed event as stored by the ticketing contract
type EventInfo struct {
	Name             string          `json:"name"`
	AdminRegistry    string          `json:"adminRegistry"`
	TotalTickets     uint64          `json:"totalTickets"`
	TicketsSold      uint64          `json:"ticketsSold"`
	TicketPrice      decimal.Decimal `json:"ticketPrice"`
	IsActive         bool            `json:"isActive"`
	IsCancelled      bool            `json:"isCancelled"`
	Transferable     bool            `json:"transferable"`
	Resalable        bool            `json:"resalable"`
	Permanent        bool            `json:"permanent"`
	Refundable       bool            `json:"refundable"`
	PaymentProcessor string          `json:"paymentProcessor"`
}

// Remaining returns the number of tickets still available
func (e *EventInfo) Remaining() uint64 {
	if e.TicketsSold >= e.TotalTickets {
		return 0
	}
	return e.TotalTickets - e.TicketsSold
}

// OrphanedSettlement records a payment that settled without a ticket being minted
type OrphanedSettlement struct {
	ID           string `json:"id"`
	EventAddress string `json:"eventAddress"`
	Buyer        string `json:"buyer"`
	Payer        string `json:"payer"`
	Amount       string `json:"amount"`
	Network      string `json:"network"`
	SettlementTx string `json:"settlementTx"`
	Error        string `json:"error"`
	CreatedAt    int64  `json:"createdAt"`
}

// SameAddress compares two hex account identifiers case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
