package move

import (
	"context"
	"encoding/json"
)

// Transaction payload and status values used by the fullnode REST API
const (
	PayloadTypeEntryFunction = "entry_function_payload"
	TxTypePending            = "pending_transaction"
	TxTypeUser               = "user_transaction"
)

// EntryFunctionPayload calls a public entry function
type EntryFunctionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// NewEntryFunctionPayload builds an entry function payload without type arguments
func NewEntryFunctionPayload(function string, args ...interface{}) EntryFunctionPayload {
	return EntryFunctionPayload{
		Type:          PayloadTypeEntryFunction,
		Function:      function,
		TypeArguments: []string{},
		Arguments:     args,
	}
}

// ViewRequest calls a #[view] function
type ViewRequest struct {
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// Event is an event emitted by a committed transaction
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Transaction is a transaction as returned by the fullnode
type Transaction struct {
	Type     string  `json:"type"`
	Hash     string  `json:"hash"`
	Version  string  `json:"version,omitempty"`
	Success  bool    `json:"success"`
	VMStatus string  `json:"vm_status,omitempty"`
	Events   []Event `json:"events,omitempty"`
}

// Pending reports whether the transaction has not been committed yet
func (t *Transaction) Pending() bool {
	return t.Type == TxTypePending
}

// ViewClient reads contract state through view functions
type ViewClient interface {
	View(ctx context.Context, req ViewRequest) ([]json.RawMessage, error)
}

// ProcessorSigner submits entry functions from the custodial processor account
type ProcessorSigner interface {
	// Address returns the processor's account address
	Address() string

	// SubmitEntryFunction builds, signs and submits the payload, returning the transaction hash
	SubmitEntryFunction(ctx context.Context, payload EntryFunctionPayload) (string, error)

	// WaitForTransaction blocks until the transaction is committed or ctx is done
	WaitForTransaction(ctx context.Context, txHash string) (*Transaction, error)
}
