package move

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	x402move "github.com/ticketchain/x402-tickets/mechanisms/move"
)

const (
	// DefaultMaxGasAmount caps gas units for submitted transactions
	DefaultMaxGasAmount = 200000

	// DefaultExpiration is how long a submitted transaction stays valid
	DefaultExpiration = 60 * time.Second

	// DefaultPollInterval is the delay between committed-transaction lookups
	DefaultPollInterval = time.Second

	// ed25519SchemeID is the authentication key scheme byte for single Ed25519 keys
	ed25519SchemeID = 0x00

	privateKeyPrefix = "ed25519-priv-"
)

// APIError is a non-2xx response from the fullnode
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("fullnode returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("fullnode returned %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the fullnode answered 404
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client is a fullnode REST client implementing x402move.ViewClient. Created with a
// processor key it also implements x402move.ProcessorSigner.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	privateKey   ed25519.PrivateKey
	address      string
	maxGas       uint64
	pollInterval time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient overrides http.DefaultClient
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithProcessorKey sets the custodial key used to sign entry function transactions.
// The key is a hex Ed25519 seed, optionally prefixed with "ed25519-priv-" and/or "0x".
func WithProcessorKey(privateKeyHex string) ClientOption {
	return func(c *Client) {
		c.privateKey, c.address = nil, ""
		if key, err := ParsePrivateKey(privateKeyHex); err == nil {
			c.privateKey = key
			c.address = AccountAddress(key.Public().(ed25519.PublicKey))
		}
	}
}

// WithMaxGasAmount overrides DefaultMaxGasAmount
func WithMaxGasAmount(maxGas uint64) ClientOption {
	return func(c *Client) {
		if maxGas > 0 {
			c.maxGas = maxGas
		}
	}
}

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the fullnode at baseURL (e.g. https://testnet.movementnetwork.xyz/v1)
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   http.DefaultClient,
		maxGas:       DefaultMaxGasAmount,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewProcessorClient creates a signing client. It fails when the key cannot be parsed;
// the error never contains key material.
func NewProcessorClient(baseURL string, privateKeyHex string, opts ...ClientOption) (*Client, error) {
	if _, err := ParsePrivateKey(privateKeyHex); err != nil {
		return nil, err
	}
	return NewClient(baseURL, append(opts, WithProcessorKey(privateKeyHex))...), nil
}

// ParsePrivateKey parses a hex Ed25519 seed
func ParsePrivateKey(privateKeyHex string) (ed25519.PrivateKey, error) {
	s := strings.TrimSpace(privateKeyHex)
	s = strings.TrimPrefix(s, privateKeyPrefix)
	s = strings.TrimPrefix(s, "0x")

	seed, err := hex.DecodeString(s)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid processor private key: expected 32-byte hex Ed25519 seed")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// AccountAddress derives the account address of a single Ed25519 key: sha3-256(pubkey || 0x00)
func AccountAddress(publicKey ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(publicKey)
	h.Write([]byte{ed25519SchemeID})
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Address returns the processor account address, or "" for a read-only client
func (c *Client) Address() string {
	return c.address
}

// View calls a view function and returns its positional results
func (c *Client) View(ctx context.Context, req x402move.ViewRequest) ([]json.RawMessage, error) {
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []interface{}{}
	}

	var values []json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/view", req, &values); err != nil {
		return nil, fmt.Errorf("view %s: %w", req.Function, err)
	}
	return values, nil
}

type accountResponse struct {
	SequenceNumber string `json:"sequence_number"`
}

type gasEstimate struct {
	GasEstimate uint64 `json:"gas_estimate"`
}

type transactionSignature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type transactionRequest struct {
	Sender                  string                        `json:"sender"`
	SequenceNumber          string                        `json:"sequence_number"`
	MaxGasAmount            string                        `json:"max_gas_amount"`
	GasUnitPrice            string                        `json:"gas_unit_price"`
	ExpirationTimestampSecs string                        `json:"expiration_timestamp_secs"`
	Payload                 x402move.EntryFunctionPayload `json:"payload"`
	Signature               *transactionSignature         `json:"signature,omitempty"`
}

// SubmitEntryFunction builds, signs and submits the payload from the processor account
func (c *Client) SubmitEntryFunction(ctx context.Context, payload x402move.EntryFunctionPayload) (string, error) {
	if c.privateKey == nil {
		return "", errors.New("processor key not configured")
	}

	var account accountResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.address, nil, &account); err != nil {
		return "", fmt.Errorf("failed to get processor account: %w", err)
	}

	var gas gasEstimate
	if err := c.do(ctx, http.MethodGet, "/estimate_gas_price", nil, &gas); err != nil {
		return "", fmt.Errorf("failed to estimate gas price: %w", err)
	}

	txReq := transactionRequest{
		Sender:                  c.address,
		SequenceNumber:          account.SequenceNumber,
		MaxGasAmount:            strconv.FormatUint(c.maxGas, 10),
		GasUnitPrice:            strconv.FormatUint(gas.GasEstimate, 10),
		ExpirationTimestampSecs: strconv.FormatInt(c.now().Add(DefaultExpiration).Unix(), 10),
		Payload:                 payload,
	}

	var signingMessage string
	if err := c.do(ctx, http.MethodPost, "/transactions/encode_submission", txReq, &signingMessage); err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	message, err := hex.DecodeString(strings.TrimPrefix(signingMessage, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signing message: %w", err)
	}

	txReq.Signature = &transactionSignature{
		Type:      "ed25519_signature",
		PublicKey: "0x" + hex.EncodeToString(c.privateKey.Public().(ed25519.PublicKey)),
		Signature: "0x" + hex.EncodeToString(ed25519.Sign(c.privateKey, message)),
	}

	var pending x402move.Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions", txReq, &pending); err != nil {
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}
	if pending.Hash == "" {
		return "", errors.New("fullnode returned no transaction hash")
	}

	c.logger.Debug().
		Str("tx", pending.Hash).
		Str("function", payload.Function).
		Str("sequence", account.SequenceNumber).
		Msg("transaction submitted")

	return pending.Hash, nil
}

// WaitForTransaction polls until the transaction leaves the mempool or ctx is done
func (c *Client) WaitForTransaction(ctx context.Context, txHash string) (*x402move.Transaction, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var tx x402move.Transaction
		err := c.do(ctx, http.MethodGet, "/transactions/by_hash/"+txHash, nil, &tx)
		switch {
		case err == nil && !tx.Pending():
			return &tx, nil
		case err != nil:
			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.NotFound() {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("transaction %s not committed: %w", txHash, ctx.Err())
				}
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not committed: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
