package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"

	x402 "github.com/ticketchain/x402-tickets"
	"github.com/ticketchain/x402-tickets/mechanisms/evm"
	evmsigner "github.com/ticketchain/x402-tickets/signers/evm"
)

// PaymentClient answers 402 challenges by signing a TransferWithAuthorization for the
// challenged amount and retrying the request with the X-Payment header.
type PaymentClient struct {
	signer evm.TypedDataSigner
	domain evm.TypedDataDomain
}

// NewPaymentClient creates a buyer-side client signing under the token domain
func NewPaymentClient(signer evm.TypedDataSigner, domain evm.TypedDataDomain) *PaymentClient {
	return &PaymentClient{signer: signer, domain: domain}
}

// CreatePaymentHeader signs an authorization satisfying the challenge
func (c *PaymentClient) CreatePaymentHeader(ctx context.Context, challenge *x402.PaymentRequired) (string, error) {
	instructions := challenge.PaymentDetails.PaymentInstructions
	if instructions.ChainID != c.domain.ChainID.Int64() {
		return "", fmt.Errorf("challenge requires chain %d, signer is configured for %s", instructions.ChainID, c.domain.ChainID)
	}
	if !x402.SameAddress(instructions.Token, c.domain.VerifyingContract) {
		return "", fmt.Errorf("challenge requires token %s, signer is configured for %s", instructions.Token, c.domain.VerifyingContract)
	}

	value, ok := new(big.Int).SetString(instructions.Amount, 10)
	if !ok {
		return "", fmt.Errorf("invalid challenge amount: %q", instructions.Amount)
	}

	auth, err := evmsigner.SignAuthorization(ctx, c.signer, c.domain, evmsigner.AuthorizationRequest{
		To:    instructions.Recipient,
		Value: value,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	return x402.EncodePaymentHeader(auth)
}

// WrapHTTPClientWithPayment wraps an HTTP client's transport with automatic 402 handling
func WrapHTTPClientWithPayment(client *http.Client, paymentClient *PaymentClient) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport:     originalTransport,
		paymentClient: paymentClient,
		retryCount:    &sync.Map{},
	}
	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling
type PaymentRoundTripper struct {
	Transport     http.RoundTripper
	paymentClient *PaymentClient
	retryCount    *sync.Map // Track retry count per request to prevent infinite loops
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := fmt.Sprintf("%p", req)
	count, _ := t.retryCount.LoadOrStore(requestID, 0)
	retries := count.(int)
	defer t.retryCount.Delete(requestID)

	if retries > 1 {
		return nil, fmt.Errorf("payment retry limit exceeded")
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Requests that already carry a payment are never paid twice
	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(x402.PaymentHeader) != "" {
		return resp, nil
	}

	t.retryCount.Store(requestID, retries+1)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	var challenge x402.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	if challenge.PaymentDetails.PaymentInstructions.Amount == "" {
		return nil, fmt.Errorf("402 response carries no payment instructions: %s", strings.TrimSpace(string(body)))
	}

	ctx := req.Context()
	header, err := t.paymentClient.CreatePaymentHeader(ctx, &challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	paymentReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
	}
	paymentReq.Header.Set(x402.PaymentHeader, header)

	return t.Transport.RoundTrip(paymentReq)
}
