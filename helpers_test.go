package x402_test

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	x402 "github.com/ticketchain/x402-tickets"
	"github.com/ticketchain/x402-tickets/mechanisms/evm"
	evmsigner "github.com/ticketchain/x402-tickets/signers/evm"
)

const (
	testReceiver = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testEvent    = "0xe1"
	testBuyer    = "0xb0"
)

var (
	testNow    = time.Unix(1750000000, 0)
	testDomain = evm.NetworkConfigs["base-sepolia"].Domain()
)

type staticOracle struct {
	price decimal.Decimal
}

func (o staticOracle) GetPrice(ctx context.Context, eventAddress string) decimal.Decimal {
	return o.price
}

type recordingSettler struct {
	mu    sync.Mutex
	auths []*x402.PaymentAuthorization
	err   error
}

func (s *recordingSettler) Settle(ctx context.Context, auth *x402.PaymentAuthorization) (*x402.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths = append(s.auths, auth)
	if s.err != nil {
		return nil, s.err
	}
	return &x402.SettlementResult{Success: true, Transaction: "0xsettle", Network: "base-sepolia", Payer: auth.From}, nil
}

func (s *recordingSettler) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auths)
}

type recordingMinter struct {
	proofs []string
	err    error
}

func (m *recordingMinter) Mint(ctx context.Context, eventAddress, buyerAddress, settlementTx string) (*x402.MintResult, error) {
	m.proofs = append(m.proofs, settlementTx)
	if m.err != nil {
		return nil, m.err
	}
	return &x402.MintResult{Success: true, TxHash: "0xmint", TicketAddress: "0xticket", QRHash: "ab12", Buyer: buyerAddress}, nil
}

type memoryRecorder struct {
	entries []x402.OrphanedSettlement
	err     error
}

func (r *memoryRecorder) Record(ctx context.Context, entry x402.OrphanedSettlement) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

// countingVerifier counts verification attempts
type countingVerifier struct {
	inner x402.AuthorizationVerifier
	calls int
}

func (v *countingVerifier) VerifyAuthorization(ctx context.Context, auth *x402.PaymentAuthorization) (bool, error) {
	v.calls++
	if v.inner == nil {
		return false, errors.New("no verifier")
	}
	return v.inner.VerifyAuthorization(ctx, auth)
}

type buyer struct {
	signer *evmsigner.ClientSigner
}

func newBuyer(t *testing.T) *buyer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &buyer{signer: evmsigner.NewClientSigner(key)}
}

// authorize signs a one-dollar authorization to testReceiver valid for an hour from testNow.
// mutate runs before signing so the signature covers the modified fields.
func (b *buyer) authorize(t *testing.T, mutate func(*x402.PaymentAuthorization)) *x402.PaymentAuthorization {
	t.Helper()
	auth := &x402.PaymentAuthorization{
		From:        b.signer.Address(),
		To:          testReceiver,
		Value:       big.NewInt(1000000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(testNow.Unix() + 3600),
		ChainID:     big.NewInt(84532),
	}
	_, err := rand.Read(auth.Nonce[:])
	require.NoError(t, err)
	if mutate != nil {
		mutate(auth)
	}

	types, message := evm.TransferWithAuthorizationMessage(auth)
	auth.Signature, err = b.signer.SignTypedData(context.Background(), testDomain, types, evm.PrimaryTypeTransferWithAuthorization, message)
	require.NoError(t, err)
	return auth
}

func (b *buyer) header(t *testing.T, mutate func(*x402.PaymentAuthorization)) string {
	t.Helper()
	header, err := x402.EncodePaymentHeader(b.authorize(t, mutate))
	require.NoError(t, err)
	return header
}

func gateConfig() x402.GateConfig {
	return x402.GateConfig{
		Network:  "base-sepolia",
		ChainID:  84532,
		Token:    testDomain.VerifyingContract,
		Receiver: testReceiver,
		Decimals: evm.DefaultDecimals,
	}
}

func newGate(t *testing.T, price string, settler x402.Settler) *x402.PaymentGate {
	t.Helper()
	gate, err := x402.NewPaymentGate(
		gateConfig(),
		staticOracle{price: decimal.RequireFromString(price)},
		evm.NewEIP3009Verifier(testDomain),
		settler,
		x402.WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return gate
}
