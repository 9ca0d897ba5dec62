package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/ticketchain/x402-tickets"
	"github.com/ticketchain/x402-tickets/mechanisms/evm"
	evmsigner "github.com/ticketchain/x402-tickets/signers/evm"
)

const (
	testReceiver = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testBuyer    = "0x00000000000000000000000000000000000000000000000000000000000000b0"
	pricedEvent  = "0xe1"
	freeEvent    = "0xe2"
)

type fakeOracle struct {
	prices map[string]decimal.Decimal
}

func (o *fakeOracle) GetPrice(ctx context.Context, eventAddress string) decimal.Decimal {
	if p, ok := o.prices[eventAddress]; ok {
		return p
	}
	return decimal.NewFromInt(5)
}

type fakeCatalog struct {
	events map[string]*x402.EventInfo
}

func (c *fakeCatalog) GetEventInfo(ctx context.Context, eventAddress string) (*x402.EventInfo, error) {
	if info, ok := c.events[eventAddress]; ok {
		return info, nil
	}
	return nil, errors.New("event not found: resource does not exist")
}

type fakeSettler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSettler) Settle(ctx context.Context, auth *x402.PaymentAuthorization) (*x402.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &x402.SettlementResult{Success: true, Transaction: "0xsettle", Network: "base-sepolia", Payer: auth.From}, nil
}

type fakeMinter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *fakeMinter) Mint(ctx context.Context, eventAddress, buyerAddress, settlementTx string) (*x402.MintResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, settlementTx)
	if m.err != nil {
		return nil, m.err
	}
	return &x402.MintResult{Success: true, TxHash: "0xmint", TicketAddress: "0xticket", QRHash: "ab12", Buyer: buyerAddress}, nil
}

type fakeRecorder struct {
	entries []x402.OrphanedSettlement
}

func (r *fakeRecorder) Record(ctx context.Context, entry x402.OrphanedSettlement) error {
	r.entries = append(r.entries, entry)
	return nil
}

type testServer struct {
	router   *gin.Engine
	settler  *fakeSettler
	minter   *fakeMinter
	recorder *fakeRecorder
	domain   evm.TypedDataDomain
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	domain := evm.NetworkConfigs["base-sepolia"].Domain()
	oracle := &fakeOracle{prices: map[string]decimal.Decimal{
		pricedEvent: decimal.RequireFromString("2.5"),
		freeEvent:   decimal.Zero,
	}}
	catalog := &fakeCatalog{events: map[string]*x402.EventInfo{
		pricedEvent: {Name: "Launch Party", TotalTickets: 100, TicketsSold: 40, TicketPrice: decimal.RequireFromString("2.5"), IsActive: true},
	}}
	ts := &testServer{
		settler:  &fakeSettler{},
		minter:   &fakeMinter{},
		recorder: &fakeRecorder{},
		domain:   domain,
	}

	gate, err := x402.NewPaymentGate(x402.GateConfig{
		Network:  "base-sepolia",
		ChainID:  domain.ChainID.Int64(),
		Token:    domain.VerifyingContract,
		Receiver: testReceiver,
		Decimals: evm.DefaultDecimals,
	}, oracle, evm.NewEIP3009Verifier(domain), ts.settler)
	require.NoError(t, err)

	orchestrator := x402.NewPurchaseOrchestrator(gate, oracle, ts.minter, x402.WithRecorder(ts.recorder))
	ts.router = NewRouter(orchestrator, oracle, catalog)
	return ts
}

func (ts *testServer) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func signedHeader(t *testing.T, domain evm.TypedDataDomain, req evmsigner.AuthorizationRequest) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth, err := evmsigner.SignAuthorization(context.Background(), evmsigner.NewClientSigner(key), domain, req)
	require.NoError(t, err)
	header, err := x402.EncodePaymentHeader(auth)
	require.NoError(t, err)
	return header
}

func bigAmount(v int64) *big.Int {
	return big.NewInt(v)
}

func buyerBody() string {
	return `{"buyerAddress":"` + testBuyer + `"}`
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestGetPrice(t *testing.T) {
	ts := newTestServer(t)

	t.Run("known event", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/tickets/price/"+pricedEvent, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{
			"resourceId": "0xe1",
			"price": 2.5,
			"currency": "USD",
			"name": "Launch Party",
			"remaining": 60,
			"isActive": true
		}`, w.Body.String())
	})

	t.Run("repeated quotes are identical", func(t *testing.T) {
		first := ts.do(http.MethodGet, "/api/tickets/price/"+pricedEvent, "", nil)
		second := ts.do(http.MethodGet, "/api/tickets/price/"+pricedEvent, "", nil)
		assert.Equal(t, first.Body.String(), second.Body.String())
	})

	t.Run("unknown event", func(t *testing.T) {
		w := ts.do(http.MethodGet, "/api/tickets/price/0xdead", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Event not found")
	})
}

func TestGetEvent(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/tickets/event/"+pricedEvent, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info x402.EventInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "Launch Party", info.Name)
	assert.Equal(t, uint64(100), info.TotalTickets)

	w = ts.do(http.MethodGet, "/api/tickets/event/0xdead", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"event_not_found"`)
}

func TestPurchaseWithoutPaymentIssuesChallenge(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, buyerBody(), nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var challenge x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	assert.Equal(t, "Payment Required", challenge.Error)
	assert.Equal(t, x402.Scheme, challenge.PaymentDetails.Scheme)
	assert.Equal(t, "2.5", challenge.PaymentDetails.Amount)
	assert.Equal(t, pricedEvent, challenge.PaymentDetails.EventAddress)
	assert.Equal(t, x402.PaymentInstructions{
		ChainID:   84532,
		Token:     ts.domain.VerifyingContract,
		Recipient: testReceiver,
		Amount:    "2500000",
	}, challenge.PaymentDetails.PaymentInstructions)

	assert.Zero(t, ts.settler.calls)
	assert.Empty(t, ts.minter.calls)
}

func TestPurchaseRequiresBuyer(t *testing.T) {
	ts := newTestServer(t)
	header := signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2500000)})

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, "", map[string]string{x402.PaymentHeader: header})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, ts.settler.calls)
	assert.Empty(t, ts.minter.calls)
}

func TestPurchaseRejectsUnparseableBody(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseInvalidPayment(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header func(t *testing.T) string
		code   string
	}{
		{
			name:   "not base64",
			header: func(t *testing.T) string { return "%%%" },
			code:   x402.ReasonMalformedPayment,
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				return signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{
					To:       testReceiver,
					Value:    bigAmount(2500000),
					Now:      time.Now().Add(-2 * time.Hour),
					Validity: time.Hour,
				})
			},
			code: x402.ReasonExpired,
		},
		{
			name: "underpaid",
			header: func(t *testing.T) string {
				return signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2499999)})
			},
			code: x402.ReasonInsufficientValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, buyerBody(), map[string]string{
				x402.PaymentHeader: tt.header(t),
			})
			require.Equal(t, http.StatusPaymentRequired, w.Code)

			var challenge x402.PaymentRequired
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
			assert.Equal(t, "Invalid Payment", challenge.Error)
			assert.Equal(t, tt.code, challenge.Code)
			assert.Equal(t, x402.ReasonMessage(tt.code), challenge.Message)
			assert.Equal(t, "2500000", challenge.PaymentDetails.PaymentInstructions.Amount)
		})
	}

	assert.Zero(t, ts.settler.calls)
	assert.Empty(t, ts.minter.calls)
}

func TestPurchasePaid(t *testing.T) {
	ts := newTestServer(t)
	header := signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2500000)})

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, "", map[string]string{
		x402.PaymentHeader: header,
		BuyerHeader:        testBuyer,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp x402.PurchaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "0xticket", resp.Ticket.Address)
	assert.Equal(t, pricedEvent, resp.Ticket.EventAddress)
	assert.Equal(t, testBuyer, resp.Ticket.Owner)
	assert.Equal(t, "0xsettle", resp.Payment.TxHash)
	assert.True(t, resp.Payment.Amount.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "0xsettle", resp.SettlementTx.Hash)
	assert.Equal(t, "0xmint", resp.MintTx.Hash)

	assert.Equal(t, 1, ts.settler.calls)
	assert.Equal(t, []string{"0xsettle"}, ts.minter.calls)
}

func TestPurchaseMintFailureSurfacesSettlement(t *testing.T) {
	ts := newTestServer(t)
	ts.minter.err = errors.New("move abort: EVENT_SOLD_OUT")
	header := signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2500000)})

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, buyerBody(), map[string]string{x402.PaymentHeader: header})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Success)
	assert.False(t, *body.Success)
	assert.Equal(t, "Error creating ticket", body.Error)
	assert.Equal(t, x402.ErrCodeMintFailed, body.Code)
	assert.Equal(t, "0xsettle", body.SettlementTx)
	assert.Contains(t, body.Message, "EVENT_SOLD_OUT")

	require.Len(t, ts.recorder.entries, 1)
	assert.Equal(t, "0xsettle", ts.recorder.entries[0].SettlementTx)
}

func TestPurchaseSettlementFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.settler.err = errors.New("execution reverted: FiatTokenV2: authorization is used or canceled")
	header := signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2500000)})

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, buyerBody(), map[string]string{x402.PaymentHeader: header})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, x402.ErrCodeSettlementFailed, body.Code)
	assert.Empty(t, body.SettlementTx)
	assert.Empty(t, ts.minter.calls)
	assert.Empty(t, ts.recorder.entries)
}

func TestPurchaseSettlementTimeoutSurfacesBroadcastTx(t *testing.T) {
	ts := newTestServer(t)
	ts.settler.err = x402.NewSettleError("0xpending", "base-sepolia", fmt.Errorf("receipt: %w", x402.ErrSettlementTimeout))
	header := signedHeader(t, ts.domain, evmsigner.AuthorizationRequest{To: testReceiver, Value: bigAmount(2500000)})

	w := ts.do(http.MethodPost, "/api/tickets/purchase/"+pricedEvent, buyerBody(), map[string]string{x402.PaymentHeader: header})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, x402.ErrCodeSettlementTimeout, body.Code)
	assert.Equal(t, "0xpending", body.SettlementTx)
	assert.Empty(t, ts.minter.calls)
	require.Len(t, ts.recorder.entries, 1)
	assert.Equal(t, "0xpending", ts.recorder.entries[0].SettlementTx)
}

func TestPurchaseFree(t *testing.T) {
	ts := newTestServer(t)

	t.Run("zero price mints", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/api/tickets/purchase-free/"+freeEvent, buyerBody(), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp x402.FreePurchaseResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "0xmint", resp.TxHash)
		assert.Equal(t, testBuyer, resp.Ticket.Owner)
	})

	t.Run("priced event needs payment", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/api/tickets/purchase-free/"+pricedEvent, buyerBody(), nil)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.JSONEq(t, `{"error":"Payment required","price":"2.5"}`, w.Body.String())
	})

	t.Run("missing buyer", func(t *testing.T) {
		w := ts.do(http.MethodPost, "/api/tickets/purchase-free/"+freeEvent, `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Equal(t, []string{x402.FreeMintProof}, ts.minter.calls)
	assert.Zero(t, ts.settler.calls)
}

func TestPaymentRoundTripperPaysChallenge(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.router)
	defer server.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := WrapHTTPClientWithPayment(server.Client(), NewPaymentClient(evmsigner.NewClientSigner(key), ts.domain))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/tickets/purchase/"+pricedEvent, bytes.NewReader([]byte(buyerBody())))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var purchase x402.PurchaseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&purchase))
	assert.Equal(t, "0xsettle", purchase.SettlementTx.Hash)
	assert.Equal(t, testBuyer, purchase.Ticket.Owner)
	assert.Equal(t, 1, ts.settler.calls)
}

func TestPaymentClientRejectsForeignChallenge(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := NewPaymentClient(evmsigner.NewClientSigner(key), evm.NetworkConfigs["base-sepolia"].Domain())

	_, err = client.CreatePaymentHeader(context.Background(), &x402.PaymentRequired{
		PaymentDetails: x402.PaymentDetails{PaymentInstructions: x402.PaymentInstructions{
			ChainID:   8453,
			Token:     evm.NetworkConfigs["base"].DefaultAsset.Address,
			Recipient: testReceiver,
			Amount:    "1000000",
		}},
	})
	assert.ErrorContains(t, err, "chain 8453")
}
