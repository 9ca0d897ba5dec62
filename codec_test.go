package x402_test

import (
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/ticketchain/x402-tickets"
)

const (
	testNonce     = "0x5c6a0f3c7cb31f0f0bb5aaf5d4d9e6ba9d1a4c6e5f00112233445566778899aa"
	testSignature = "0x" +
		"1111111111111111111111111111111111111111111111111111111111111111" +
		"2222222222222222222222222222222222222222222222222222222222222222" + "1b"
)

func encodeJSON(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	auth := newBuyer(t).authorize(t, nil)

	header, err := x402.EncodePaymentHeader(auth)
	require.NoError(t, err)

	decoded, err := x402.DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, auth.Payload(), decoded.Payload())
}

func TestDecodePaymentHeader(t *testing.T) {
	t.Run("string numerics", func(t *testing.T) {
		auth, err := x402.DecodePaymentHeader(encodeJSON(`{
			"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			"to": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			"value": "115792089237316195423570985008687907853269984665640564039457584007913129639935",
			"validAfter": "0",
			"validBefore": "1750003600",
			"nonce": "` + testNonce + `",
			"signature": "` + testSignature + `",
			"chainId": "84532"
		}`))
		require.NoError(t, err)

		maxUint256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		assert.Equal(t, maxUint256, auth.Value)
		assert.Equal(t, big.NewInt(1750003600), auth.ValidBefore)
		assert.Equal(t, big.NewInt(84532), auth.ChainID)
		assert.Equal(t, byte(0x5c), auth.Nonce[0])
		assert.Len(t, auth.Signature, 65)
	})

	t.Run("integer numerics", func(t *testing.T) {
		auth, err := x402.DecodePaymentHeader(encodeJSON(`{
			"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			"to": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			"value": 1000000,
			"validAfter": 0,
			"validBefore": 1750003600,
			"nonce": "` + testNonce + `",
			"signature": "` + testSignature + `",
			"chainId": 84532
		}`))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(1000000), auth.Value)
	})

	t.Run("url-safe base64 without padding", func(t *testing.T) {
		header, err := x402.EncodePaymentHeader(newBuyer(t).authorize(t, nil))
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(header)
		require.NoError(t, err)

		_, err = x402.DecodePaymentHeader(base64.RawURLEncoding.EncodeToString(raw))
		assert.NoError(t, err)
	})
}

func TestDecodePaymentHeaderRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"not base64", "***"},
		{"not json", encodeJSON("hello")},
		{"missing signature", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"1","validAfter":"0","validBefore":"1","nonce":"` + testNonce + `","chainId":"84532"}`)},
		{"short nonce", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"1","validAfter":"0","validBefore":"1","nonce":"0x01","signature":"` + testSignature + `","chainId":"84532"}`)},
		{"negative value", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"-1","validAfter":"0","validBefore":"1","nonce":"` + testNonce + `","signature":"` + testSignature + `","chainId":"84532"}`)},
		{"fractional value", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":1.5,"validAfter":"0","validBefore":"1","nonce":"` + testNonce + `","signature":"` + testSignature + `","chainId":"84532"}`)},
		{"value above uint256", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"115792089237316195423570985008687907853269984665640564039457584007913129639936","validAfter":"0","validBefore":"1","nonce":"` + testNonce + `","signature":"` + testSignature + `","chainId":"84532"}`)},
		{"validBefore above uint256", encodeJSON(`{"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"1","validAfter":"0","validBefore":"115792089237316195423570985008687907853269984665640564039457584007913129639936","nonce":"` + testNonce + `","signature":"` + testSignature + `","chainId":"84532"}`)},
		{"bad from", encodeJSON(`{"from":"alice","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"1","validAfter":"0","validBefore":"1","nonce":"` + testNonce + `","signature":"` + testSignature + `","chainId":"84532"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := x402.DecodePaymentHeader(tt.header)
			assert.Nil(t, auth)
			assert.ErrorIs(t, err, x402.ErrMalformedPayment)
		})
	}
}
