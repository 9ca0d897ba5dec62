package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/ticketchain/x402-tickets"
	x402evm "github.com/ticketchain/x402-tickets/mechanisms/evm"
)

// ClientSigner implements x402evm.TypedDataSigner using an ECDSA private key.
// It is the buyer side of the protocol: it signs TransferWithAuthorization messages.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	ClientSigner ready to sign authorizations
//	Error if private key is invalid
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// NewClientSigner wraps an existing ECDSA key
func NewClientSigner(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data.
//
// Returns:
//
//	65-byte signature (r, s, v) with v in {27, 28}
//	Error if signing fails
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Recovery ID 0/1 → 27/28
	signature[64] += 27

	return signature, nil
}

// AuthorizationRequest describes the transfer a buyer is about to authorize
type AuthorizationRequest struct {
	To       string
	Value    *big.Int
	Validity time.Duration
	Now      time.Time
}

// SignAuthorization builds a TransferWithAuthorization with a random nonce, validAfter 0 and
// validBefore now+validity, and signs it under domain.
func SignAuthorization(ctx context.Context, signer x402evm.TypedDataSigner, domain x402evm.TypedDataDomain, req AuthorizationRequest) (*x402.PaymentAuthorization, error) {
	if req.Validity <= 0 {
		req.Validity = x402evm.DefaultValidityPeriod * time.Second
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	auth := &x402.PaymentAuthorization{
		From:        signer.Address(),
		To:          req.To,
		Value:       req.Value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(req.Now.Add(req.Validity).Unix()),
		ChainID:     domain.ChainID,
	}
	if _, err := rand.Read(auth.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	types, message := x402evm.TransferWithAuthorizationMessage(auth)
	signature, err := signer.SignTypedData(ctx, domain, types, x402evm.PrimaryTypeTransferWithAuthorization, message)
	if err != nil {
		return nil, err
	}
	auth.Signature = signature
	return auth, nil
}
