package evm

import (
	"bytes"
	"context"
	"fmt"

	x402 "github.com/ticketchain/x402-tickets"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyTypedData checks that signature over the typed data recovers to signer.
//
// Returns:
//
//	false, nil when the signature is well-formed but belongs to someone else or cannot be recovered
//	error for structurally malformed input
func VerifyTypedData(
	signer string,
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	if !common.IsHexAddress(signer) {
		return false, fmt.Errorf("invalid signer address: %q", signer)
	}
	if len(signature) != 65 {
		return false, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return false, err
	}

	return RecoverMatches(digest, signature, signer), nil
}

// RecoverMatches reports whether a 65-byte signature over digest recovers to expected
func RecoverMatches(digest []byte, signature []byte, expected string) bool {
	if len(signature) != 65 {
		return false
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	return bytes.Equal(recovered.Bytes(), common.HexToAddress(expected).Bytes())
}

// EIP3009Verifier verifies TransferWithAuthorization signatures under a fixed token domain
type EIP3009Verifier struct {
	domain TypedDataDomain
}

// NewEIP3009Verifier creates a verifier for the given token domain
func NewEIP3009Verifier(domain TypedDataDomain) *EIP3009Verifier {
	return &EIP3009Verifier{domain: domain}
}

// VerifyAuthorization implements x402.AuthorizationVerifier
func (v *EIP3009Verifier) VerifyAuthorization(ctx context.Context, auth *x402.PaymentAuthorization) (bool, error) {
	if auth == nil {
		return false, fmt.Errorf("nil authorization")
	}
	types, message := TransferWithAuthorizationMessage(auth)
	return VerifyTypedData(auth.From, v.domain, types, PrimaryTypeTransferWithAuthorization, message, auth.Signature)
}
