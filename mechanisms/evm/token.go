package evm

import (
	"context"
	"fmt"
)

// ContractReader calls view functions
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// TokenMetadata is the on-chain identity of an EIP-3009 token
type TokenMetadata struct {
	Name     string
	Version  string
	Decimals int
}

// TokenMetadataABI covers the EIP-712 domain getters of FiatToken-style contracts
var TokenMetadataABI = []byte(`[
	{"inputs": [], "name": "name", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "version", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"}
]`)

// ReadTokenMetadata reads name, version and decimals from the token contract
func ReadTokenMetadata(ctx context.Context, reader ContractReader, token string) (*TokenMetadata, error) {
	name, err := reader.ReadContract(ctx, token, TokenMetadataABI, "name")
	if err != nil {
		return nil, fmt.Errorf("failed to read token name: %w", err)
	}
	version, err := reader.ReadContract(ctx, token, TokenMetadataABI, "version")
	if err != nil {
		return nil, fmt.Errorf("failed to read token version: %w", err)
	}
	decimals, err := reader.ReadContract(ctx, token, TokenMetadataABI, "decimals")
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}

	metadata := &TokenMetadata{}
	var ok bool
	if metadata.Name, ok = name.(string); !ok {
		return nil, fmt.Errorf("unexpected result type from name: %T", name)
	}
	if metadata.Version, ok = version.(string); !ok {
		return nil, fmt.Errorf("unexpected result type from version: %T", version)
	}
	d, ok := decimals.(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from decimals: %T", decimals)
	}
	metadata.Decimals = int(d)
	return metadata, nil
}

// CheckTokenDomain fails when the configured signing domain or decimals differ from the
// deployed token. A mismatch makes every buyer signature fail verification on-chain.
func CheckTokenDomain(ctx context.Context, reader ContractReader, domain TypedDataDomain, decimals int) error {
	metadata, err := ReadTokenMetadata(ctx, reader, domain.VerifyingContract)
	if err != nil {
		return err
	}
	if metadata.Name != domain.Name || metadata.Version != domain.Version {
		return fmt.Errorf("token %s domain is %q version %q, configured %q version %q",
			domain.VerifyingContract, metadata.Name, metadata.Version, domain.Name, domain.Version)
	}
	if metadata.Decimals != decimals {
		return fmt.Errorf("token %s has %d decimals, configured %d", domain.VerifyingContract, metadata.Decimals, decimals)
	}
	return nil
}
