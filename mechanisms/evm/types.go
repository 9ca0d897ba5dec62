package evm

import (
	"context"
	"math/big"
)

// TypedDataSigner signs EIP-712 typed data on behalf of a buyer
type TypedDataSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
}

// RelayerSigner submits contract calls from the custodial relayer account and pays their gas
type RelayerSigner interface {
	// Address returns the relayer's Ethereum address
	Address() string

	// ReadContract calls a view function
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// WriteContract signs and broadcasts a contract call, returning its transaction hash
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt blocks until the transaction is mined or ctx is done
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo contains information about an EIP-3009 token
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// Domain returns the EIP-712 domain of the network's default asset
func (c NetworkConfig) Domain() TypedDataDomain {
	return TypedDataDomain{
		Name:              c.DefaultAsset.Name,
		Version:           c.DefaultAsset.Version,
		ChainID:           c.ChainID,
		VerifyingContract: c.DefaultAsset.Address,
	}
}
