package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	x402evm "github.com/ticketchain/x402-tickets/mechanisms/evm"
)

const (
	// DefaultGasLimit is used when gas estimation is disabled
	DefaultGasLimit = 300000

	// DefaultReceiptPollInterval is the delay between receipt lookups
	DefaultReceiptPollInterval = time.Second
)

// Backend is the subset of ethclient.Client the relayer needs
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RelayerSigner implements x402evm.RelayerSigner with a custodial key that pays gas
// for buyer-signed transfers.
type RelayerSigner struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	backend      Backend
	chainID      *big.Int
	pollInterval time.Duration
	logger       zerolog.Logger
}

// RelayerOption configures a RelayerSigner
type RelayerOption func(*RelayerSigner)

// WithPollInterval overrides DefaultReceiptPollInterval
func WithPollInterval(interval time.Duration) RelayerOption {
	return func(s *RelayerSigner) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithRelayerLogger sets the relayer logger
func WithRelayerLogger(logger zerolog.Logger) RelayerOption {
	return func(s *RelayerSigner) {
		s.logger = logger
	}
}

// DialRelayer connects to rpcURL and creates a relayer signer from a hex private key
func DialRelayer(ctx context.Context, privateKeyHex string, rpcURL string, opts ...RelayerOption) (*RelayerSigner, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewRelayerSigner(ctx, privateKeyHex, client, opts...)
}

// NewRelayerSigner creates a relayer signer over an existing backend. The chain id is read once.
func NewRelayerSigner(ctx context.Context, privateKeyHex string, backend Backend, opts ...RelayerOption) (*RelayerSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		// the key itself is never included in the error
		return nil, errors.New("invalid relayer private key")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	s := &RelayerSigner{
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:      backend,
		chainID:      chainID,
		pollInterval: DefaultReceiptPollInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the relayer's Ethereum address
func (s *RelayerSigner) Address() string {
	return s.address.Hex()
}

// ChainID returns the chain id reported by the backend at construction
func (s *RelayerSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// ReadContract calls a view function and returns its single output, or all outputs as a slice
func (s *RelayerSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	contractABI, data, err := pack(abiBytes, functionName, args)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contractAddress)
	result, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		return outputs, nil
	}
}

// WriteContract packs, signs and broadcasts a contract call from the relayer account
func (s *RelayerSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiBytes []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	_, data, err := pack(abiBytes, functionName, args)
	if err != nil {
		return "", err
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas for %s: %w", functionName, err)
	}
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Debug().
		Str("tx", signedTx.Hash().Hex()).
		Str("method", functionName).
		Uint64("nonce", nonce).
		Uint64("gas", gasLimit).
		Msg("transaction broadcast")

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls for the receipt until it is available or ctx is done
func (s *RelayerSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			var block uint64
			if receipt.BlockNumber != nil {
				block = receipt.BlockNumber.Uint64()
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: block,
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("receipt for %s not found: %w (last error: %v)", txHash, ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("receipt for %s not found: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// pack parses the ABI and packs the call, converting hex strings passed for address inputs
func pack(abiBytes []byte, functionName string, args []interface{}) (abi.ABI, []byte, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	method, ok := contractABI.Methods[functionName]
	if !ok {
		return abi.ABI{}, nil, fmt.Errorf("method %s not found in ABI", functionName)
	}
	if len(args) != len(method.Inputs) {
		return abi.ABI{}, nil, fmt.Errorf("method %s expects %d arguments, got %d", functionName, len(method.Inputs), len(args))
	}

	processed := make([]interface{}, len(args))
	copy(processed, args)
	for i, input := range method.Inputs {
		if input.Type.T != abi.AddressTy {
			continue
		}
		if str, ok := processed[i].(string); ok {
			if !common.IsHexAddress(str) {
				return abi.ABI{}, nil, fmt.Errorf("argument %s is not an address: %q", input.Name, str)
			}
			processed[i] = common.HexToAddress(str)
		}
	}

	data, err := contractABI.Pack(functionName, processed...)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	return contractABI, data, nil
}
