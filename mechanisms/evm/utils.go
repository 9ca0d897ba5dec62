package evm

import (
	"fmt"
	"strings"
)

// GetNetworkConfig returns the configuration for a network name
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[strings.ToLower(network)]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// SplitSignature splits a 65-byte r||s||v signature into the components expected by
// transferWithAuthorization. v is normalised to 27 or 28.
func SplitSignature(signature []byte) (v uint8, r [32]byte, s [32]byte, err error) {
	if len(signature) != 65 {
		return 0, r, s, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return 0, r, s, fmt.Errorf("invalid signature recovery id: %d", signature[64])
	}
	return v, r, s, nil
}
