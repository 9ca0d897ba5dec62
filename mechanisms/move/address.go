package move

import (
	"strings"
)

// AddressHexLength is the hex width of an account address without the 0x prefix
const AddressHexLength = 64

// NormalizeAddress returns the 0x-prefixed full-width form of an account address.
// Shorter hex addresses are left-padded with zeros; full-width addresses keep their digits.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	if len(hexPart) < AddressHexLength {
		hexPart = strings.Repeat("0", AddressHexLength-len(hexPart)) + hexPart
	}
	return "0x" + hexPart
}

// FunctionID builds a fully-qualified function name <module address>::<module>::<function>
func FunctionID(moduleAddress, module, function string) string {
	return NormalizeAddress(moduleAddress) + "::" + module + "::" + function
}
