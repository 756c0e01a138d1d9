// utils/address.go
package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress trims and lower-cases a wallet address. ok is false when
// the input is not a 0x-prefixed 20-byte hex address.
func NormalizeAddress(raw string) (addr string, ok bool) {
	addr = strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return addr, false
	}
	return addr, true
}
