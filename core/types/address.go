package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: expected %d bytes", value, len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}

// FormatAddress renders the address as 0x-prefixed hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
