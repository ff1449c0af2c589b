package types

import (
	"encoding/hex"
	"errors"
	"strings"
)

// Address identifies an account within the pool. It mirrors the 20-byte
// layout used by EVM-compatible wallets so callers can reuse existing keys.
type Address [20]byte

var errInvalidAddress = errors.New("types: invalid address")

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var addr Address
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return Address{}, errInvalidAddress
	}
	copy(addr[:], raw)
	return addr, nil
}

// Hex renders the address as a 0x-prefixed lowercase hex string.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText renders the address as hex so JSON encodings stay readable.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText parses a hex-encoded address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}
