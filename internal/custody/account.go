// Package custody holds locked principal and validates the account
// addresses that own it. Addresses are base58-encoded 32-byte ed25519
// public keys.
package custody

import (
	"errors"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAccount is returned for a malformed account address.
var ErrInvalidAccount = errors.New("invalid account address")

// ParseAccount validates a base58 account address and returns its
// canonical encoding. The decoded key must be 32 bytes and a valid
// point on the ed25519 curve.
func ParseAccount(addr string) (string, error) {
	if addr == "" {
		return "", ErrInvalidAccount
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		return "", ErrInvalidAccount
	}
	if len(decoded) != 32 {
		return "", ErrInvalidAccount
	}
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return "", ErrInvalidAccount
	}
	return base58.Encode(decoded), nil
}

// IsValidAccount reports whether addr parses as an account address.
func IsValidAccount(addr string) bool {
	_, err := ParseAccount(addr)
	return err == nil
}
