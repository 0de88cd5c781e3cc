// Package address validates account addresses: base58 text encoding of a
// 32-byte key, optionally required to be a valid ed25519 point.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"agent-market/internal/domain"
)

// KeyLength is the decoded length of every address.
const KeyLength = 32

var (
	// ErrInvalidAddress is returned for text that is not a 32-byte base58 key.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrOffCurve is returned when a signer address is not an ed25519 public key.
	ErrOffCurve = errors.New("address is not on the ed25519 curve")
)

// Parse decodes s and checks its length.
func Parse(s string) (domain.Address, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != KeyLength {
		return "", fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(decoded))
	}
	return domain.Address(s), nil
}

// ParseSigner is Parse plus the requirement that the key is a point on
// ed25519, i.e. an address something can actually sign for.
func ParseSigner(s string) (domain.Address, error) {
	addr, err := Parse(s)
	if err != nil {
		return "", err
	}
	if !IsOnCurve(addr) {
		return "", fmt.Errorf("%w: %s", ErrOffCurve, s)
	}
	return addr, nil
}

// IsOnCurve reports whether the decoded address is a valid ed25519 point encoding.
func IsOnCurve(addr domain.Address) bool {
	decoded, err := base58.Decode(string(addr))
	if err != nil || len(decoded) != KeyLength {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}

// FromKey encodes a raw 32-byte key.
func FromKey(key []byte) (domain.Address, error) {
	if len(key) != KeyLength {
		return "", fmt.Errorf("%w: key length %d", ErrInvalidAddress, len(key))
	}
	return domain.Address(base58.Encode(key)), nil
}
