// Package hashlock generates HTLC secrets and checks them against their
// SHA-256 hashlocks. The same hashlock guards the source and destination
// escrows of an order, so the digest never varies per chain.
package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const SecretLength = 32

var ErrInvalidSecretLength = errors.New("secret must be 32 bytes")

// Secret is the 32-byte preimage revealed at settlement.
type Secret [SecretLength]byte

// Hex returns the 0x-prefixed hex form.
func (s Secret) Hex() string {
	return hexutil.Encode(s[:])
}

func (s Secret) String() string {
	return s.Hex()
}

// GenerateSecret draws a fresh secret from crypto/rand.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	return s, nil
}

// ParseSecret decodes a hex secret, with or without the 0x prefix.
func ParseSecret(value string) (Secret, error) {
	if len(value) < 2 || value[:2] != "0x" {
		value = "0x" + value
	}
	raw, err := hexutil.Decode(value)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(raw) != SecretLength {
		return Secret{}, ErrInvalidSecretLength
	}
	var s Secret
	copy(s[:], raw)
	return s, nil
}

// Hash returns the SHA-256 hashlock of a secret.
func Hash(s Secret) common.Hash {
	return common.Hash(sha256.Sum256(s[:]))
}

// Verify reports whether the secret hashes to the given hashlock.
func Verify(s Secret, lock common.Hash) bool {
	h := Hash(s)
	return subtle.ConstantTimeCompare(h[:], lock[:]) == 1
}

// New generates a secret together with its hashlock.
func New() (Secret, common.Hash, error) {
	s, err := GenerateSecret()
	if err != nil {
		return Secret{}, common.Hash{}, err
	}
	return s, Hash(s), nil
}
