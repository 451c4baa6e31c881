package hashlock

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// PREIMAGE-SHA-256 crypto-condition envelopes used by ledger-native escrows.
// They wrap the hash and the preimage; Verify never sees them.
var (
	conditionPrefix   = []byte{0xA0, 0x25, 0x80, 0x20}
	conditionSuffix   = []byte{0x81, 0x01, 0x20}
	fulfillmentPrefix = []byte{0xA0, 0x22, 0x80, 0x20}

	ErrMalformedCondition   = errors.New("malformed crypto-condition")
	ErrMalformedFulfillment = errors.New("malformed crypto-condition fulfillment")
)

// Condition wraps a hashlock in the crypto-condition envelope.
func Condition(lock common.Hash) []byte {
	out := make([]byte, 0, len(conditionPrefix)+common.HashLength+len(conditionSuffix))
	out = append(out, conditionPrefix...)
	out = append(out, lock[:]...)
	return append(out, conditionSuffix...)
}

// Fulfillment wraps a secret in the fulfillment envelope.
func Fulfillment(s Secret) []byte {
	out := make([]byte, 0, len(fulfillmentPrefix)+SecretLength)
	out = append(out, fulfillmentPrefix...)
	return append(out, s[:]...)
}

// ParseCondition extracts the hashlock from a condition envelope.
func ParseCondition(raw []byte) (common.Hash, error) {
	if len(raw) != len(conditionPrefix)+common.HashLength+len(conditionSuffix) ||
		!bytes.HasPrefix(raw, conditionPrefix) || !bytes.HasSuffix(raw, conditionSuffix) {
		return common.Hash{}, ErrMalformedCondition
	}
	return common.BytesToHash(raw[len(conditionPrefix) : len(conditionPrefix)+common.HashLength]), nil
}

// ParseFulfillment extracts the secret from a fulfillment envelope.
func ParseFulfillment(raw []byte) (Secret, error) {
	if len(raw) != len(fulfillmentPrefix)+SecretLength || !bytes.HasPrefix(raw, fulfillmentPrefix) {
		return Secret{}, ErrMalformedFulfillment
	}
	var s Secret
	copy(s[:], raw[len(fulfillmentPrefix):])
	return s, nil
}
