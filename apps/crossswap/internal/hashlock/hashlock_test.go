package hashlock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		secret, lock, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !Verify(secret, lock) {
			t.Fatalf("secret %s does not verify against its own hash", secret)
		}
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if a == b {
		t.Fatal("two generated secrets are identical")
	}
	if Verify(a, Hash(b)) {
		t.Error("secret verified against another secret's hash")
	}
}

func TestHashIsSHA256(t *testing.T) {
	var s Secret
	for i := range s {
		s[i] = byte(i)
	}
	want := sha256.Sum256(s[:])
	if got := Hash(s); got != want {
		t.Errorf("Hash = %x, want %x", got, want)
	}
}

func TestParseSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Prefixed", input: secret.Hex()},
		{name: "Bare", input: strings.TrimPrefix(secret.Hex(), "0x")},
		{name: "TooShort", input: "0xdeadbeef", wantErr: true},
		{name: "NotHex", input: "0xzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSecret(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSecret failed: %v", err)
			}
			if got != secret {
				t.Errorf("ParseSecret = %s, want %s", got, secret)
			}
		})
	}
}

func TestConditionEnvelope(t *testing.T) {
	secret, lock, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cond := Condition(lock)
	encoded := strings.ToUpper(hex.EncodeToString(cond))
	if !strings.HasPrefix(encoded, "A0258020") || !strings.HasSuffix(encoded, "810120") {
		t.Errorf("unexpected condition envelope %s", encoded)
	}
	parsed, err := ParseCondition(cond)
	if err != nil {
		t.Fatalf("ParseCondition failed: %v", err)
	}
	if parsed != lock {
		t.Errorf("ParseCondition = %x, want %x", parsed, lock)
	}

	ful := Fulfillment(secret)
	if !strings.HasPrefix(strings.ToUpper(hex.EncodeToString(ful)), "A0228020") {
		t.Errorf("unexpected fulfillment envelope %x", ful)
	}
	preimage, err := ParseFulfillment(ful)
	if err != nil {
		t.Fatalf("ParseFulfillment failed: %v", err)
	}
	if !Verify(preimage, parsed) {
		t.Error("preimage from fulfillment does not verify against condition hash")
	}

	if _, err := ParseCondition(cond[1:]); !errors.Is(err, ErrMalformedCondition) {
		t.Errorf("expected ErrMalformedCondition, got %v", err)
	}
	if _, err := ParseFulfillment(ful[:10]); !errors.Is(err, ErrMalformedFulfillment) {
		t.Errorf("expected ErrMalformedFulfillment, got %v", err)
	}
}
