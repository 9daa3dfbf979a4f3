package custody

import (
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

// zeroAccount is the base58 encoding of 32 zero bytes, a canonical
// on-curve encoding (y = 0).
const zeroAccount = "11111111111111111111111111111111"

func TestParseAccount_Valid(t *testing.T) {
	got, err := ParseAccount(zeroAccount)
	if err != nil {
		t.Fatalf("ParseAccount failed: %v", err)
	}
	if got != zeroAccount {
		t.Errorf("canonical form = %q, want %q", got, zeroAccount)
	}
	if !IsValidAccount(zeroAccount) {
		t.Error("IsValidAccount should accept a canonical address")
	}
}

func TestParseAccount_Invalid(t *testing.T) {
	cases := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"bad characters", "0OIl-not-base58"},
		{"too short", base58.Encode([]byte{1, 2, 3})},
		{"too long", base58.Encode(make([]byte, 33))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseAccount(tc.addr); !errors.Is(err, ErrInvalidAccount) {
				t.Errorf("expected ErrInvalidAccount, got %v", err)
			}
		})
	}
}
