package commitment

import (
	"errors"
	"math/big"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a, err := Hash("100", "123456789", "7")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := Hash("100", "123456789", "7")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a != b {
		t.Errorf("Hash not deterministic: %s != %s", a, b)
	}
	if !IsCanonical(a) {
		t.Errorf("Hash output %q is not a canonical field element", a)
	}
}

func TestHashOrderSensitive(t *testing.T) {
	a, err := Hash("100", "555", "7")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := Hash("555", "100", "7")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Errorf("swapping amount and secret should change the commitment")
	}

	c, err := Hash("100", "555", "8")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == c {
		t.Errorf("different auction id should change the commitment")
	}
}

func TestHashMatchesIntVariants(t *testing.T) {
	s, err := Hash("42", "99", "3")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	i, err := HashBid(big.NewInt(42), big.NewInt(99), 3)
	if err != nil {
		t.Fatalf("HashBid failed: %v", err)
	}
	if s != i {
		t.Errorf("Hash and HashBid disagree: %s != %s", s, i)
	}
}

func TestHashRejectsInvalidInput(t *testing.T) {
	maxPlusOne := Modulus().String()
	tests := []struct {
		name                    string
		amount, secret, auction string
	}{
		{"empty amount", "", "1", "1"},
		{"negative amount", "-5", "1", "1"},
		{"signed secret", "5", "+1", "1"},
		{"hex auction id", "5", "1", "0x10"},
		{"decimal point", "5.5", "1", "1"},
		{"whitespace", " 5", "1", "1"},
		{"modulus", maxPlusOne, "1", "1"},
		{"letters", "abc", "1", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Hash(tt.amount, tt.secret, tt.auction)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestHashAcceptsFieldBoundary(t *testing.T) {
	top := new(big.Int).Sub(Modulus(), big.NewInt(1))
	if _, err := Hash(top.String(), "0", "0"); err != nil {
		t.Errorf("r-1 should be accepted: %v", err)
	}
	if _, err := HashInts(Modulus(), big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("r should be rejected by HashInts, got %v", err)
	}
}

func TestIsCanonical(t *testing.T) {
	cases := map[string]bool{
		"0":   true,
		"17":  true,
		"017": false,
		"":    false,
		"-1":  false,
	}
	for in, want := range cases {
		if got := IsCanonical(in); got != want {
			t.Errorf("IsCanonical(%q) = %v, want %v", in, got, want)
		}
	}
}
