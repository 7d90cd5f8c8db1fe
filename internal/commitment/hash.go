// hash.go - Bid commitment hashing over the BN254 scalar field.
//
// A commitment is MiMC(amount, secret, auctionID) computed with gnark-crypto's
// native BN254 MiMC. The bid circuit in internal/circuit hashes the same three
// elements in the same order with gnark's in-circuit MiMC, so the two agree
// bit for bit.

package commitment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// ErrInvalidInput is returned when a value is not a decimal integer in [0, r)
// where r is the BN254 scalar field modulus.
var ErrInvalidInput = errors.New("invalid input")

// maxDecimalLen bounds the input size before any big.Int parsing is attempted.
const maxDecimalLen = 78

// Modulus returns a copy of the scalar field modulus.
func Modulus() *big.Int {
	return fr.Modulus()
}

// ParseField parses a decimal string into a field element value.
// Signs, whitespace, hex prefixes and values >= r are rejected.
func ParseField(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidInput)
	}
	if len(s) > maxDecimalLen {
		return nil, fmt.Errorf("%w: value too long", ErrInvalidInput)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("%w: non-numeric value", ErrInvalidInput)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: non-numeric value", ErrInvalidInput)
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: value exceeds field modulus", ErrInvalidInput)
	}
	return v, nil
}

// IsCanonical reports whether s is the canonical decimal encoding of a field
// element: digits only, no leading zeros, below the modulus.
func IsCanonical(s string) bool {
	v, err := ParseField(s)
	if err != nil {
		return false
	}
	return v.String() == s
}

// Hash returns the commitment for a bid as a canonical decimal string.
// Argument order is part of the committed relation.
func Hash(amount, secret, auctionID string) (string, error) {
	a, err := ParseField(amount)
	if err != nil {
		return "", fmt.Errorf("amount: %w", err)
	}
	s, err := ParseField(secret)
	if err != nil {
		return "", fmt.Errorf("secret: %w", err)
	}
	id, err := ParseField(auctionID)
	if err != nil {
		return "", fmt.Errorf("auction id: %w", err)
	}
	return HashInts(a, s, id)
}

// HashInts is Hash for already-parsed values. Values outside [0, r) fail with
// ErrInvalidInput rather than being reduced.
func HashInts(amount, secret, auctionID *big.Int) (string, error) {
	h := mimc.NewMiMC()
	for _, v := range []*big.Int{amount, secret, auctionID} {
		if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
			return "", fmt.Errorf("%w: value outside field", ErrInvalidInput)
		}
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)).String(), nil
}

// HashBid is a convenience for callers holding an integer auction id.
func HashBid(amount *big.Int, secret *big.Int, auctionID int64) (string, error) {
	if auctionID < 0 {
		return "", fmt.Errorf("%w: negative auction id", ErrInvalidInput)
	}
	return HashInts(amount, secret, big.NewInt(auctionID))
}
