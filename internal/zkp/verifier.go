// verifier.go - Groth16 verification of sealed bid proofs.

package zkp

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"

	"sealedbid/internal/commitment"
)

// ErrVerificationFailed is returned when a well-formed proof does not satisfy
// the pairing check.
var ErrVerificationFailed = errors.New("proof verification failed")

// Verifier checks proofs against a single verifying key loaded at startup.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	vk       groth16.VerifyingKey
	nbPublic int
}

// NewVerifier wraps a BN254 verifying key.
func NewVerifier(vk groth16.VerifyingKey) (*Verifier, error) {
	if vk == nil {
		return nil, errors.New("verifying key is nil")
	}
	if vk.CurveID() != ecc.BN254 {
		return nil, fmt.Errorf("verifying key is for curve %s, want %s", vk.CurveID(), ecc.BN254)
	}
	n := vk.NbPublicWitness()
	if n < 1 {
		return nil, fmt.Errorf("verifying key expects %d public inputs", n)
	}
	return &Verifier{vk: vk, nbPublic: n}, nil
}

// LoadVerifier reads a verifying key from disk. A failure here is fatal for
// the daemon.
func LoadVerifier(path string) (*Verifier, error) {
	vk, err := LoadVerifyingKey(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load verifying key %s: %w", path, err)
	}
	return NewVerifier(vk)
}

// NbPublic returns the number of public signals the key expects.
func (v *Verifier) NbPublic() int {
	return v.nbPublic
}

// Verify reports whether the proof is well formed and valid for the signals.
func (v *Verifier) Verify(p *Proof, publicSignals []string) bool {
	return v.Check(p, publicSignals) == nil
}

// Check is Verify with the failure reason. Structural defects wrap
// ErrMalformedProof; a failed pairing check wraps ErrVerificationFailed.
func (v *Verifier) Check(p *Proof, publicSignals []string) error {
	proof, err := p.ToGnark()
	if err != nil {
		return err
	}
	if len(publicSignals) != v.nbPublic {
		return fmt.Errorf("%w: expected %d public signals, got %d", ErrMalformedProof, v.nbPublic, len(publicSignals))
	}
	elems := make([]fr.Element, len(publicSignals))
	for i, s := range publicSignals {
		n, err := commitment.ParseField(s)
		if err != nil {
			return fmt.Errorf("%w: public signal %d: %v", ErrMalformedProof, i, err)
		}
		elems[i].SetBigInt(n)
	}

	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return fmt.Errorf("failed to create witness: %w", err)
	}
	values := make(chan any, len(elems))
	for i := range elems {
		values <- elems[i]
	}
	close(values)
	if err := w.Fill(v.nbPublic, 0, values); err != nil {
		return fmt.Errorf("%w: public witness: %v", ErrMalformedProof, err)
	}

	if err := groth16.Verify(proof, v.vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}
