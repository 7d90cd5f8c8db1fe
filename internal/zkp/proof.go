// proof.go - JSON proof artifacts and their conversion to gnark BN254 proofs.
//
// The wire shape follows the snarkjs Groth16 export so existing browser
// provers can submit proofs unchanged:
//
//	{"pi_a":[x,y,"1"], "pi_b":[[x0,x1],[y0,y1],["1","0"]], "pi_c":[x,y,"1"],
//	 "protocol":"groth16", "curve":"bn128"}
//
// Coordinates are affine, decimal, canonical elements of the BN254 base field.

package zkp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// ErrMalformedProof is returned for any structural defect in a proof or its
// public signals. Callers surface it as an invalid proof.
var ErrMalformedProof = errors.New("malformed proof")

// Proof is a Groth16 proof in snarkjs JSON form.
type Proof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol,omitempty"`
	Curve    string     `json:"curve,omitempty"`
}

// Validate checks the shape of the proof without decoding curve points.
func (p *Proof) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: missing proof", ErrMalformedProof)
	}
	switch p.Protocol {
	case "", "groth16":
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrMalformedProof, p.Protocol)
	}
	switch p.Curve {
	case "", "bn128", "bn254":
	default:
		return fmt.Errorf("%w: unsupported curve %q", ErrMalformedProof, p.Curve)
	}
	if err := validateG1("pi_a", p.PiA); err != nil {
		return err
	}
	if err := validateG1("pi_c", p.PiC); err != nil {
		return err
	}
	if len(p.PiB) != 3 {
		return fmt.Errorf("%w: pi_b must have 3 coordinate pairs, got %d", ErrMalformedProof, len(p.PiB))
	}
	for i, pair := range p.PiB {
		if len(pair) != 2 {
			return fmt.Errorf("%w: pi_b[%d] must have 2 elements, got %d", ErrMalformedProof, i, len(pair))
		}
	}
	if p.PiB[2][0] != "1" || p.PiB[2][1] != "0" {
		return fmt.Errorf("%w: pi_b is not in affine form", ErrMalformedProof)
	}
	return nil
}

func validateG1(name string, coords []string) error {
	if len(coords) != 3 {
		return fmt.Errorf("%w: %s must have 3 coordinates, got %d", ErrMalformedProof, name, len(coords))
	}
	if coords[2] != "1" {
		return fmt.Errorf("%w: %s is not in affine form", ErrMalformedProof, name)
	}
	return nil
}

// ToGnark decodes the proof into a gnark BN254 proof, rejecting coordinates
// outside the base field and points that are not valid non-identity
// subgroup elements.
func (p *Proof) ToGnark() (*groth16bn254.Proof, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ar, err := decodeG1("pi_a", p.PiA)
	if err != nil {
		return nil, err
	}
	krs, err := decodeG1("pi_c", p.PiC)
	if err != nil {
		return nil, err
	}
	bs, err := decodeG2("pi_b", p.PiB)
	if err != nil {
		return nil, err
	}
	return &groth16bn254.Proof{Ar: ar, Bs: bs, Krs: krs}, nil
}

func decodeG1(name string, coords []string) (bn254.G1Affine, error) {
	var pt bn254.G1Affine
	if err := parseFp(&pt.X, coords[0]); err != nil {
		return pt, fmt.Errorf("%s.x: %w", name, err)
	}
	if err := parseFp(&pt.Y, coords[1]); err != nil {
		return pt, fmt.Errorf("%s.y: %w", name, err)
	}
	if pt.IsInfinity() {
		return pt, fmt.Errorf("%w: %s is the point at infinity", ErrMalformedProof, name)
	}
	if !pt.IsOnCurve() || !pt.IsInSubGroup() {
		return pt, fmt.Errorf("%w: %s is not a valid G1 point", ErrMalformedProof, name)
	}
	return pt, nil
}

func decodeG2(name string, coords [][]string) (bn254.G2Affine, error) {
	var pt bn254.G2Affine
	targets := []*fp.Element{&pt.X.A0, &pt.X.A1, &pt.Y.A0, &pt.Y.A1}
	values := []string{coords[0][0], coords[0][1], coords[1][0], coords[1][1]}
	for i := range targets {
		if err := parseFp(targets[i], values[i]); err != nil {
			return pt, fmt.Errorf("%s[%d][%d]: %w", name, i/2, i%2, err)
		}
	}
	if pt.IsInfinity() {
		return pt, fmt.Errorf("%w: %s is the point at infinity", ErrMalformedProof, name)
	}
	if !pt.IsOnCurve() || !pt.IsInSubGroup() {
		return pt, fmt.Errorf("%w: %s is not a valid G2 point", ErrMalformedProof, name)
	}
	return pt, nil
}

func parseFp(e *fp.Element, s string) error {
	if s == "" || len(s) > 78 {
		return fmt.Errorf("%w: bad coordinate length", ErrMalformedProof)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("%w: non-decimal coordinate", ErrMalformedProof)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(fp.Modulus()) >= 0 {
		return fmt.Errorf("%w: coordinate outside base field", ErrMalformedProof)
	}
	e.SetBigInt(v)
	return nil
}

// EncodeProof converts a gnark BN254 Groth16 proof into its JSON form.
func EncodeProof(proof groth16.Proof) (*Proof, error) {
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unsupported proof type %T", proof)
	}
	if len(p.Commitments) != 0 {
		return nil, errors.New("proofs with commitments are not supported")
	}
	return &Proof{
		PiA: []string{fpString(&p.Ar.X), fpString(&p.Ar.Y), "1"},
		PiB: [][]string{
			{fpString(&p.Bs.X.A0), fpString(&p.Bs.X.A1)},
			{fpString(&p.Bs.Y.A0), fpString(&p.Bs.Y.A1)},
			{"1", "0"},
		},
		PiC:      []string{fpString(&p.Krs.X), fpString(&p.Krs.Y), "1"},
		Protocol: "groth16",
		Curve:    "bn128",
	}, nil
}

func fpString(e *fp.Element) string {
	return e.BigInt(new(big.Int)).String()
}
