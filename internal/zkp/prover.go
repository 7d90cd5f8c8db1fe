// prover.go - Proof generation for the bid circuit.
//
// Production bidders prove in the browser; this prover backs the bidkeys tool
// and the test suites.

package zkp

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"sealedbid/internal/circuit"
	"sealedbid/internal/commitment"
)

// Prover produces bid proofs from a compiled circuit and its proving key.
type Prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// NewProver creates a prover.
func NewProver(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	return &Prover{ccs: ccs, pk: pk}
}

// Prove builds a proof that amount and secret open the returned commitment
// for auctionID. The public signals are [commitment, auctionID].
func (p *Prover) Prove(amount, secret *big.Int, auctionID int64) (*Proof, []string, error) {
	cm, err := commitment.HashBid(amount, secret, auctionID)
	if err != nil {
		return nil, nil, err
	}
	assignment := &circuit.Bid{
		Commitment: cm,
		AuctionID:  auctionID,
		Amount:     amount,
		Secret:     secret,
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, nil, fmt.Errorf("prove: %w", err)
	}
	out, err := EncodeProof(proof)
	if err != nil {
		return nil, nil, err
	}
	return out, []string{cm, strconv.FormatInt(auctionID, 10)}, nil
}
