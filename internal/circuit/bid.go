// bid.go - Sealed bid relation for Groth16 over BN254.
//
// Public inputs, in witness order: Commitment, AuctionID.
// The prover shows knowledge of Amount and Secret such that
// Commitment = MiMC(Amount, Secret, AuctionID) and Amount fits in AmountBits bits.

package circuit

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

// AmountBits bounds a bid amount to an unsigned 64-bit value.
const AmountBits = 64

// NbPublic is the number of public inputs of the Bid circuit.
const NbPublic = 2

type Bid struct {
	// Public inputs
	Commitment frontend.Variable `gnark:",public"`
	AuctionID  frontend.Variable `gnark:",public"`

	// Private inputs
	Amount frontend.Variable
	Secret frontend.Variable
}

func (c *Bid) Define(api frontend.API) error {
	// Range check: a field element that decomposes into 64 bits is non-negative
	// and below 2^64.
	api.ToBinary(c.Amount, AmountBits)

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.Amount)
	hasher.Write(c.Secret)
	hasher.Write(c.AuctionID)
	api.AssertIsEqual(c.Commitment, hasher.Sum())

	return nil
}

// Compile builds the R1CS for the Bid circuit on the BN254 scalar field.
func Compile() (constraint.ConstraintSystem, error) {
	var c Bid
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &c)
}
