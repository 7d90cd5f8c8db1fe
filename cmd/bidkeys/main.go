// main.go - bidkeys manages the Groth16 keys for the sealed-bid circuit and
// produces bid proofs for testing and scripted clients.
//
// Usage:
//
//	bidkeys setup  -pk keys/bid_pk.bin -vk keys/bid_vk.bin
//	bidkeys prove  -pk keys/bid_pk.bin -auction 7 -amount 150 -secret 123456
//	bidkeys commit -auction 7 -amount 150 -secret 123456
//
// prove writes {"proof":..., "publicSignals":[...]} to stdout, ready to POST
// to /api/auctions/{id}/bids.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sealedbid/internal/circuit"
	"sealedbid/internal/commitment"
	"sealedbid/internal/zkp"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
	With().Timestamp().Logger()

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "setup":
		err = runSetup(os.Args[2:])
	case "prove":
		err = runProve(os.Args[2:])
	case "commit":
		err = runCommit(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bidkeys setup|prove|commit [flags]")
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	pkPath := fs.String("pk", "keys/bid_pk.bin", "proving key path")
	vkPath := fs.String("vk", "keys/bid_vk.bin", "verifying key path")
	fs.Parse(args)

	start := time.Now()
	ccs, err := circuit.Compile()
	if err != nil {
		return fmt.Errorf("compile circuit: %w", err)
	}
	log.Info().Int("constraints", ccs.GetNbConstraints()).Msg("circuit compiled")

	if _, _, err := zkp.SetupOrLoadKeys(ccs, *pkPath, *vkPath); err != nil {
		return err
	}
	log.Info().Str("pk", *pkPath).Str("vk", *vkPath).Dur("took", time.Since(start)).Msg("keys ready")
	return nil
}

type bidValues struct {
	auctionID      int64
	amount, secret string
}

func bidFlags(fs *flag.FlagSet) *bidValues {
	v := &bidValues{}
	fs.Int64Var(&v.auctionID, "auction", 0, "auction id the bid is bound to")
	fs.StringVar(&v.amount, "amount", "", "bid amount (decimal, below 2^64)")
	fs.StringVar(&v.secret, "secret", "", "blinding secret (decimal field element)")
	return v
}

func (v *bidValues) validate() error {
	if v.auctionID <= 0 {
		return errors.New("-auction must be positive")
	}
	if v.amount == "" || v.secret == "" {
		return errors.New("-amount and -secret are required")
	}
	return nil
}

func runProve(args []string) error {
	fs := flag.NewFlagSet("prove", flag.ExitOnError)
	pkPath := fs.String("pk", "keys/bid_pk.bin", "proving key path")
	v := bidFlags(fs)
	fs.Parse(args)
	if err := v.validate(); err != nil {
		return err
	}

	amount, err := commitment.ParseField(v.amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if amount.BitLen() > circuit.AmountBits {
		return fmt.Errorf("amount must fit in %d bits", circuit.AmountBits)
	}
	secret, err := commitment.ParseField(v.secret)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}

	ccs, err := circuit.Compile()
	if err != nil {
		return fmt.Errorf("compile circuit: %w", err)
	}
	pk, err := zkp.LoadProvingKey(*pkPath)
	if err != nil {
		return err
	}

	start := time.Now()
	proof, signals, err := zkp.NewProver(ccs, pk).Prove(amount, secret, v.auctionID)
	if err != nil {
		return err
	}
	log.Info().Int64("auction_id", v.auctionID).Str("commitment", signals[0]).
		Dur("took", time.Since(start)).Msg("proof generated")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Proof         *zkp.Proof `json:"proof"`
		PublicSignals []string   `json:"publicSignals"`
	}{proof, signals})
}

func runCommit(args []string) error {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	v := bidFlags(fs)
	fs.Parse(args)
	if err := v.validate(); err != nil {
		return err
	}

	cm, err := commitment.Hash(v.amount, v.secret, strconv.FormatInt(v.auctionID, 10))
	if err != nil {
		return err
	}
	fmt.Println(cm)
	return nil
}
