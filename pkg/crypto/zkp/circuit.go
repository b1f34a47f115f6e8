// Package zkp implements the ZK-SNARK verification surface behind
// verify_proof: a Groth16 range circuit for ProofTypeRange, and the
// generic proving/verification plumbing CustomSnark proofs run through.
// Built on gnark, generalizing the BLS-threshold circuit and prover in the
// teacher repo's bls_zkp package to an arbitrary, per-proof-type circuit.
package zkp

import (
	"github.com/consensys/gnark/frontend"
)

// RangeCircuit proves that a private Value lies in [Min, Max] without
// revealing Value itself. Min and Max are public.
type RangeCircuit struct {
	Value frontend.Variable `gnark:",secret"`
	Min   frontend.Variable `gnark:",public"`
	Max   frontend.Variable `gnark:",public"`
}

func (c *RangeCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(c.Min, c.Value)
	api.AssertIsLessOrEqual(c.Value, c.Max)
	return nil
}
