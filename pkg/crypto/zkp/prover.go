package zkp

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// curve is the scalar field every circuit in this package compiles over.
// Range proofs don't need BLS12-381's pairing-friendly structure, so BN254
// is used for smaller proofs and faster verification, matching the
// teacher's own choice for its circuit.
const curve = ecc.BN254

// RangeProver holds the one-time trusted-setup artifacts for RangeCircuit.
// A single instance is shared across every range proof the policy engine
// verifies, since the circuit shape never changes between claims.
type RangeProver struct {
	mu  sync.RWMutex
	cs  constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
	set bool
}

// NewRangeProver creates an uninitialized prover; call Setup before use.
func NewRangeProver() *RangeProver { return &RangeProver{} }

// Setup compiles RangeCircuit and runs the Groth16 trusted setup. Safe to
// call once per process; see cmd/bls-zk-setup for the offline ceremony that
// persists the verifying key (the proving key is not persisted).
func (p *RangeProver) Setup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set {
		return nil
	}

	var circuit RangeCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("zkp: compile range circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("zkp: groth16 setup: %w", err)
	}
	p.cs, p.pk, p.vk = cs, pk, vk
	p.set = true
	return nil
}

// VerifyingKey exposes the verification key for publishing alongside a
// ZkClaim's verification_key_id.
func (p *RangeProver) VerifyingKey() groth16.VerifyingKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vk
}

// ProveRange proves that value lies in [min, max], returning the
// serialized Groth16 proof bytes.
func (p *RangeProver) ProveRange(value, min, max int64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.set {
		return nil, fmt.Errorf("zkp: range prover not initialized")
	}

	assignment := &RangeCircuit{
		Value: big.NewInt(value),
		Min:   big.NewInt(min),
		Max:   big.NewInt(max),
	}
	witness, err := frontend.NewWitness(assignment, curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("zkp: build witness: %w", err)
	}

	proof, err := groth16.Prove(p.cs, p.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("zkp: prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("zkp: serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifyRange checks a serialized range proof against the public bounds.
func (p *RangeProver) VerifyRange(proofBytes []byte, min, max int64) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.set {
		return false, fmt.Errorf("zkp: range prover not initialized")
	}

	proof := groth16.NewProof(curve)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("zkp: deserialize proof: %w", err)
	}

	assignment := &RangeCircuit{Min: big.NewInt(min), Max: big.NewInt(max)}
	publicWitness, err := frontend.NewWitness(assignment, curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("zkp: build public witness: %w", err)
	}

	if err := groth16.Verify(proof, p.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// VerifyCustomSnark verifies an arbitrary Groth16 proof against a
// caller-supplied verification key and public assignment. This backs
// ProofTypeCustomSnark, where the circuit shape is defined out of band by
// whoever registered the verification key; publicAssignment only needs its
// public fields populated, mirroring how RangeCircuit is only ever
// constructed with Min/Max for verification.
func VerifyCustomSnark(vkBytes, proofBytes []byte, publicAssignment frontend.Circuit) (bool, error) {
	vk := groth16.NewVerifyingKey(curve)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return false, fmt.Errorf("zkp: deserialize verification key: %w", err)
	}
	proof := groth16.NewProof(curve)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("zkp: deserialize proof: %w", err)
	}

	publicWitness, err := frontend.NewWitness(publicAssignment, curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("zkp: build public witness: %w", err)
	}

	if err := groth16.Verify(proof, vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}
