package zkp

import (
	"fmt"
	"time"

	"github.com/consensys/gnark/frontend"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/merkle"
)

// ProofType enumerates the kinds of claims verify_proof accepts.
type ProofType string

const (
	ProofTypeRange           ProofType = "range"
	ProofTypeSetMembership   ProofType = "set_membership"
	ProofTypeMerkleInclusion ProofType = "merkle_inclusion"
	ProofTypeCustomSnark     ProofType = "custom_snark"
)

// ZkClaim is what a policy or court attaches to an obligation: a claim
// about private data, backed by a proof that can be checked without
// revealing the data itself.
type ZkClaim struct {
	ClaimID           string            `json:"claim_id" cbor:"claim_id"`
	ProofType         ProofType         `json:"proof_type" cbor:"proof_type"`
	PublicInputs      map[string]string `json:"public_inputs" cbor:"public_inputs"`
	VerificationKeyID string            `json:"verification_key_id" cbor:"verification_key_id"`
	CreatedAt         time.Time         `json:"created_at" cbor:"created_at"`
}

// Hash returns the claim's domain-separated identity hash.
func (c *ZkClaim) Hash() (hashing.Hash, error) {
	return hashing.DomainHashCanonical(hashing.TagZKClaim, c)
}

// ZkProof bundles a claim with the proof bytes and whatever caller-supplied
// material is needed to verify it. Only the fields relevant to the claim's
// proof type need to be set.
type ZkProof struct {
	Claim ZkClaim `json:"claim" cbor:"claim"`

	// ProofBytes carries the serialized Groth16 proof for ProofTypeRange and
	// ProofTypeCustomSnark.
	ProofBytes []byte `json:"proof_bytes,omitempty" cbor:"proof_bytes,omitempty"`

	// MerkleRoot, LeafHash and MerkleProof back ProofTypeMerkleInclusion and
	// ProofTypeSetMembership, both of which reduce to a Merkle inclusion
	// check against a committed root: set membership is inclusion in the
	// tree of the set's elements.
	MerkleRoot  hashing.Hash           `json:"merkle_root,omitempty" cbor:"merkle_root,omitempty"`
	LeafHash    hashing.Hash           `json:"leaf_hash,omitempty" cbor:"leaf_hash,omitempty"`
	MerkleProof *merkle.InclusionProof `json:"merkle_proof,omitempty" cbor:"-"`

	// RangeMin and RangeMax back ProofTypeRange.
	RangeMin int64 `json:"range_min,omitempty" cbor:"range_min,omitempty"`
	RangeMax int64 `json:"range_max,omitempty" cbor:"range_max,omitempty"`

	// VerificationKey and PublicAssignment back ProofTypeCustomSnark. The
	// assignment's circuit is registered out of band by whoever issued the
	// claim; only its public fields need to be populated.
	VerificationKey   []byte           `json:"verification_key,omitempty" cbor:"verification_key,omitempty"`
	PublicAssignment  frontend.Circuit `json:"-" cbor:"-"`
}

// Result is the outcome of VerifyProof, matching the shape the policy
// engine and registry both report back to callers.
type Result struct {
	Valid              bool
	GasConsumed        uint64
	VerificationTimeMs int64
}

// gasCost approximates the on-chain cost of checking each proof type, used
// only for the billing estimate a court records alongside a verified claim.
var gasCost = map[ProofType]uint64{
	ProofTypeRange:           185_000,
	ProofTypeSetMembership:   45_000,
	ProofTypeMerkleInclusion: 45_000,
	ProofTypeCustomSnark:     210_000,
}

// Verifier checks ZkProofs. A single Verifier is shared by every component
// that needs to check range proofs, since RangeProver carries the Groth16
// trusted-setup state.
type Verifier struct {
	rangeProver *RangeProver
}

// NewVerifier builds a Verifier with its own range-circuit trusted setup.
func NewVerifier() (*Verifier, error) {
	rp := NewRangeProver()
	if err := rp.Setup(); err != nil {
		return nil, err
	}
	return &Verifier{rangeProver: rp}, nil
}

// RangeProver exposes the verifier's underlying RangeProver so callers can
// generate proofs against the same trusted-setup artifacts this verifier
// checks against.
func (v *Verifier) RangeProver() *RangeProver {
	return v.rangeProver
}

// VerifyProof checks proof according to its claim's declared proof type and
// reports the result along with an approximate gas cost and the wall-clock
// time verification took.
func (v *Verifier) VerifyProof(proof *ZkProof) (Result, error) {
	start := time.Now()

	var (
		valid bool
		err   error
	)
	switch proof.Claim.ProofType {
	case ProofTypeRange:
		valid, err = v.rangeProver.VerifyRange(proof.ProofBytes, proof.RangeMin, proof.RangeMax)

	case ProofTypeMerkleInclusion, ProofTypeSetMembership:
		if proof.MerkleProof == nil {
			err = fmt.Errorf("zkp: %s proof missing merkle proof", proof.Claim.ProofType)
			break
		}
		valid, err = merkle.VerifyProof(proof.LeafHash.Bytes(), proof.MerkleProof, proof.MerkleRoot.Bytes())

	case ProofTypeCustomSnark:
		if proof.PublicAssignment == nil {
			err = fmt.Errorf("zkp: custom snark proof missing public assignment")
			break
		}
		valid, err = VerifyCustomSnark(proof.VerificationKey, proof.ProofBytes, proof.PublicAssignment)

	default:
		err = fmt.Errorf("zkp: unknown proof type %q", proof.Claim.ProofType)
	}

	elapsed := time.Since(start)
	if err != nil {
		return Result{}, err
	}

	gas := gasCost[proof.Claim.ProofType]
	if !valid {
		gas = 21_000
	}
	return Result{
		Valid:              valid,
		GasConsumed:        gas,
		VerificationTimeMs: elapsed.Milliseconds(),
	}, nil
}
