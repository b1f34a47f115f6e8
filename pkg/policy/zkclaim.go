package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bpi-core/bpci-core/pkg/crypto/zkp"
)

var ErrClaimVerificationFailed = errors.New("policy: zk claim verification failed")

// ClaimType categorizes what a ZkClaim is asserting about the party
// presenting it, independent of the cryptographic proof type backing it.
type ClaimType string

const (
	ClaimAgeVerification        ClaimType = "age_verification"
	ClaimBalanceVerification    ClaimType = "balance_verification"
	ClaimMembershipVerification ClaimType = "membership_verification"
	ClaimComplianceVerification ClaimType = "compliance_verification"
)

// Claim pairs a human-readable statement with the ZkProof that backs it.
type Claim struct {
	Statement string
	Type      ClaimType
	Proof     *zkp.ZkProof
}

// ClaimVerifier checks ZK claims attached to a policy's execution context.
// A Court that requires ZK gets one of these; verification runs before the
// policy's bytecode executes so a failing claim never reaches the engine.
type ClaimVerifier struct {
	mu       sync.Mutex
	verifier *zkp.Verifier
	stats    ClaimStats
}

// ClaimStats tracks verification outcomes across every claim this
// verifier has checked.
type ClaimStats struct {
	TotalVerifications uint64
	ValidProofs        uint64
	InvalidProofs      uint64
	TotalGasConsumed   uint64
}

// NewClaimVerifier builds a ClaimVerifier with its own Groth16 trusted
// setup for range proofs.
func NewClaimVerifier() (*ClaimVerifier, error) {
	v, err := zkp.NewVerifier()
	if err != nil {
		return nil, fmt.Errorf("policy: init claim verifier: %w", err)
	}
	return &ClaimVerifier{verifier: v}, nil
}

// VerifyClaim checks claim's proof and records the outcome in the
// verifier's running statistics.
func (cv *ClaimVerifier) VerifyClaim(claim *Claim) (zkp.Result, error) {
	result, err := cv.verifier.VerifyProof(claim.Proof)
	if err != nil {
		return zkp.Result{}, fmt.Errorf("policy: verify claim %q: %w", claim.Statement, err)
	}

	cv.mu.Lock()
	cv.stats.TotalVerifications++
	cv.stats.TotalGasConsumed += result.GasConsumed
	if result.Valid {
		cv.stats.ValidProofs++
	} else {
		cv.stats.InvalidProofs++
	}
	cv.mu.Unlock()

	if !result.Valid {
		return result, ErrClaimVerificationFailed
	}
	return result, nil
}

// RangeProver exposes the range prover backing this verifier, so callers
// can generate range proofs against the same trusted-setup artifacts this
// verifier checks against.
func (cv *ClaimVerifier) RangeProver() *zkp.RangeProver {
	return cv.verifier.RangeProver()
}

// Snapshot returns a copy of the verifier's lifetime statistics.
func (cv *ClaimVerifier) Snapshot() ClaimStats {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.stats
}

// EnforceWithClaims runs Enforce only after every required claim verifies,
// so a court configured with RequiresZK policies never executes bytecode
// on behalf of a party that failed to prove its claims.
func (c *Court) EnforceWithClaims(agreementID uuid.UUID, execCtx map[string]string, claims []*Claim, verifier *ClaimVerifier) ([]PolicyResult, bool, error) {
	for _, claim := range claims {
		if _, err := verifier.VerifyClaim(claim); err != nil {
			return nil, false, err
		}
	}
	return c.Enforce(agreementID, execCtx)
}
