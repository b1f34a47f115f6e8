package consensus

import (
	"fmt"
	"sync"

	"github.com/bpi-core/bpci-core/pkg/crypto/bls"
	"github.com/bpi-core/bpci-core/pkg/crypto/vrf"
)

// Validator is one epoch-stable member of a ValidatorSet, holding both the
// BLS key used for commit aggregation and the VRF key used for leader
// election.
type Validator struct {
	Info      ValidatorInfo
	BLSKey    *bls.PublicKey
	VRFKey    *vrf.PublicKey
}

// ValidatorSet is the fixed membership a consensus epoch runs against.
// Indices are stable for the lifetime of the set: BlsCommit's signer bitmap
// is defined over this ordering.
type ValidatorSet struct {
	mu         sync.RWMutex
	epoch      uint64
	validators []Validator
	byID       map[string]int
}

// NewValidatorSet builds a ValidatorSet for epoch from validators, in the
// order given. The order is the commit bitmap's index space and must not be
// reshuffled mid-epoch.
func NewValidatorSet(epoch uint64, validators []Validator) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("consensus: validator set must not be empty")
	}
	byID := make(map[string]int, len(validators))
	for i, v := range validators {
		if v.Info.ValidatorID == "" {
			return nil, fmt.Errorf("consensus: validator at index %d has empty ID", i)
		}
		if _, dup := byID[v.Info.ValidatorID]; dup {
			return nil, fmt.Errorf("consensus: duplicate validator ID %q", v.Info.ValidatorID)
		}
		byID[v.Info.ValidatorID] = i
	}
	return &ValidatorSet{
		epoch:      epoch,
		validators: append([]Validator(nil), validators...),
		byID:       byID,
	}, nil
}

// Epoch returns the set's epoch number.
func (vs *ValidatorSet) Epoch() uint64 {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.epoch
}

// Size returns the number of validators in the set.
func (vs *ValidatorSet) Size() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}

// Quorum returns the minimum number of signatures (2f+1) required to
// finalize a block under this set.
func (vs *ValidatorSet) Quorum() int {
	return QuorumThreshold(vs.Size())
}

// IndexOf returns the validator's stable index, or false if unknown.
func (vs *ValidatorSet) IndexOf(validatorID string) (int, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	i, ok := vs.byID[validatorID]
	return i, ok
}

// At returns the validator at index i.
func (vs *ValidatorSet) At(i int) (Validator, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if i < 0 || i >= len(vs.validators) {
		return Validator{}, false
	}
	return vs.validators[i], true
}

// All returns a copy of the set's validators in index order.
func (vs *ValidatorSet) All() []Validator {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return append([]Validator(nil), vs.validators...)
}

// VRFCandidates builds the vrf.Candidate slice for leader election over
// alpha, proving with each validator's VRF key where the caller holds the
// private key (used in tests and single-process simulation; a networked
// deployment instead collects proofs from each validator over the wire and
// calls vrf.SelectLeader directly on the received candidates).
func VRFCandidates(keys map[string]*vrf.PrivateKey, alpha []byte) ([]vrf.Candidate, error) {
	candidates := make([]vrf.Candidate, 0, len(keys))
	for id, key := range keys {
		proof, err := key.Prove(alpha)
		if err != nil {
			return nil, fmt.Errorf("consensus: vrf prove for %s: %w", id, err)
		}
		candidates = append(candidates, vrf.Candidate{ValidatorID: id, Proof: proof})
	}
	return candidates, nil
}
