// Package consensus implements the IBFT-style round protocol: validator
// sets, BLS commit aggregation, VRF leader election, and view-change on
// round timeout.
package consensus

import "time"

// ValidatorRole distinguishes full voting members from observers.
type ValidatorRole string

const (
	RoleValidator ValidatorRole = "validator"
	RoleObserver  ValidatorRole = "observer"
)

// ValidatorInfo describes one member of a ValidatorSet.
type ValidatorInfo struct {
	ValidatorID    string        `json:"validator_id"`
	BLSPublicKey   []byte        `json:"bls_public_key"`
	VRFPublicKey   []byte        `json:"vrf_public_key"`
	NetworkAddress string        `json:"network_address"`
	VotingPower    int64         `json:"voting_power"`
	Role           ValidatorRole `json:"role"`
	JoinedAt       time.Time     `json:"joined_at"`
}

// Priority labels the urgency of a request handled outside the round
// protocol itself (e.g. an operator-triggered view change).
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidateThreshold reports whether approveCount/totalCount meets threshold.
func ValidateThreshold(approveCount, totalCount int, threshold float64) bool {
	if totalCount == 0 {
		return false
	}
	return float64(approveCount)/float64(totalCount) >= threshold
}

// CalculateRequiredCount returns the minimum count needed to meet threshold
// out of total, with a floor of one when total is positive.
func CalculateRequiredCount(total int, threshold float64) int {
	required := int(float64(total) * threshold)
	if required == 0 && total > 0 {
		required = 1
	}
	return required
}

// IsByzantineFaultTolerant reports whether totalValidators can tolerate
// maxFaults Byzantine validators under the standard n >= 3f+1 bound.
func IsByzantineFaultTolerant(totalValidators, maxFaults int) bool {
	return totalValidators >= 3*maxFaults+1
}

// QuorumThreshold returns the minimum signer count (2f+1) for a validator
// set of size n to finalize a block, given the standard n = 3f+1 bound.
func QuorumThreshold(n int) int {
	f := (n - 1) / 3
	return 2*f + 1
}
