package vrf

import "bytes"

// Candidate is one validator's VRF submission for a round.
type Candidate struct {
	ValidatorID string
	Proof       *Proof
}

// SelectLeader picks the candidate with the lexicographically smallest beta
// value. Every eligible validator computes the same alpha, so the smallest
// beta is both unpredictable ahead of time and verifiable by anyone holding
// the winner's public key and proof.
func SelectLeader(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if bytes.Compare(c.Proof.Beta.Bytes(), winner.Proof.Beta.Bytes()) < 0 {
			winner = c
		}
	}
	return winner, true
}
