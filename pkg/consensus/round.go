package consensus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/bls"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// Header is the canonical block header the round protocol votes on.
type Header struct {
	Height       uint64       `cbor:"height"`
	Round        uint64       `cbor:"round"`
	PrevHash     hashing.Hash `cbor:"prev_hash"`
	ProposerID   string       `cbor:"proposer_id"`
	ReceiptsRoot hashing.Hash `cbor:"receipts_root"`
	Timestamp    time.Time    `cbor:"timestamp"`
}

// Hash returns the header's domain-separated identity hash.
func (h *Header) Hash() (hashing.Hash, error) {
	return hashing.DomainHashCanonical(hashing.TagBlockHeader, h)
}

// VoteType distinguishes the two IBFT voting phases.
type VoteType string

const (
	VotePrevote   VoteType = "prevote"
	VotePrecommit VoteType = "precommit"
)

// signingMessage builds H(header_hash || round || height), the message
// every prevote/precommit and the aggregate commit signature are computed
// over.
func signingMessage(headerHash hashing.Hash, round, height uint64) []byte {
	buf := make([]byte, 0, 32+8+8)
	buf = append(buf, headerHash.Bytes()...)
	var rb, hb [8]byte
	binary.BigEndian.PutUint64(rb[:], round)
	binary.BigEndian.PutUint64(hb[:], height)
	buf = append(buf, rb[:]...)
	buf = append(buf, hb[:]...)
	return hashing.DomainHash(hashing.TagVote, buf).Bytes()
}

// Vote is a single validator's signed prevote or precommit.
type Vote struct {
	Type        VoteType
	Height      uint64
	Round       uint64
	HeaderHash  hashing.Hash
	ValidatorID string
	Signature   *bls.Signature
}

// Sign produces a Vote of the given type, signed by priv.
func Sign(voteType VoteType, height, round uint64, headerHash hashing.Hash, validatorID string, priv *bls.PrivateKey) *Vote {
	msg := signingMessage(headerHash, round, height)
	return &Vote{
		Type:        voteType,
		Height:      height,
		Round:       round,
		HeaderHash:  headerHash,
		ValidatorID: validatorID,
		Signature:   priv.Sign(msg),
	}
}

// Verify checks the vote's signature against pub.
func (v *Vote) Verify(pub *bls.PublicKey) bool {
	msg := signingMessage(v.HeaderHash, v.Round, v.Height)
	return pub.Verify(v.Signature, msg)
}

// CommitAggregator collects precommit signatures for one (height, round,
// header) and produces a BlsCommit once quorum is reached.
type CommitAggregator struct {
	mu sync.Mutex

	set        *ValidatorSet
	height     uint64
	round      uint64
	headerHash hashing.Hash

	signatures map[int]*bls.Signature
}

// NewCommitAggregator creates an aggregator bound to one header at one
// height/round against set.
func NewCommitAggregator(set *ValidatorSet, height, round uint64, headerHash hashing.Hash) *CommitAggregator {
	return &CommitAggregator{
		set:        set,
		height:     height,
		round:      round,
		headerHash: headerHash,
		signatures: make(map[int]*bls.Signature),
	}
}

// AddSignature adds v's precommit to the aggregator. It rejects votes for a
// different header/round/height, votes from validators outside the set, and
// duplicate votes from a validator already recorded.
func (ca *CommitAggregator) AddSignature(v *Vote) error {
	if v.Type != VotePrecommit {
		return fmt.Errorf("consensus: aggregator only accepts precommits, got %s", v.Type)
	}
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if v.Height != ca.height || v.Round != ca.round || v.HeaderHash != ca.headerHash {
		return fmt.Errorf("consensus: vote does not match aggregator's (height, round, header)")
	}
	idx, ok := ca.set.IndexOf(v.ValidatorID)
	if !ok {
		return fmt.Errorf("consensus: unknown validator %q", v.ValidatorID)
	}
	if _, dup := ca.signatures[idx]; dup {
		return fmt.Errorf("consensus: duplicate precommit from validator %q", v.ValidatorID)
	}
	ca.signatures[idx] = v.Signature
	return nil
}

// Count returns the number of distinct signatures collected so far.
func (ca *CommitAggregator) Count() int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return len(ca.signatures)
}

// Aggregate builds a BlsCommit once at least 2f+1 signatures have been
// collected. It returns an error if quorum has not yet been reached.
func (ca *CommitAggregator) Aggregate() (*BlsCommit, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	required := ca.set.Quorum()
	if len(ca.signatures) < required {
		return nil, fmt.Errorf("consensus: only %d of %d required signatures collected", len(ca.signatures), required)
	}

	bitmap := make([]bool, ca.set.Size())
	sigs := make([]*bls.Signature, 0, len(ca.signatures))
	for idx, sig := range ca.signatures {
		bitmap[idx] = true
		sigs = append(sigs, sig)
	}

	agg, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return nil, fmt.Errorf("consensus: aggregate signatures: %w", err)
	}

	return &BlsCommit{
		Height:     ca.height,
		Round:      ca.round,
		HeaderHash: ca.headerHash,
		Bitmap:     bitmap,
		Signature:  agg,
	}, nil
}

// BlsCommit is the finalization certificate for a block: an aggregate BLS
// signature over signingMessage(HeaderHash, Round, Height) from at least
// 2f+1 validators, identified by Bitmap.
type BlsCommit struct {
	Height     uint64       `cbor:"height"`
	Round      uint64       `cbor:"round"`
	HeaderHash hashing.Hash `cbor:"header_hash"`
	Bitmap     []bool       `cbor:"bitmap"`
	Signature  *bls.Signature
}

// Hash returns the commit's domain-separated identity hash, computed over
// everything but the signature object itself (the signature is verified
// separately, not identity-hashed).
func (c *BlsCommit) Hash() (hashing.Hash, error) {
	type identity struct {
		Height     uint64
		Round      uint64
		HeaderHash hashing.Hash
		Bitmap     []bool
	}
	return hashing.DomainHashCanonical(hashing.TagBlsCommit, identity{c.Height, c.Round, c.HeaderHash, c.Bitmap})
}

// VerifyResult is the outcome of checking a BlsCommit against a ValidatorSet.
type VerifyResult struct {
	IsValid           bool
	SignatureCount    int
	RequiredThreshold int
	Signers           []string
	Errors            []string
}

// Verify checks that c carries signatures from at least 2f+1 members of
// set, that every bit in c.Bitmap indexes an actual member, and that the
// aggregate signature verifies against the derived aggregate public key
// over signingMessage(HeaderHash, Round, Height).
func (c *BlsCommit) Verify(set *ValidatorSet) VerifyResult {
	var errs []string

	if len(c.Bitmap) != set.Size() {
		errs = append(errs, fmt.Sprintf("bitmap length %d does not match validator set size %d", len(c.Bitmap), set.Size()))
		return VerifyResult{IsValid: false, RequiredThreshold: set.Quorum(), Errors: errs}
	}

	var (
		signers []string
		pubKeys []*bls.PublicKey
	)
	for idx, bit := range c.Bitmap {
		if !bit {
			continue
		}
		v, ok := set.At(idx)
		if !ok {
			errs = append(errs, fmt.Sprintf("bitmap bit %d does not index a validator set member", idx))
			continue
		}
		signers = append(signers, v.Info.ValidatorID)
		pubKeys = append(pubKeys, v.BLSKey)
	}

	required := set.Quorum()
	result := VerifyResult{
		SignatureCount:    len(signers),
		RequiredThreshold: required,
		Signers:           signers,
	}

	if len(signers) < required {
		errs = append(errs, fmt.Sprintf("only %d signers, need %d", len(signers), required))
	}
	if len(errs) == 0 {
		msg := signingMessage(c.HeaderHash, c.Round, c.Height)
		if !bls.VerifyAggregateSignature(c.Signature, pubKeys, msg) {
			errs = append(errs, "aggregate signature verification failed")
		}
	}

	result.Errors = errs
	result.IsValid = len(errs) == 0
	return result
}
