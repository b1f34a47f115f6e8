package anchor

import (
	"fmt"
	"sync"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// HeaderView is the minimal header shape the light client tracks: just
// enough to do parent-linking and reorg-depth math without depending
// on pkg/consensus's full Header type.
type HeaderView struct {
	Hash     hashing.Hash
	Height   uint64
	PrevHash hashing.Hash
}

type trackedHeader struct {
	view          HeaderView
	confirmations uint64
	anchorID      string
}

// ReorgOutcome is the result of testing a candidate header against the
// light client's reorg policy.
type ReorgOutcome string

const (
	ReorgAllowed            ReorgOutcome = "allowed"
	ReorgRejectedDepthLimit ReorgOutcome = "rejected_depth_limit"
	ReorgRejectedPreAnchor  ReorgOutcome = "rejected_pre_anchor"
	ReorgMissingParent      ReorgOutcome = "missing_parent"
)

// ReorgDecision carries the outcome plus the figures that justified it.
type ReorgDecision struct {
	Outcome         ReorgOutcome
	Depth           uint64
	MaxReorgDepth   uint64
	LastAnchorHeight uint64
	ReorgHeight     uint64
}

// LightClientConfig bounds the light client's reorg policy.
type LightClientConfig struct {
	MaxReorgDepth           uint64
	StrictAnchorVerification bool
}

// DefaultLightClientConfig matches the spec's defaults.
func DefaultLightClientConfig() LightClientConfig {
	return LightClientConfig{MaxReorgDepth: 100, StrictAnchorVerification: true}
}

// LightClient tracks headers by height and hash, the current best
// header, and the watermark below which no reorg is ever accepted
// once a height has been sufficiently anchored. Grounded on the
// anchor-height-monotonicity invariant named in
// minute_root_anchoring.rs and on the teacher's idempotent-by-id
// MarkAnchorProduced/MarkAnchorDelivered pattern in its ledger store,
// generalized here into update_anchor_receipt.
type LightClient struct {
	mu sync.RWMutex

	config LightClientConfig

	byHeight map[uint64]*trackedHeader
	byHash   map[hashing.Hash]*trackedHeader
	anchored map[uint64]bool

	best             HeaderView
	hasBest          bool
	lastAnchorHeight uint64
}

// NewLightClient creates an empty LightClient.
func NewLightClient(cfg LightClientConfig) *LightClient {
	return &LightClient{
		config:   cfg,
		byHeight: make(map[uint64]*trackedHeader),
		byHash:   make(map[hashing.Hash]*trackedHeader),
		anchored: make(map[uint64]bool),
	}
}

// AddGenesis seeds the light client with a header that has no parent.
func (lc *LightClient) AddGenesis(h HeaderView) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	t := &trackedHeader{view: h}
	lc.byHeight[h.Height] = t
	lc.byHash[h.Hash] = t
	lc.best = h
	lc.hasBest = true
}

// AddHeader inserts h, applying the reorg policy when h would rewrite
// an existing height. It returns MissingParent if h.PrevHash is not a
// known header.
func (lc *LightClient) AddHeader(h HeaderView) (ReorgDecision, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, ok := lc.byHash[h.PrevHash]; !ok {
		return ReorgDecision{Outcome: ReorgMissingParent}, fmt.Errorf("anchor: missing parent for header at height %d", h.Height)
	}

	decision := ReorgDecision{
		Outcome:          ReorgAllowed,
		MaxReorgDepth:    lc.config.MaxReorgDepth,
		LastAnchorHeight: lc.lastAnchorHeight,
		ReorgHeight:      h.Height,
	}

	if lc.hasBest && h.Height <= lc.best.Height {
		depth := lc.best.Height - h.Height + 1
		decision.Depth = depth

		if depth > lc.config.MaxReorgDepth {
			decision.Outcome = ReorgRejectedDepthLimit
			return decision, nil
		}
		if lc.config.StrictAnchorVerification && h.Height <= lc.lastAnchorHeight {
			decision.Outcome = ReorgRejectedPreAnchor
			return decision, nil
		}
	}

	t := &trackedHeader{view: h}
	lc.byHeight[h.Height] = t
	lc.byHash[h.Hash] = t

	if !lc.hasBest || h.Height > lc.best.Height {
		lc.best = h
		lc.hasBest = true
	}

	return decision, nil
}

// UpdateAnchorReceipt lifts the confirmation count for the header
// matching receipt.HeaderHash and, once confirmations cross the
// manager's threshold, promotes it into the anchored set and advances
// lastAnchorHeight. Once a height is anchored this way, AddHeader's
// policy above refuses to ever rewrite it or anything below it.
func (lc *LightClient) UpdateAnchorReceipt(receipt Receipt, minConfirmations uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	t, ok := lc.byHash[receipt.HeaderHash]
	if !ok {
		return
	}
	t.confirmations = receipt.Confirmations
	t.anchorID = receipt.AnchorID

	if receipt.Confirmations >= minConfirmations && !lc.anchored[t.view.Height] {
		lc.anchored[t.view.Height] = true
		if t.view.Height > lc.lastAnchorHeight {
			lc.lastAnchorHeight = t.view.Height
		}
	}
}

// WouldAllowReorg reports the decision AddHeader would make for a
// reorg to reorgHeight, without mutating state.
func (lc *LightClient) WouldAllowReorg(reorgHeight uint64) ReorgDecision {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	decision := ReorgDecision{
		Outcome:          ReorgAllowed,
		MaxReorgDepth:    lc.config.MaxReorgDepth,
		LastAnchorHeight: lc.lastAnchorHeight,
		ReorgHeight:      reorgHeight,
	}
	if !lc.hasBest || reorgHeight > lc.best.Height {
		return decision
	}

	depth := lc.best.Height - reorgHeight + 1
	decision.Depth = depth
	if depth > lc.config.MaxReorgDepth {
		decision.Outcome = ReorgRejectedDepthLimit
		return decision
	}
	if lc.config.StrictAnchorVerification && reorgHeight <= lc.lastAnchorHeight {
		decision.Outcome = ReorgRejectedPreAnchor
	}
	return decision
}

// BestHeader returns the current tip.
func (lc *LightClient) BestHeader() (HeaderView, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.best, lc.hasBest
}

// LastAnchorHeight returns the highest height anchored so far.
func (lc *LightClient) LastAnchorHeight() uint64 {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastAnchorHeight
}

// IsAnchored reports whether height has crossed the confirmation
// threshold.
func (lc *LightClient) IsAnchored(height uint64) bool {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.anchored[height]
}
