package receipt

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// Pipeline runs the per-container record_step chain and per-app
// seal_logblock sequencing behind a single notary key. A fresh Pipeline
// starts every container chain at a deterministic genesis tag rather than
// the zero hash, so two different containers' first receipts never
// accidentally share a prev_hash.
type Pipeline struct {
	mu     sync.Mutex
	notary *ed25519sig.PrivateKey

	lastHashByContainer  map[string]hashing.Hash
	nextIndexByContainer map[string]uint64
	nextHeightByApp      map[string]uint64
	pending              []*StepReceipt
}

// NewPipeline creates a Pipeline that signs every StepReceipt and LogBlock
// it produces with notary.
func NewPipeline(notary *ed25519sig.PrivateKey) *Pipeline {
	return &Pipeline{
		notary:               notary,
		lastHashByContainer:  make(map[string]hashing.Hash),
		nextIndexByContainer: make(map[string]uint64),
		nextHeightByApp:      make(map[string]uint64),
	}
}

// containerGenesisTag is the deterministic prev_hash used for a container's
// first step, standing in for "no predecessor" without relying on the zero
// Hash value, which two unrelated empty fields could otherwise collide on.
func containerGenesisTag(containerID string) hashing.Hash {
	return hashing.DomainHash(hashing.TagStepReceipt, []byte("genesis:"+containerID))
}

// RecordStep implements record_step: it chains a new StepReceipt onto
// containerID's existing chain (or the genesis tag if this is the
// container's first step), signs it with the notary key, and buffers it
// for the next SealLogBlock covering appID.
func (p *Pipeline) RecordStep(appID, containerID, operation string, usage Usage, labels map[string]string) (*StepReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.nextIndexByContainer[containerID]
	prevHash, ok := p.lastHashByContainer[containerID]
	if !ok {
		prevHash = containerGenesisTag(containerID)
	}

	r := &StepReceipt{
		ReceiptID:     uuid.NewString(),
		AppID:         appID,
		ContainerID:   containerID,
		Operation:     operation,
		StepIndex:     idx,
		PrevHash:      prevHash,
		ResourceUsage: usage,
		Labels:        labels,
		Timestamp:     time.Now(),
	}
	if err := r.Sign(p.notary); err != nil {
		return nil, fmt.Errorf("receipt: record_step: %w", err)
	}

	h, err := r.Hash()
	if err != nil {
		return nil, fmt.Errorf("receipt: record_step: %w", err)
	}
	p.lastHashByContainer[containerID] = h
	p.nextIndexByContainer[containerID] = idx + 1
	p.pending = append(p.pending, r)
	return r, nil
}

// SealLogBlock implements seal_logblock: it collects every buffered,
// unsealed receipt for appID whose Timestamp falls in window, orders them
// by (container_id, step_index), builds the Merkle root over their
// hashes, signs the block with the notary key, and assigns it the next
// height for appID. Sealed receipts are removed from the pending buffer so
// a later window never reseals them.
func (p *Pipeline) SealLogBlock(blockID, appID string, window BillingWindow) (*LogBlock, []*StepReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var selected []*StepReceipt
	remaining := p.pending[:0:0]
	for _, r := range p.pending {
		if r.AppID == appID && !r.Timestamp.Before(window.Start) && r.Timestamp.Before(window.End) {
			selected = append(selected, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("receipt: seal_logblock: no pending receipts for app %q in window", appID)
	}

	sortReceiptsByContainerThenIndex(selected)

	height := p.nextHeightByApp[appID]
	block, err := BuildLogBlock(blockID, appID, height, selected, p.notary)
	if err != nil {
		return nil, nil, err
	}
	p.nextHeightByApp[appID] = height + 1
	p.pending = remaining
	return block, selected, nil
}

func sortReceiptsByContainerThenIndex(receipts []*StepReceipt) {
	for i := 1; i < len(receipts); i++ {
		for j := i; j > 0; j-- {
			a, b := receipts[j-1], receipts[j]
			if a.ContainerID < b.ContainerID || (a.ContainerID == b.ContainerID && a.StepIndex <= b.StepIndex) {
				break
			}
			receipts[j-1], receipts[j] = receipts[j], receipts[j-1]
		}
	}
}
