// Package receipt defines the execution-trace artifacts produced by a
// workload run: individual StepReceipts, the LogBlock that batches them, and
// the PoEBundle that folds a batch's receipts into an anchorable root.
package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/merkle"
)

var (
	ErrEmptyBatch        = errors.New("receipt: cannot build a root from zero receipts")
	ErrSignatureMismatch = errors.New("receipt: signature does not verify under the claimed witness key")
	ErrReceiptTooOld     = errors.New("receipt: receipt age exceeds the freshness window")
	ErrChainBroken       = errors.New("receipt: prev_hash does not match the predecessor's hash")
)

// StepReceipt is the signed audit record of a single observable operation
// performed by a container.
type StepReceipt struct {
	ReceiptID     string            `cbor:"receipt_id"`
	AppID         string            `cbor:"app_id"`
	ContainerID   string            `cbor:"container_id"`
	Operation     string            `cbor:"operation"`
	StepIndex     uint64            `cbor:"step_index"`
	PrevHash      hashing.Hash      `cbor:"prev_hash"`
	InputDigest   hashing.Hash      `cbor:"input_digest"`
	OutputDigest  hashing.Hash      `cbor:"output_digest"`
	ResourceUsage Usage             `cbor:"resource_usage"`
	Labels        map[string]string `cbor:"labels,omitempty"`
	WitnessKey    []byte            `cbor:"witness_key"` // Ed25519 public key bytes
	Timestamp     time.Time         `cbor:"timestamp"`
	Signature     []byte            `cbor:"signature"`
}

// Hash returns the domain-separated identity hash of the receipt, computed
// over the canonical encoding of every field except the signature itself.
func (r *StepReceipt) Hash() (hashing.Hash, error) {
	unsigned := *r
	unsigned.Signature = nil
	return hashing.DomainHashCanonical(hashing.TagStepReceipt, &unsigned)
}

// Sign computes the receipt hash and signs it with priv, setting both
// WitnessKey and Signature.
func (r *StepReceipt) Sign(priv *ed25519sig.PrivateKey) error {
	r.WitnessKey = priv.PublicKey().Bytes()
	h, err := r.Hash()
	if err != nil {
		return err
	}
	r.Signature = priv.SignHash(h).Bytes()
	receiptsRecordedTotal.Inc()
	return nil
}

// Verify checks the receipt's signature against its own WitnessKey and
// confirms it chains from prev (prev may be nil only for StepIndex 0).
func (r *StepReceipt) Verify(prev *StepReceipt, maxAge time.Duration) error {
	pub, err := ed25519sig.PublicKeyFromBytes(r.WitnessKey)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	sig, err := ed25519sig.SignatureFromBytes(r.Signature)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	h, err := r.Hash()
	if err != nil {
		return err
	}
	ok, err := ed25519sig.VerifyHash(pub, h, sig)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	if !ok {
		return ErrSignatureMismatch
	}

	if prev == nil {
		if r.StepIndex != 0 {
			return fmt.Errorf("%w: step %d has no predecessor", ErrChainBroken, r.StepIndex)
		}
	} else {
		prevHash, err := prev.Hash()
		if err != nil {
			return err
		}
		if prevHash != r.PrevHash {
			return ErrChainBroken
		}
	}

	if maxAge > 0 && time.Since(r.Timestamp) > maxAge {
		return ErrReceiptTooOld
	}
	return nil
}

// LogBlock batches a contiguous run of StepReceipts for a single app,
// notary-signed at seal time. Height is assigned per app and increases
// monotonically with every LogBlock sealed for that app.
type LogBlock struct {
	BlockID         string         `cbor:"block_id"`
	AppID           string         `cbor:"app_id"`
	Height          uint64         `cbor:"height"`
	StartIndex      uint64         `cbor:"start_index"`
	EndIndex        uint64         `cbor:"end_index"`
	ReceiptHashes   []hashing.Hash `cbor:"receipt_hashes"`
	ReceiptsRoot    hashing.Hash   `cbor:"receipts_root"`
	CreatedAt       time.Time      `cbor:"created_at"`
	NotaryKey       []byte         `cbor:"notary_key"`
	NotarySignature []byte         `cbor:"notary_signature,omitempty"`
}

// Hash returns the block's domain-separated identity hash, excluding the
// notary signature.
func (b *LogBlock) Hash() (hashing.Hash, error) {
	unsigned := *b
	unsigned.NotarySignature = nil
	return hashing.DomainHashCanonical(hashing.TagLogBlock, &unsigned)
}

// Sign signs the block with the notary's key, setting NotaryKey and
// NotarySignature.
func (b *LogBlock) Sign(notary *ed25519sig.PrivateKey) error {
	b.NotaryKey = notary.PublicKey().Bytes()
	h, err := b.Hash()
	if err != nil {
		return err
	}
	b.NotarySignature = notary.SignHash(h).Bytes()
	return nil
}

// VerifyNotarySignature checks the block's notary signature against its
// own NotaryKey.
func (b *LogBlock) VerifyNotarySignature() error {
	pub, err := ed25519sig.PublicKeyFromBytes(b.NotaryKey)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	sig, err := ed25519sig.SignatureFromBytes(b.NotarySignature)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	h, err := b.Hash()
	if err != nil {
		return err
	}
	ok, err := ed25519sig.VerifyHash(pub, h, sig)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	if !ok {
		return ErrSignatureMismatch
	}
	return nil
}

// BuildLogBlock folds an ordered, already-verified run of receipts for appID
// into a LogBlock at height, computing the domain-separated receipts root
// over their hashes and signing the result with the notary key. Callers
// that need per-app monotonic heights assigned for them should go through
// Pipeline.SealLogBlock instead of calling this directly.
func BuildLogBlock(blockID, appID string, height uint64, receipts []*StepReceipt, notary *ed25519sig.PrivateKey) (*LogBlock, error) {
	root, hashes, err := ComputeReceiptsRoot(receipts)
	if err != nil {
		return nil, err
	}
	block := &LogBlock{
		BlockID:       blockID,
		AppID:         appID,
		Height:        height,
		StartIndex:    receipts[0].StepIndex,
		EndIndex:      receipts[len(receipts)-1].StepIndex,
		ReceiptHashes: hashes,
		ReceiptsRoot:  root,
		CreatedAt:     time.Now(),
	}
	if err := block.Sign(notary); err != nil {
		return nil, fmt.Errorf("receipt: sign log block: %w", err)
	}
	logBlocksSealedTotal.Inc()
	return block, nil
}

// ComputeReceiptsRoot computes the Merkle root of receipt hashes under the
// RECEIPTS_ROOT domain tag. The leaf count is folded into the final hash
// alongside the tree root so that two batches of different size can never
// collide even if their raw tree roots happened to match.
func ComputeReceiptsRoot(receipts []*StepReceipt) (hashing.Hash, []hashing.Hash, error) {
	if len(receipts) == 0 {
		return hashing.Hash{}, nil, ErrEmptyBatch
	}

	hashes := make([]hashing.Hash, len(receipts))
	leaves := make([][]byte, len(receipts))
	for i, r := range receipts {
		h, err := r.Hash()
		if err != nil {
			return hashing.Hash{}, nil, fmt.Errorf("receipt: hash step %d: %w", r.StepIndex, err)
		}
		hashes[i] = h
		leaves[i] = h.Bytes()
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return hashing.Hash{}, nil, fmt.Errorf("receipt: build merkle tree: %w", err)
	}

	countBytes := uint64LE(uint64(len(receipts)))
	root := hashing.DomainHashConcat(hashing.TagReceiptsRoot, tree.Root(), countBytes)
	return root, hashes, nil
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
