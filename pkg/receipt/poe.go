package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

var (
	ErrLogBlockNotSealed       = errors.New("receipt: referenced log block is not sealed")
	ErrLogBlocksNotContig      = errors.New("receipt: referenced log blocks are not contiguous")
	ErrNoLogBlocks             = errors.New("receipt: a PoE bundle needs at least one log block")
	ErrLogBlockReceiptMismatch = errors.New("receipt: receipts do not match the log block's receipt_hashes")
)

// Usage is a resource-usage vector for a single billing window.
type Usage struct {
	CPUMs        float64 `cbor:"cpu_ms"`
	MemMBSeconds float64 `cbor:"mem_mb_s"`
	StorageGBDay float64 `cbor:"storage_gb_day"`
	EgressMB     float64 `cbor:"egress_mb"`
	Receipts     float64 `cbor:"receipts"`
}

// poeWeights are the fixed linear weights applied to each usage dimension
// when folding usage into the scalar Φ.
var poeWeights = Usage{
	CPUMs:        1.0,
	MemMBSeconds: 0.5,
	StorageGBDay: 0.1,
	EgressMB:     2.0,
	Receipts:     0.01,
}

// Add returns the component-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		CPUMs:        u.CPUMs + other.CPUMs,
		MemMBSeconds: u.MemMBSeconds + other.MemMBSeconds,
		StorageGBDay: u.StorageGBDay + other.StorageGBDay,
		EgressMB:     u.EgressMB + other.EgressMB,
		Receipts:     u.Receipts + other.Receipts,
	}
}

// Phi computes Φ = Σ w_i · usage_i under the fixed weight schedule.
func (u Usage) Phi() float64 {
	return u.CPUMs*poeWeights.CPUMs +
		u.MemMBSeconds*poeWeights.MemMBSeconds +
		u.StorageGBDay*poeWeights.StorageGBDay +
		u.EgressMB*poeWeights.EgressMB +
		u.Receipts*poeWeights.Receipts
}

// Gamma computes Γ = Φ/(1+Φ), a monotone squashing of Φ into [0, 1).
func Gamma(phi float64) float64 {
	return phi / (1 + phi)
}

// PoEBundle folds a contiguous, sealed run of LogBlocks for one application
// into a single billable proof-of-execution record.
type PoEBundle struct {
	Version        uint32       `cbor:"version"`
	AppID          string       `cbor:"app_id"`
	LogBlockRoots  []hashing.Hash `cbor:"log_block_roots"`
	UsageSum       Usage        `cbor:"usage_sum"`
	Phi            float64      `cbor:"phi"`
	Gamma          float64      `cbor:"gamma"`
	BillingWindow  BillingWindow `cbor:"billing_window"`
	WitnessKey     []byte       `cbor:"witness_key"`
	Signature      []byte       `cbor:"signature,omitempty"`
}

// BillingWindow bounds the half-open interval [Start, End) a bundle covers.
type BillingWindow struct {
	Start time.Time `cbor:"start"`
	End   time.Time `cbor:"end"`
}

// LogBlockUsage pairs a sealed LogBlock with the receipts it actually seals.
// Receipts must be presented in the same order BuildLogBlock assembled the
// block in; usage() re-derives usage_sum from them rather than trusting a
// caller-supplied total, so a bundle's usage always traces back to the
// receipts in its referenced log blocks.
type LogBlockUsage struct {
	Block    *LogBlock
	Receipts []*StepReceipt
	Sealed   bool
}

// usage verifies that Receipts is exactly the set the block committed to
// (same length, same hashes in the same order) and returns their summed
// ResourceUsage.
func (b LogBlockUsage) usage() (Usage, error) {
	if len(b.Receipts) != len(b.Block.ReceiptHashes) {
		return Usage{}, fmt.Errorf("%w: block %s has %d receipt_hashes, got %d receipts", ErrLogBlockReceiptMismatch, b.Block.BlockID, len(b.Block.ReceiptHashes), len(b.Receipts))
	}
	var sum Usage
	for i, r := range b.Receipts {
		h, err := r.Hash()
		if err != nil {
			return Usage{}, fmt.Errorf("receipt: hash receipt %s: %w", r.ReceiptID, err)
		}
		if h != b.Block.ReceiptHashes[i] {
			return Usage{}, fmt.Errorf("%w: block %s receipt %d does not match receipt_hashes", ErrLogBlockReceiptMismatch, b.Block.BlockID, i)
		}
		sum = sum.Add(r.ResourceUsage)
	}
	return sum, nil
}

// BuildBundle folds blocks into a PoEBundle for app over window. Every
// referenced block must be sealed, and blocks must be contiguous by
// StartIndex/EndIndex so the bundle represents an unbroken execution trace.
// usage_sum is derived by summing the resource_usage of the receipts
// actually sealed in each referenced log block, not a caller-supplied total.
func BuildBundle(appID string, blocks []LogBlockUsage, window BillingWindow) (*PoEBundle, error) {
	if len(blocks) == 0 {
		return nil, ErrNoLogBlocks
	}

	var usageSum Usage
	roots := make([]hashing.Hash, len(blocks))
	for i, b := range blocks {
		if !b.Sealed {
			return nil, fmt.Errorf("%w: block %s", ErrLogBlockNotSealed, b.Block.BlockID)
		}
		if i > 0 && blocks[i-1].Block.EndIndex+1 != b.Block.StartIndex {
			return nil, fmt.Errorf("%w: block %s does not follow block %s", ErrLogBlocksNotContig, b.Block.BlockID, blocks[i-1].Block.BlockID)
		}
		roots[i] = b.Block.ReceiptsRoot
		u, err := b.usage()
		if err != nil {
			return nil, err
		}
		usageSum = usageSum.Add(u)
	}

	phi := usageSum.Phi()
	return &PoEBundle{
		Version:       1,
		AppID:         appID,
		LogBlockRoots: roots,
		UsageSum:      usageSum,
		Phi:           phi,
		Gamma:         Gamma(phi),
		BillingWindow: window,
	}, nil
}

// Hash returns the bundle's domain-separated identity hash, excluding the
// signature.
func (b *PoEBundle) Hash() (hashing.Hash, error) {
	unsigned := *b
	unsigned.Signature = nil
	return hashing.DomainHashCanonical(hashing.TagPoEBundle, &unsigned)
}

// Sign signs the bundle with priv, a notary or communication-layer key.
func (b *PoEBundle) Sign(priv *ed25519sig.PrivateKey) error {
	b.WitnessKey = priv.PublicKey().Bytes()
	h, err := b.Hash()
	if err != nil {
		return err
	}
	b.Signature = priv.SignHash(h).Bytes()
	return nil
}

// Verify checks the bundle's signature and the Φ/Γ invariant.
func (b *PoEBundle) Verify() error {
	pub, err := ed25519sig.PublicKeyFromBytes(b.WitnessKey)
	if err != nil {
		return fmt.Errorf("receipt: %w", err)
	}
	sig, err := ed25519sig.SignatureFromBytes(b.Signature)
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

	wantPhi := b.UsageSum.Phi()
	if !floatEqual(wantPhi, b.Phi) {
		return fmt.Errorf("receipt: phi mismatch: usage implies %.6f, bundle carries %.6f", wantPhi, b.Phi)
	}
	if !floatEqual(Gamma(b.Phi), b.Gamma) {
		return fmt.Errorf("receipt: gamma mismatch: phi implies %.6f, bundle carries %.6f", Gamma(b.Phi), b.Gamma)
	}
	return nil
}

func floatEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}
