package receipt

import (
	"testing"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
)

func TestUsagePhiGamma(t *testing.T) {
	u := Usage{
		CPUMs:        485,
		MemMBSeconds: 265,
		StorageGBDay: 0.45,
		EgressMB:     5.5,
		Receipts:     6,
	}

	phi := u.Phi()
	wantPhi := 628.605
	if diff := phi - wantPhi; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("Phi() = %v, want ~%v", phi, wantPhi)
	}

	gamma := Gamma(phi)
	wantGamma := 0.99841
	if diff := gamma - wantGamma; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("Gamma(%v) = %v, want ~%v", phi, gamma, wantGamma)
	}
}

func TestBuildBundleRejectsUnsealedBlock(t *testing.T) {
	blocks := []LogBlockUsage{
		{Block: &LogBlock{BlockID: "b0", StartIndex: 0, EndIndex: 9}, Sealed: false},
	}
	_, err := BuildBundle("app-1", blocks, BillingWindow{})
	if err == nil {
		t.Fatal("expected error for unsealed block")
	}
}

func TestBuildBundleRejectsNonContiguousBlocks(t *testing.T) {
	blocks := []LogBlockUsage{
		{Block: &LogBlock{BlockID: "b0", StartIndex: 0, EndIndex: 9}, Sealed: true},
		{Block: &LogBlock{BlockID: "b2", StartIndex: 20, EndIndex: 29}, Sealed: true},
	}
	_, err := BuildBundle("app-1", blocks, BillingWindow{})
	if err == nil {
		t.Fatal("expected error for non-contiguous blocks")
	}
}

func TestBuildBundleUsageSum(t *testing.T) {
	notary, _, err := ed25519sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	step := func(idx uint64, usage Usage) *StepReceipt {
		r := &StepReceipt{
			ReceiptID:     "r",
			AppID:         "app-1",
			ContainerID:   "c0",
			Operation:     "run",
			StepIndex:     idx,
			ResourceUsage: usage,
			Timestamp:     time.Now(),
		}
		if err := r.Sign(notary); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return r
	}

	r0s := []*StepReceipt{step(0, Usage{CPUMs: 100})}
	r1s := []*StepReceipt{step(1, Usage{CPUMs: 385, MemMBSeconds: 265, StorageGBDay: 0.45, EgressMB: 5.5, Receipts: 6})}

	b0, err := BuildLogBlock("b0", "app-1", 0, r0s, notary)
	if err != nil {
		t.Fatalf("BuildLogBlock b0: %v", err)
	}
	b1, err := BuildLogBlock("b1", "app-1", 1, r1s, notary)
	if err != nil {
		t.Fatalf("BuildLogBlock b1: %v", err)
	}

	blocks := []LogBlockUsage{
		{Block: b0, Receipts: r0s, Sealed: true},
		{Block: b1, Receipts: r1s, Sealed: true},
	}
	bundle, err := BuildBundle("app-1", blocks, BillingWindow{})
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if bundle.UsageSum.CPUMs != 485 {
		t.Fatalf("UsageSum.CPUMs = %v, want 485", bundle.UsageSum.CPUMs)
	}
	if len(bundle.LogBlockRoots) != 2 {
		t.Fatalf("LogBlockRoots len = %d, want 2", len(bundle.LogBlockRoots))
	}
}

func TestBuildBundleRejectsTamperedReceipts(t *testing.T) {
	notary, _, err := ed25519sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	r := &StepReceipt{ReceiptID: "r", AppID: "app-1", ContainerID: "c0", StepIndex: 0, Timestamp: time.Now()}
	if err := r.Sign(notary); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	block, err := BuildLogBlock("b0", "app-1", 0, []*StepReceipt{r}, notary)
	if err != nil {
		t.Fatalf("BuildLogBlock: %v", err)
	}

	tampered := *r
	tampered.ResourceUsage = Usage{CPUMs: 999}
	blocks := []LogBlockUsage{{Block: block, Receipts: []*StepReceipt{&tampered}, Sealed: true}}
	if _, err := BuildBundle("app-1", blocks, BillingWindow{}); err == nil {
		t.Fatal("expected error for tampered receipt usage")
	}
}
