package anchor

import (
	"testing"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

func hashAt(height uint64) hashing.Hash {
	return hashing.DomainHash(hashing.TagBlockHeader, []byte{byte(height)})
}

func buildChain(t *testing.T, lc *LightClient, n uint64) []HeaderView {
	t.Helper()
	genesis := HeaderView{Hash: hashAt(0), Height: 0}
	lc.AddGenesis(genesis)

	headers := []HeaderView{genesis}
	for i := uint64(1); i <= n; i++ {
		h := HeaderView{Hash: hashAt(i), Height: i, PrevHash: hashAt(i - 1)}
		if _, err := lc.AddHeader(h); err != nil {
			t.Fatalf("AddHeader(%d): %v", i, err)
		}
		headers = append(headers, h)
	}
	return headers
}

func TestLightClientRejectsReorgBelowAnchorWatermark(t *testing.T) {
	lc := NewLightClient(LightClientConfig{MaxReorgDepth: 10, StrictAnchorVerification: true})
	buildChain(t, lc, 15)

	lc.UpdateAnchorReceipt(Receipt{HeaderHash: hashAt(10), Confirmations: 6}, 6)
	if lc.LastAnchorHeight() != 10 {
		t.Fatalf("LastAnchorHeight() = %d, want 10", lc.LastAnchorHeight())
	}

	if d := lc.WouldAllowReorg(8); d.Outcome != ReorgRejectedPreAnchor {
		t.Fatalf("WouldAllowReorg(8) = %+v, want RejectedPreAnchor", d)
	}
	if d := lc.WouldAllowReorg(12); d.Outcome != ReorgAllowed {
		t.Fatalf("WouldAllowReorg(12) = %+v, want Allowed", d)
	}
	if d := lc.WouldAllowReorg(0); d.Outcome != ReorgRejectedDepthLimit {
		t.Fatalf("WouldAllowReorg(0) = %+v, want RejectedDepthLimit", d)
	}
}

func TestLightClientAddHeaderRejectsMissingParent(t *testing.T) {
	lc := NewLightClient(DefaultLightClientConfig())
	lc.AddGenesis(HeaderView{Hash: hashAt(0), Height: 0})

	orphan := HeaderView{Hash: hashAt(5), Height: 5, PrevHash: hashAt(4)}
	decision, err := lc.AddHeader(orphan)
	if err == nil {
		t.Fatal("expected error for missing parent")
	}
	if decision.Outcome != ReorgMissingParent {
		t.Fatalf("Outcome = %v, want MissingParent", decision.Outcome)
	}
}

func TestLightClientAdvancesBestHeader(t *testing.T) {
	lc := NewLightClient(DefaultLightClientConfig())
	headers := buildChain(t, lc, 5)

	best, ok := lc.BestHeader()
	if !ok {
		t.Fatal("BestHeader() ok = false")
	}
	if best.Height != 5 || best.Hash != headers[5].Hash {
		t.Fatalf("BestHeader() = %+v, want height 5", best)
	}
}

func TestLightClientIsAnchoredRequiresConfirmationThreshold(t *testing.T) {
	lc := NewLightClient(DefaultLightClientConfig())
	buildChain(t, lc, 3)

	lc.UpdateAnchorReceipt(Receipt{HeaderHash: hashAt(2), Confirmations: 3}, 6)
	if lc.IsAnchored(2) {
		t.Fatal("expected height 2 not yet anchored below threshold")
	}

	lc.UpdateAnchorReceipt(Receipt{HeaderHash: hashAt(2), Confirmations: 6}, 6)
	if !lc.IsAnchored(2) {
		t.Fatal("expected height 2 anchored at threshold")
	}
}
