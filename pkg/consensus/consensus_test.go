package consensus

import (
	"testing"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/bls"
	"github.com/bpi-core/bpci-core/pkg/crypto/vrf"
)

type testValidator struct {
	id      string
	blsPriv *bls.PrivateKey
	vrfPriv *vrf.PrivateKey
	v       Validator
}

func newTestValidators(t *testing.T, n int) []testValidator {
	t.Helper()
	out := make([]testValidator, n)
	for i := 0; i < n; i++ {
		blsPriv, blsPub, err := bls.GenerateKeyPair()
		if err != nil {
			t.Fatalf("bls.GenerateKeyPair: %v", err)
		}
		vrfPriv, vrfPub, err := vrf.GenerateKeyPair()
		if err != nil {
			t.Fatalf("vrf.GenerateKeyPair: %v", err)
		}
		id := string(rune('a' + i))
		out[i] = testValidator{
			id:      id,
			blsPriv: blsPriv,
			vrfPriv: vrfPriv,
			v: Validator{
				Info:   ValidatorInfo{ValidatorID: id, VotingPower: 1},
				BLSKey: blsPub,
				VRFKey: vrfPub,
			},
		}
	}
	return out
}

func buildSet(t *testing.T, tvs []testValidator) *ValidatorSet {
	t.Helper()
	vs := make([]Validator, len(tvs))
	for i, tv := range tvs {
		vs[i] = tv.v
	}
	set, err := NewValidatorSet(1, vs)
	if err != nil {
		t.Fatalf("NewValidatorSet: %v", err)
	}
	return set
}

func TestQuorumThreshold(t *testing.T) {
	cases := []struct {
		n, want int
	}{
		{1, 1}, {4, 3}, {7, 5}, {10, 7},
	}
	for _, c := range cases {
		if got := QuorumThreshold(c.n); got != c.want {
			t.Errorf("QuorumThreshold(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestCommitAggregatorRejectsMismatchedAndDuplicateVotes(t *testing.T) {
	tvs := newTestValidators(t, 4)
	set := buildSet(t, tvs)

	header := &Header{Height: 1, Round: 0, ProposerID: tvs[0].id, Timestamp: time.Unix(0, 0)}
	headerHash, err := header.Hash()
	if err != nil {
		t.Fatalf("Header.Hash: %v", err)
	}

	ca := NewCommitAggregator(set, 1, 0, headerHash)

	v0 := Sign(VotePrecommit, 1, 0, headerHash, tvs[0].id, tvs[0].blsPriv)
	if err := ca.AddSignature(v0); err != nil {
		t.Fatalf("AddSignature: %v", err)
	}
	if err := ca.AddSignature(v0); err == nil {
		t.Fatal("expected error on duplicate vote")
	}

	wrongHeight := Sign(VotePrecommit, 2, 0, headerHash, tvs[1].id, tvs[1].blsPriv)
	if err := ca.AddSignature(wrongHeight); err == nil {
		t.Fatal("expected error on height mismatch")
	}

	unknown := Sign(VotePrecommit, 1, 0, headerHash, "ghost", tvs[1].blsPriv)
	if err := ca.AddSignature(unknown); err == nil {
		t.Fatal("expected error for unknown validator")
	}
}

func TestCommitAggregatorFinalizesAtQuorum(t *testing.T) {
	tvs := newTestValidators(t, 4)
	set := buildSet(t, tvs)

	header := &Header{Height: 5, Round: 1, ProposerID: tvs[1].id, Timestamp: time.Unix(100, 0)}
	headerHash, err := header.Hash()
	if err != nil {
		t.Fatalf("Header.Hash: %v", err)
	}

	ca := NewCommitAggregator(set, 5, 1, headerHash)
	if _, err := ca.Aggregate(); err == nil {
		t.Fatal("expected error aggregating before quorum")
	}

	for _, tv := range tvs[:3] {
		v := Sign(VotePrecommit, 5, 1, headerHash, tv.id, tv.blsPriv)
		if err := ca.AddSignature(v); err != nil {
			t.Fatalf("AddSignature(%s): %v", tv.id, err)
		}
	}

	commit, err := ca.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	result := commit.Verify(set)
	if !result.IsValid {
		t.Fatalf("Verify() = %+v, want valid", result)
	}
	if result.SignatureCount != 3 {
		t.Fatalf("SignatureCount = %d, want 3", result.SignatureCount)
	}
}

func TestBlsCommitVerifyRejectsBelowQuorum(t *testing.T) {
	tvs := newTestValidators(t, 4)
	set := buildSet(t, tvs)

	header := &Header{Height: 1, Round: 0, ProposerID: tvs[0].id, Timestamp: time.Unix(0, 0)}
	headerHash, _ := header.Hash()

	sig := tvs[0].blsPriv.Sign(signingMessage(headerHash, 0, 1))
	bitmap := make([]bool, 4)
	bitmap[0] = true

	commit := &BlsCommit{Height: 1, Round: 0, HeaderHash: headerHash, Bitmap: bitmap, Signature: sig}
	result := commit.Verify(set)
	if result.IsValid {
		t.Fatal("expected verification to fail below quorum")
	}
}

func TestElectLeaderIsDeterministicAcrossVerifiers(t *testing.T) {
	tvs := newTestValidators(t, 3)
	alpha := RoundSeed(1, 1, 0)

	var candidates []vrf.Candidate
	for _, tv := range tvs {
		proof, err := tv.vrfPriv.Prove(alpha)
		if err != nil {
			t.Fatalf("Prove: %v", err)
		}
		candidates = append(candidates, vrf.Candidate{ValidatorID: tv.id, Proof: proof})
	}

	leaderA, ok := ElectLeader(candidates)
	if !ok {
		t.Fatal("ElectLeader returned false")
	}
	leaderB, ok := ElectLeader(candidates)
	if !ok || leaderB != leaderA {
		t.Fatalf("leader election is not deterministic: %s vs %s", leaderA, leaderB)
	}
}

func TestEngineViewChangeOnTimeout(t *testing.T) {
	tvs := newTestValidators(t, 4)
	set := buildSet(t, tvs)

	e := NewEngine(set, Config{RoundTimeout: 20 * time.Millisecond})

	changed := make(chan uint64, 1)
	e.SetOnViewChange(func(height, round uint64) {
		changed <- round
	})

	e.Start()
	defer e.Stop()

	select {
	case round := <-changed:
		if round == 0 {
			t.Fatal("expected round to advance past 0 on timeout")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for view change")
	}
}

func TestEngineNotifyCommitResetsRound(t *testing.T) {
	tvs := newTestValidators(t, 4)
	set := buildSet(t, tvs)
	e := NewEngine(set, DefaultConfig())

	e.NotifyCommit(5)
	if e.Height() != 6 {
		t.Fatalf("Height() = %d, want 6", e.Height())
	}
	if e.Round() != 0 {
		t.Fatalf("Round() = %d, want 0", e.Round())
	}
}

func TestHeaderHashIsStable(t *testing.T) {
	h := &Header{Height: 1, Round: 0, ProposerID: "a", Timestamp: time.Unix(0, 0)}
	h1, err := h.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := h.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("Header.Hash is not stable across calls")
	}
	if h1.IsZero() {
		t.Fatal("unexpected zero hash")
	}
}
