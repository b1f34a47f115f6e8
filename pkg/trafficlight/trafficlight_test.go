package trafficlight

import (
	"testing"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	priv, _, err := ed25519sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return NewGate(priv, DefaultConfig())
}

func TestClassifyPIIWithConsent(t *testing.T) {
	g := newTestGate(t)
	d, err := g.Classify("pkt-1", ClassPII, "gdpr-policy", "svc-a", "svc-b", map[string]string{"consent": "true"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.State != Green {
		t.Fatalf("state = %v, want green", d.State)
	}
	ok, err := d.Verify()
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v", ok, err)
	}
}

func TestClassifyPIIWithoutConsent(t *testing.T) {
	g := newTestGate(t)
	d, err := g.Classify("pkt-2", ClassPII, "gdpr-policy", "svc-a", "", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.State != Red {
		t.Fatalf("state = %v, want red", d.State)
	}
}

func TestClassifyPCIWithoutEncryption(t *testing.T) {
	g := newTestGate(t)
	d, err := g.Classify("pkt-3", ClassPCI, "payments-policy", "svc-a", "", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.State != Red {
		t.Fatalf("state = %v, want red", d.State)
	}
}

func TestCacheEviction(t *testing.T) {
	g := newTestGate(t)
	g.config.MaxCacheSize = 2

	d1, _ := g.Classify("pkt-1", ClassGeneral, "p", "a", "", nil)
	_, _ = g.Classify("pkt-2", ClassGeneral, "p", "a", "", nil)
	_, _ = g.Classify("pkt-3", ClassGeneral, "p", "a", "", nil)

	if _, ok := g.Lookup(d1.DecisionID); ok {
		t.Fatalf("expected oldest decision to be evicted")
	}
}
