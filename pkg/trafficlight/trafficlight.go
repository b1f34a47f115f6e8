// Package trafficlight classifies outbound data packets and issues a
// signed allow/review/block decision. New domain code grounded on
// original_source's traffic_light.rs (TRAFFIC_LIGHT_HASH, the State
// enum's description/security_behavior pairing, and the PII/PHI/PCI
// compliance rules in evaluate_policy), translated into Go's
// explicit-enum-plus-method idiom the teacher uses for its AnchorStatus
// type, and signed with pkg/crypto/ed25519sig instead of the original's
// ed25519-dalek.
package trafficlight

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// State is the classification outcome for a packet.
type State string

const (
	Green  State = "green"
	Yellow State = "yellow"
	Red    State = "red"
)

// Description is the human-readable meaning of a state.
func (s State) Description() string {
	switch s {
	case Green:
		return "fully compliant - pass"
	case Yellow:
		return "requires review - quarantine"
	case Red:
		return "violation - block"
	default:
		return "unknown"
	}
}

// SecurityBehavior is the handling a packet receives once classified.
func (s State) SecurityBehavior() string {
	switch s {
	case Green:
		return "encrypt in transit and log"
	case Yellow:
		return "route to inspection buffer, apply enhanced scanning"
	case Red:
		return "stop packet, generate violation receipt, alert"
	default:
		return "unknown"
	}
}

// Classification is the data sensitivity category a packet falls under.
type Classification string

const (
	ClassPII     Classification = "pii"
	ClassPHI     Classification = "phi"
	ClassPCI     Classification = "pci"
	ClassGeneral Classification = "general"
	ClassPublic  Classification = "public"
)

// Decision is a signed allow/review/block verdict for one packet.
type Decision struct {
	DecisionID     uuid.UUID         `cbor:"decision_id"`
	PacketID       string            `cbor:"packet_id"`
	State          State             `cbor:"state"`
	Classification Classification    `cbor:"classification"`
	PolicyID       string            `cbor:"policy_id"`
	Reason         string            `cbor:"reason"`
	Source         string            `cbor:"source"`
	Destination    string            `cbor:"destination,omitempty"`
	Timestamp      time.Time         `cbor:"timestamp"`
	Metadata       map[string]string `cbor:"metadata,omitempty"`
	SignerKey      []byte            `cbor:"signer_key"`
	Signature      []byte            `cbor:"signature"`
}

// Hash returns the decision's domain-separated identity hash, computed
// over every field except the signature.
func (d *Decision) Hash() (hashing.Hash, error) {
	unsigned := *d
	unsigned.Signature = nil
	return hashing.DomainHashCanonical(hashing.TagTrafficLight, &unsigned)
}

// Sign hashes and signs the decision with priv.
func (d *Decision) Sign(priv *ed25519sig.PrivateKey) error {
	d.SignerKey = priv.PublicKey().Bytes()
	h, err := d.Hash()
	if err != nil {
		return err
	}
	d.Signature = priv.SignHash(h).Bytes()
	return nil
}

// Verify checks the decision's signature against its own SignerKey.
func (d *Decision) Verify() (bool, error) {
	pub, err := ed25519sig.PublicKeyFromBytes(d.SignerKey)
	if err != nil {
		return false, fmt.Errorf("trafficlight: %w", err)
	}
	sig, err := ed25519sig.SignatureFromBytes(d.Signature)
	if err != nil {
		return false, fmt.Errorf("trafficlight: %w", err)
	}
	h, err := d.Hash()
	if err != nil {
		return false, err
	}
	return ed25519sig.VerifyHash(pub, h, sig)
}

// Config bounds the gate's decision cache.
type Config struct {
	MaxCacheSize int
}

// DefaultConfig mirrors the original's default cache bound.
func DefaultConfig() Config {
	return Config{MaxCacheSize: 10000}
}

// Gate classifies packets and signs the resulting decisions, keeping a
// bounded FIFO cache of recent decisions. The cache is implemented
// directly rather than imported: it is a handful of lines of bookkeeping
// over a slice and a map, and no example repo in the pack carries a
// general-purpose cache library whose API would be worth the dependency
// for something this small.
type Gate struct {
	mu sync.Mutex

	config Config
	priv   *ed25519sig.PrivateKey

	order   []uuid.UUID
	decisions map[uuid.UUID]*Decision
}

// NewGate creates a Gate that signs decisions with priv.
func NewGate(priv *ed25519sig.PrivateKey, cfg Config) *Gate {
	return &Gate{
		config:    cfg,
		priv:      priv,
		decisions: make(map[uuid.UUID]*Decision),
	}
}

// Classify evaluates a packet's classification and metadata against the
// gate's compliance rules, signs the resulting decision, and caches it.
func (g *Gate) Classify(packetID string, classification Classification, policyID, source, destination string, metadata map[string]string) (*Decision, error) {
	state, reason := evaluatePolicy(classification, policyID, metadata)

	d := &Decision{
		DecisionID:     uuid.New(),
		PacketID:       packetID,
		State:          state,
		Classification: classification,
		PolicyID:       policyID,
		Reason:         reason,
		Source:         source,
		Destination:    destination,
		Timestamp:      time.Now(),
		Metadata:       metadata,
	}
	if err := d.Sign(g.priv); err != nil {
		return nil, err
	}

	g.cache(d)
	decisionsTotal.WithLabelValues(string(state)).Inc()
	return d, nil
}

func (g *Gate) cache(d *Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.order) >= g.config.MaxCacheSize {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.decisions, oldest)
	}
	g.order = append(g.order, d.DecisionID)
	g.decisions[d.DecisionID] = d
}

// Lookup returns a cached decision by ID.
func (g *Gate) Lookup(id uuid.UUID) (*Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.decisions[id]
	return d, ok
}

// evaluatePolicy applies the PII/PHI/PCI compliance rules a gate enforces
// by classification. GDPR and HIPAA policies are recognized from the
// policy ID; GDPR consent and PCI encryption strength are read from
// decision metadata, mirroring the original's metadata-driven policy
// evaluation.
func evaluatePolicy(classification Classification, policyID string, metadata map[string]string) (State, string) {
	switch classification {
	case ClassPII:
		if strings.Contains(strings.ToLower(policyID), "gdpr") {
			if metadata["consent"] == "true" {
				return Green, "GDPR compliant with consent"
			}
			return Red, "GDPR violation: missing consent"
		}
		return Yellow, "PII requires review"

	case ClassPHI:
		if strings.Contains(strings.ToLower(policyID), "hipaa") {
			return Green, "HIPAA compliant"
		}
		return Red, "PHI requires HIPAA compliance"

	case ClassPCI:
		if metadata["encryption"] == "aes256" {
			return Green, "PCI compliant with encryption"
		}
		return Red, "PCI violation: insufficient encryption"

	case ClassGeneral, ClassPublic:
		return Green, "general data allowed"

	default:
		return Yellow, "unrecognized classification requires review"
	}
}
