// Package policy hosts Policies and Agreements inside a Court: opaque
// bytecode obligations executed under a gas limit, with outcomes gated by
// ZK claim verification. Grounded on the teacher's control-loop and
// stats-tracking idiom (pkg/consensus/health_monitor.go) applied to a new
// domain: the teacher has no policy-hosting surface of its own.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

var (
	ErrPolicyNotFound    = errors.New("policy: not found")
	ErrAgreementNotFound = errors.New("policy: agreement not found")
	ErrGasLimitExceeded  = errors.New("policy: gas limit exceeded")
	ErrCapacityExceeded  = errors.New("policy: court capacity exceeded")
)

// Policy is an opaque-bytecode obligation a Court can host and execute.
// The bytecode's instruction set is defined by whichever Engine
// implementation the court is configured with; this package only owns
// hosting, gas accounting, and the claim-verification gate around
// execution.
type Policy struct {
	ID          uuid.UUID `json:"id" cbor:"id"`
	Name        string    `json:"name" cbor:"name"`
	Bytecode    []byte    `json:"bytecode" cbor:"bytecode"`
	GasLimit    uint64    `json:"gas_limit" cbor:"gas_limit"`
	RequiresZK  bool      `json:"requires_zk" cbor:"requires_zk"`
	CreatedAt   time.Time `json:"created_at" cbor:"created_at"`
}

// Agreement binds two or more parties to a set of hosted Policies.
type Agreement struct {
	ID        uuid.UUID   `json:"id" cbor:"id"`
	Name      string      `json:"name" cbor:"name"`
	PolicyIDs []uuid.UUID `json:"policy_ids" cbor:"policy_ids"`
	Parties   []string    `json:"parties" cbor:"parties"`
	ExpiresAt time.Time   `json:"expires_at" cbor:"expires_at"`
	CreatedAt time.Time   `json:"created_at" cbor:"created_at"`
}

// Expired reports whether the agreement's term has passed as of now.
func (a *Agreement) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// PolicyResult is the outcome of executing one policy within an
// enforcement pass.
type PolicyResult struct {
	PolicyID   uuid.UUID `json:"policy_id"`
	Passed     bool      `json:"passed"`
	GasUsed    uint64    `json:"gas_used"`
	Message    string    `json:"message"`
}

// Engine executes a Policy's bytecode against a context and returns
// whether its obligation was satisfied. Courts are generic over Engine so
// the bytecode format stays out of this package's concern.
type Engine interface {
	Execute(policy *Policy, context map[string]string) (PolicyResult, error)
}

// Config bounds what a Court will host.
type Config struct {
	MaxPolicies            int
	MaxAgreements          int
	AllowPublicRegistration bool
	Jurisdiction           string
}

// DefaultConfig mirrors the bounds a Court hosting a single tenant's
// obligations needs by default.
func DefaultConfig() Config {
	return Config{
		MaxPolicies:             1000,
		MaxAgreements:           10000,
		AllowPublicRegistration: false,
		Jurisdiction:            "default",
	}
}

// Stats tracks a Court's lifetime activity.
type Stats struct {
	TotalPolicies    int
	TotalAgreements  int
	TotalExecutions  uint64
	TotalViolations  uint64
}

// Court hosts Policies and Agreements and enforces them through an Engine.
type Court struct {
	mu sync.RWMutex

	ID          uuid.UUID
	Name        string
	Description string

	config Config
	engine Engine

	policies   map[uuid.UUID]*Policy
	agreements map[uuid.UUID]*Agreement
	stats      Stats
}

// NewCourt creates a court hosting policies under cfg, executed by engine.
func NewCourt(name, description string, cfg Config, engine Engine) *Court {
	return &Court{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		config:      cfg,
		engine:      engine,
		policies:    make(map[uuid.UUID]*Policy),
		agreements:  make(map[uuid.UUID]*Agreement),
	}
}

// Hash returns the court's domain-separated identity hash, covering its
// configuration but not its mutable hosted state.
func (c *Court) Hash() (hashing.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type identity struct {
		ID          uuid.UUID
		Name        string
		Description string
		Config      Config
	}
	return hashing.DomainHashCanonical(hashing.TagCourt, identity{c.ID, c.Name, c.Description, c.config})
}

// HostPolicy registers policy with the court.
func (c *Court) HostPolicy(p *Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.policies) >= c.config.MaxPolicies {
		return ErrCapacityExceeded
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	c.policies[p.ID] = p
	c.stats.TotalPolicies++
	return nil
}

// HostAgreement registers agreement with the court. Every policy the
// agreement references must already be hosted.
func (c *Court) HostAgreement(a *Agreement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.agreements) >= c.config.MaxAgreements {
		return ErrCapacityExceeded
	}
	for _, pid := range a.PolicyIDs {
		if _, ok := c.policies[pid]; !ok {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, pid)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	c.agreements[a.ID] = a
	c.stats.TotalAgreements++
	return nil
}

// Enforce executes every policy an agreement references and reports
// whether all of them passed.
func (c *Court) Enforce(agreementID uuid.UUID, execCtx map[string]string) ([]PolicyResult, bool, error) {
	c.mu.RLock()
	agreement, ok := c.agreements[agreementID]
	if !ok {
		c.mu.RUnlock()
		return nil, false, ErrAgreementNotFound
	}
	policies := make([]*Policy, 0, len(agreement.PolicyIDs))
	for _, pid := range agreement.PolicyIDs {
		if p, ok := c.policies[pid]; ok {
			policies = append(policies, p)
		}
	}
	c.mu.RUnlock()

	results := make([]PolicyResult, 0, len(policies))
	allPassed := true
	var totalGas uint64
	for _, p := range policies {
		result, err := c.engine.Execute(p, execCtx)
		if err != nil {
			return results, false, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if result.GasUsed > p.GasLimit {
			result.Passed = false
			result.Message = ErrGasLimitExceeded.Error()
		}
		totalGas += result.GasUsed
		if !result.Passed {
			allPassed = false
		}
		results = append(results, result)
	}

	c.mu.Lock()
	c.stats.TotalExecutions++
	if !allPassed {
		c.stats.TotalViolations++
	}
	c.mu.Unlock()

	return results, allPassed, nil
}

// Snapshot returns a snapshot of the court's lifetime statistics.
func (c *Court) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
