// Package registry implements the receipt registry: storage, role-keyed
// query authentication, signature/age/witness validation, and the
// receipts-root computation the Registry API surface exposes.
//
// The key-value layout and idempotent-by-id update pattern generalize the
// ledger package's system/anchor ledger store to a receipt-indexed schema;
// see pkg/anchor/lightclient.go for the sibling adaptation covering anchor
// state.
package registry

import (
	"sync"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/receipt"
)

// APIKeyRole is the closed set of roles an API key can carry. The role
// gates which query filters and endpoints a caller may use.
type APIKeyRole string

const (
	RoleAdmin     APIKeyRole = "admin"
	RoleValidator APIKeyRole = "validator"
	RoleConsumer  APIKeyRole = "consumer"
)

// APIKey is a role-keyed credential presented in the body of every
// authenticated Registry API request.
type APIKey struct {
	Key       string     `json:"key"`
	Role      APIKeyRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
}

// KeyStore holds the role-keyed API keys the Registry API authenticates
// requests against. Mirrors the single mutex-guarded map idiom Store
// uses for its secondary indices.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]APIKey)}
}

// Register adds or replaces the key.
func (ks *KeyStore) Register(k APIKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[k.Key] = k
}

// Revoke marks key as revoked without removing its audit record.
func (ks *KeyStore) Revoke(key string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if k, ok := ks.keys[key]; ok {
		k.Revoked = true
		ks.keys[key] = k
	}
}

// Authenticate returns the APIKey for key if it exists and is not
// revoked.
func (ks *KeyStore) Authenticate(key string) (APIKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[key]
	if !ok || k.Revoked {
		return APIKey{}, false
	}
	return k, true
}

// QueryParams filters a receipts query. Zero values mean "no filter" on
// that dimension.
type QueryParams struct {
	ReceiptID       string
	ExecutionID     string
	TimeFrom        time.Time
	TimeTo          time.Time
	BlockHeightFrom uint64
	BlockHeightTo   uint64
	ComplianceOnly  bool
	PageSize        int
	Cursor          string
}

// Pagination describes the page a query returned.
type Pagination struct {
	PageSize   int    `json:"page_size"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// QueryResult is the full response to a receipts query.
type QueryResult struct {
	Receipts      []*receipt.StepReceipt `json:"receipts"`
	Pagination    Pagination             `json:"pagination"`
	QueryTimeMs   int64                  `json:"query_time_ms"`
}

// Severity grades a validation error or warning.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// ValidationIssue is a single graded finding from ValidateReceipt.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationResult is the full response to validate_receipt.
type ValidationResult struct {
	IsValid               bool              `json:"is_valid"`
	SignatureValid        bool              `json:"signature_valid"`
	PolicyCompliant       bool              `json:"policy_compliant"`
	WitnessIntegrityValid bool              `json:"witness_integrity_valid"`
	EventCorrelationValid bool              `json:"event_correlation_valid"`
	Errors                []ValidationIssue `json:"errors"`
	Warnings              []ValidationIssue `json:"warnings"`
}

// hasCritical reports whether result carries any Critical-severity error.
func (r *ValidationResult) hasCritical() bool {
	for _, e := range r.Errors {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// finalize derives IsValid from the accumulated errors: invalid iff any
// Critical error is present or a required check failed.
func (r *ValidationResult) finalize() {
	r.IsValid = !r.hasCritical() && r.SignatureValid && r.WitnessIntegrityValid && r.EventCorrelationValid
}

// ComputeReceiptsRoot computes the RECEIPTS_ROOT_HASH-tagged Merkle root
// over a set of receipts, delegating to the receipt package so the Registry
// API and the receipt pipeline always agree on the same root.
func ComputeReceiptsRoot(receipts []*receipt.StepReceipt) (hashing.Hash, error) {
	root, _, err := receipt.ComputeReceiptsRoot(receipts)
	return root, err
}
