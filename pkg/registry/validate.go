package registry

import (
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/receipt"
)

// ValidateOptions parameterizes ValidateReceipt's checks; all are optional
// and skipped (treated as passing) when left at their zero value.
type ValidateOptions struct {
	MaxAge             time.Duration
	ExpectedWitnessRoot hashing.Hash // zero value skips the witness check
	RequireEventID     bool
}

// ValidateReceipt runs the Registry API's validate_receipt checks: Ed25519
// signature, freshness against MaxAge, the "policy_compliant" metadata
// flag set by the policy engine's post-hook, witness-root consistency, and
// event-stream correlation. It never returns an error for a structurally
// sound but failing receipt — failures are reported as graded issues in the
// result.
func ValidateReceipt(r *receipt.StepReceipt, opts ValidateOptions) *ValidationResult {
	result := &ValidationResult{
		PolicyCompliant:       true,
		EventCorrelationValid: true,
	}

	if pub, err := ed25519sig.PublicKeyFromBytes(r.WitnessKey); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "malformed witness key: " + err.Error()})
	} else if sig, err := ed25519sig.SignatureFromBytes(r.Signature); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "malformed signature: " + err.Error()})
	} else if h, err := r.Hash(); err != nil {
		result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "unhashable receipt: " + err.Error()})
	} else if ok, err := ed25519sig.VerifyHash(pub, h, sig); err != nil || !ok {
		result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "signature does not verify"})
	} else {
		result.SignatureValid = true
	}

	if opts.MaxAge > 0 && time.Since(r.Timestamp) > opts.MaxAge {
		result.Warnings = append(result.Warnings, ValidationIssue{SeverityWarning, "receipt exceeds max_receipt_age"})
	}

	if v, ok := r.Labels["policy_compliant"]; ok && v == "false" {
		result.PolicyCompliant = false
		result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "receipt marked non-compliant by policy engine"})
	}

	if !opts.ExpectedWitnessRoot.IsZero() {
		witnessRootHex, ok := r.Labels["witness_root"]
		if !ok {
			result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "receipt carries no witness_root for comparison"})
		} else if witnessRootHex != opts.ExpectedWitnessRoot.Hex() {
			result.Errors = append(result.Errors, ValidationIssue{SeverityCritical, "witness_root does not match computed root"})
		} else {
			result.WitnessIntegrityValid = true
		}
	} else {
		result.WitnessIntegrityValid = true
	}

	if opts.RequireEventID {
		if _, ok := r.Labels["event_id"]; !ok {
			result.EventCorrelationValid = false
			result.Warnings = append(result.Warnings, ValidationIssue{SeverityWarning, "receipt carries no event_id for correlation"})
		}
	}

	result.finalize()
	return result
}
