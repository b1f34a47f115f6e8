// Package errs defines the closed set of error kinds shared across the
// core, generalizing the ledger package's sentinel-error idiom to a single
// enumeration every component maps its failures onto. Failures are *Error
// values carrying a Kind; callers distinguish kinds with Is or KindOf, and attach
// context with fmt.Errorf's %w wrapping as usual.
package errs

import "errors"

// Kind is a closed enumeration of the error categories a caller needs to
// branch on. New kinds are added here, never invented ad hoc in a
// component package.
type Kind string

const (
	KindInvalidEncoding       Kind = "InvalidEncoding"
	KindSignatureInvalid      Kind = "SignatureInvalid"
	KindIntegrityViolation    Kind = "IntegrityViolation"
	KindUnauthorized          Kind = "Unauthorized"
	KindNotFound              Kind = "NotFound"
	KindConflict              Kind = "Conflict"
	KindOverloaded            Kind = "Overloaded"
	KindTimeout               Kind = "Timeout"
	KindPrecursorNotSealed    Kind = "PrecursorNotSealed"
	KindMissingParent         Kind = "MissingParent"
	KindRejectedDepthLimit    Kind = "RejectedDepthLimit"
	KindRejectedPreAnchor     Kind = "RejectedPreAnchor"
	KindInsufficientSignatures Kind = "InsufficientSignatures"
	KindValidatorNotInSet     Kind = "ValidatorNotInSet"
	KindDuplicateSignature    Kind = "DuplicateSignature"
	KindEvacuationRequired    Kind = "EvacuationRequired"
	KindPoEVerificationFailed Kind = "PoEVerificationFailed"
	KindSettlementAmountMismatch Kind = "SettlementAmountMismatch"
	KindSettlementExpired     Kind = "SettlementExpired"
	KindComplianceViolation   Kind = "ComplianceViolation"
)

// Error pairs a Kind with the offending artifact's identity and the
// underlying cause, so logs can key on Kind while still carrying context.
type Error struct {
	Kind     Kind
	Artifact string // hex hash or ID of the offending artifact, if any
	Cause    error
}

func (e *Error) Error() string {
	if e.Artifact == "" {
		if e.Cause != nil {
			return string(e.Kind) + ": " + e.Cause.Error()
		}
		return string(e.Kind)
	}
	if e.Cause != nil {
		return string(e.Kind) + " [" + e.Artifact + "]: " + e.Cause.Error()
	}
	return string(e.Kind) + " [" + e.Artifact + "]"
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no artifact context.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithArtifact constructs an *Error tagged with the offending artifact's
// identity, for errors that are never recovered locally and must be logged
// alongside what triggered them.
func WithArtifact(kind Kind, artifact string, cause error) *Error {
	return &Error{Kind: kind, Artifact: artifact, Cause: cause}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err does not
// wrap an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Recoverable reports whether the policy layer should retry this kind of
// failure with bounded backoff rather than surface it immediately.
// Transient external failures are retryable; integrity and authorization
// failures are not.
func (k Kind) Recoverable() bool {
	switch k {
	case KindOverloaded, KindTimeout:
		return true
	default:
		return false
	}
}
