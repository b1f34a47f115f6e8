package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Hash is a 32-byte domain-separated digest.
type Hash [32]byte

// Bytes returns the digest as a slice.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the digest as a lowercase hex string with no prefix.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromBytes builds a Hash from a 32-byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != 32 {
		return h, fmt.Errorf("hashing: expected 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex decodes a hex-encoded 32-byte hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hashing: decode hex: %w", err)
	}
	return HashFromBytes(b)
}

// DomainHash computes SHA-256(tag || data). It is the single entry point
// every artifact kind uses for hashing; callers must not call sha256
// directly on domain data.
func DomainHash(tag byte, data []byte) Hash {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, tag)
	buf = append(buf, data...)
	return sha256.Sum256(buf)
}

// DomainHashConcat hashes a tag followed by the concatenation of several
// byte slices, avoiding an intermediate allocation per caller.
func DomainHashConcat(tag byte, parts ...[]byte) Hash {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, tag)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return sha256.Sum256(buf)
}

// canonicalEncMode is a single shared CBOR encoding mode producing
// deterministic output: map keys sorted per RFC 8949 core determinism, no
// indefinite-length items, no duplicate map keys.
var canonicalEncMode = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("hashing: build canonical CBOR mode: %v", err))
	}
	return mode
}

// MarshalCanonical encodes v as canonical CBOR: sorted map keys, definite
// lengths only. Every persisted or hashed artifact in the system is encoded
// this way so that two semantically equal values always produce identical
// bytes.
func MarshalCanonical(v interface{}) ([]byte, error) {
	b, err := canonicalEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashing: canonical cbor marshal: %w", err)
	}
	return b, nil
}

// UnmarshalCanonical decodes canonical CBOR into v. It rejects indefinite
// length items and duplicate map keys via a strict decode mode.
func UnmarshalCanonical(data []byte, v interface{}) error {
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		return fmt.Errorf("hashing: build canonical cbor decode mode: %w", err)
	}
	if err := dm.Unmarshal(data, v); err != nil {
		return fmt.Errorf("hashing: canonical cbor unmarshal: %w", err)
	}
	return nil
}

// DomainHashCanonical canonically encodes v and hashes the result under tag.
// This is the standard way to compute an artifact's identity hash.
func DomainHashCanonical(tag byte, v interface{}) (Hash, error) {
	enc, err := MarshalCanonical(v)
	if err != nil {
		return Hash{}, err
	}
	return DomainHash(tag, enc), nil
}
