// Package ed25519sig wraps stdlib Ed25519 with the hex/byte constructor
// idiom and domain-separated signing used throughout the rest of pkg/crypto.
package ed25519sig

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

const (
	PrivateKeySize = ed25519.PrivateKeySize
	PublicKeySize  = ed25519.PublicKeySize
	SignatureSize  = ed25519.SignatureSize
)

// PrivateKey wraps an Ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey wraps an Ed25519 verification key.
type PublicKey struct {
	key ed25519.PublicKey
}

// Signature wraps a 64-byte Ed25519 signature.
type Signature struct {
	bytes [SignatureSize]byte
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519sig: generate key pair: %w", err)
	}
	return &PrivateKey{key: priv}, &PublicKey{key: pub}, nil
}

// GenerateKeyPairFromSeed derives a deterministic key pair from a 32-byte
// seed. Used to derive validator signing keys from a stable identifier.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("ed25519sig: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &PrivateKey{key: priv}, &PublicKey{key: pub}, nil
}

// PrivateKeyFromBytes parses a raw 64-byte Ed25519 private key.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("ed25519sig: private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	key := make(ed25519.PrivateKey, PrivateKeySize)
	copy(key, b)
	return &PrivateKey{key: key}, nil
}

// PublicKeyFromBytes parses a raw 32-byte Ed25519 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("ed25519sig: public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	key := make(ed25519.PublicKey, PublicKeySize)
	copy(key, b)
	return &PublicKey{key: key}, nil
}

// PublicKeyFromHex parses a hex-encoded public key.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ed25519sig: decode public key hex: %w", err)
	}
	return PublicKeyFromBytes(b)
}

func (priv *PrivateKey) Bytes() []byte { return append([]byte(nil), priv.key...) }
func (priv *PrivateKey) Hex() string   { return hex.EncodeToString(priv.key) }

// PublicKey derives the corresponding public key.
func (priv *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: priv.key.Public().(ed25519.PublicKey)}
}

func (pub *PublicKey) Bytes() []byte { return append([]byte(nil), pub.key...) }
func (pub *PublicKey) Hex() string   { return hex.EncodeToString(pub.key) }

// Sign signs a domain-tagged hash of data; the resulting digest is passed
// to Ed25519 as the message, which hashes it again internally.
func (priv *PrivateKey) Sign(data []byte) *Signature {
	sig := ed25519.Sign(priv.key, data)
	var s Signature
	copy(s.bytes[:], sig)
	return &s
}

// SignHash signs a precomputed domain-separated hash.
func (priv *PrivateKey) SignHash(h hashing.Hash) *Signature {
	return priv.Sign(h.Bytes())
}

func (s *Signature) Bytes() []byte { return append([]byte(nil), s.bytes[:]...) }
func (s *Signature) Hex() string   { return hex.EncodeToString(s.bytes[:]) }

// SignatureFromBytes parses a raw 64-byte signature.
func SignatureFromBytes(b []byte) (*Signature, error) {
	if len(b) != SignatureSize {
		return nil, fmt.Errorf("ed25519sig: signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	var s Signature
	copy(s.bytes[:], b)
	return &s, nil
}

// Verify checks sig against data under pub. A structurally invalid key or
// signature length is reported as an error rather than a false return, per
// the fail-closed boundary the rest of pkg/crypto follows; a valid structure
// that simply doesn't verify returns (false, nil).
func Verify(pub *PublicKey, data []byte, sig *Signature) (bool, error) {
	if pub == nil || len(pub.key) != PublicKeySize {
		return false, fmt.Errorf("ed25519sig: invalid public key")
	}
	if sig == nil {
		return false, fmt.Errorf("ed25519sig: nil signature")
	}
	return ed25519.Verify(pub.key, data, sig.bytes[:]), nil
}

// VerifyHash verifies a signature over a precomputed domain-separated hash.
func VerifyHash(pub *PublicKey, h hashing.Hash, sig *Signature) (bool, error) {
	return Verify(pub, h.Bytes(), sig)
}
