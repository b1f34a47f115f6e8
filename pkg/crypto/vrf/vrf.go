// Package vrf implements the verifiable random function used for
// leader election: secp256k1-SHA256-TAI VRFs via go-ecvrf, keyed with the
// same secp256k1 curve go-ethereum's crypto package already uses for
// anchoring transactions.
package vrf

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vechain/go-ecvrf"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// suite is the single VRF construction used throughout the core.
var suite = ecvrf.NewSecp256k1Sha256Tai()

// PrivateKey wraps a secp256k1 signing key for VRF proof generation.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey wraps a secp256k1 verification key for VRF proof checking.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// Proof is a VRF output: the pseudorandom beta value plus the pi proof that
// lets any holder of the public key recompute and check beta.
type Proof struct {
	Beta hashing.Hash
	Pi   []byte
}

// GenerateKeyPair creates a new random VRF key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("vrf: generate key: %w", err)
	}
	return &PrivateKey{key: key}, &PublicKey{key: &key.PublicKey}, nil
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 private key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("vrf: parse private key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

func (priv *PrivateKey) Hex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(priv.key))
}

// PublicKey derives the corresponding public key.
func (priv *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: &priv.key.PublicKey}
}

func (pub *PublicKey) Bytes() []byte {
	return ethcrypto.FromECDSAPub(pub.key)
}

func (pub *PublicKey) Hex() string {
	return hex.EncodeToString(pub.Bytes())
}

// PublicKeyFromBytes parses an uncompressed secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := ethcrypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("vrf: parse public key: %w", err)
	}
	return &PublicKey{key: key}, nil
}

// Prove computes a VRF proof over alpha, the leader-election seed (typically
// a domain-separated hash of the round and validator-set epoch).
func (priv *PrivateKey) Prove(alpha []byte) (*Proof, error) {
	beta, pi, err := suite.Prove(priv.key, alpha)
	if err != nil {
		return nil, fmt.Errorf("vrf: prove: %w", err)
	}
	h, err := hashing.HashFromBytes(beta)
	if err != nil {
		return nil, fmt.Errorf("vrf: unexpected beta length: %w", err)
	}
	return &Proof{Beta: h, Pi: pi}, nil
}

// Verify checks proof against alpha under pub, returning true on success.
// A mismatch between the recomputed and claimed beta, or a
// structurally invalid proof, is reported as a verification failure.
func Verify(pub *PublicKey, alpha []byte, proof *Proof) (bool, error) {
	beta, err := suite.Verify(pub.key, alpha, proof.Pi)
	if err != nil {
		return false, nil
	}
	h, err := hashing.HashFromBytes(beta)
	if err != nil {
		return false, fmt.Errorf("vrf: unexpected beta length: %w", err)
	}
	return h == proof.Beta, nil
}
