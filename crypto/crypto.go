// Package crypto wraps the protocol's signature scheme and hash
// functions: Ed25519 signatures over a SHA-256 address space, plus
// Keccak-256 for the state trie's internal node addressing.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/sha3"

	"github.com/axledger/axledger/common"
)

const (
	// SignatureLength is the size in bytes of an Ed25519 signature.
	SignatureLength = ed25519.SignatureSize
	// PublicKeyLength is the size of an Ed25519 public key.
	PublicKeyLength = ed25519.PublicKeySize
)

var (
	ErrInvalidPubkeyLength = errors.New("crypto: invalid public key length")
	ErrInvalidSignature    = errors.New("crypto: signature verification failed")
)

// Hash256 returns the SHA-256 digest used throughout the data model for
// block IDs, transaction IDs, and Merkle roots.
func Hash256(data ...[]byte) common.Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Keccak256 is used internally by the state trie to content-address
// serialized node blobs.
func Keccak256(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// PubkeyToAddress derives an account address: the last 20 bytes of the
// SHA-256 digest of the public key.
func PubkeyToAddress(pub ed25519.PublicKey) (common.Address, error) {
	if len(pub) != PublicKeyLength {
		return common.Address{}, ErrInvalidPubkeyLength
	}
	digest := Hash256(pub)
	return common.BytesToAddress(digest[common.HashLength-common.AddressLength:]), nil
}

// GenerateKey creates a fresh Ed25519 keypair. Key management proper
// (persistence, the wallet's keystore) lives outside this module; this
// helper exists for tests and for seeding genesis/dev accounts.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// Sign signs digest (the canonical encoding of a transaction's signed
// fields) with priv.
func Sign(priv ed25519.PrivateKey, digest []byte) []byte {
	return ed25519.Sign(priv, digest)
}

// Verify checks sig against digest under pub.
func Verify(pub ed25519.PublicKey, digest, sig []byte) bool {
	if len(pub) != PublicKeyLength || len(sig) != SignatureLength {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}
