package common

import (
	"encoding/hex"
	"fmt"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash is a 32-byte digest used as block ID, transaction ID, and
// Merkle/State root.
type Hash [HashLength]byte

// BytesToHash sets b as the trailing bytes of a Hash, left-padding with
// zero if b is shorter than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash (used for the genesis block's
// parent pointer).
func (h Hash) IsZero() bool { return h == Hash{} }

// Cmp compares two hashes as big-endian unsigned integers; used for the
// PoW check hash(header) <= difficulty.
func (h Hash) Cmp(other Hash) int {
	for i := 0; i < HashLength; i++ {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LessOrEqual reports h <= other, treating both as big-endian 256-bit
// unsigned integers.
func (h Hash) LessOrEqual(other Hash) bool { return h.Cmp(other) <= 0 }

// Address is a 20-byte account identifier, the last 20 bytes of the
// SHA-256 digest of a public key.
type Address [AddressLength]byte

func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress parses the canonical "0x"-prefixed hex form used in the
// genesis specification.
func HexToAddress(s string) Address {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, _ := hex.DecodeString(s)
	return BytesToAddress(b)
}

func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) IsZero() bool { return a == Address{} }

// Bit returns the i-th most-significant bit of the address (0 = MSB of
// byte 0), used to walk the state trie MSB-first.
func (a Address) Bit(i int) uint8 {
	byteIdx := i / 8
	bitIdx := uint(7 - i%8)
	return (a[byteIdx] >> bitIdx) & 1
}

// AddressBits is the number of bits walked per state-trie path, per
// the trie's MSB-first bit-indexed traversal of the 160-bit address.
const AddressBits = AddressLength * 8

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// GoStringer-ish helper used by tests and log lines.
func (h Hash) Format(f fmt.State, c rune) {
	fmt.Fprint(f, h.Hex())
}

// getShardIndex implements CacheKey so Hash can key a sharded LRU cache.
func (h Hash) getShardIndex(shardMask int) int {
	return int(h[HashLength-1]) & shardMask
}

// getShardIndex implements CacheKey so Address can key a sharded LRU cache.
func (a Address) getShardIndex(shardMask int) int {
	return int(a[AddressLength-1]) & shardMask
}
