// Package state implements the authenticated address->account map as a
// binary Merkle trie, MSB-first over the 160 bits of an Address: a
// content-addressed node store (trieDatabase, over storage/database's
// state_nodes keyspace) underneath a read-through cache, underneath the
// trie itself.
package state

import (
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/crypto"
	"github.com/axledger/axledger/ser/codec"
)

// node is the on-disk representation of one trie node. A leaf stores the
// suffix of address bits not yet consumed on the path from the root plus
// the encoded account; an internal node stores its two children's hashes.
// Both shapes are content-addressed by Hash(encode(node)).
type node struct {
	isLeaf bool

	// Internal node fields.
	left, right common.Hash

	// Leaf node fields.
	keySuffix []bool // remaining address bits, MSB-first, from this depth
	account   []byte // codec-encoded Account
}

func (n *node) hash() common.Hash {
	enc, _ := codec.Encode(n)
	return crypto.Keccak256(enc)
}

func (n *node) EncodeAXL(w *codec.Writer) {
	if n.isLeaf {
		w.PutUint8(1)
		w.PutUint64(uint64(len(n.keySuffix)))
		bits := make([]byte, (len(n.keySuffix)+7)/8)
		for i, b := range n.keySuffix {
			if b {
				bits[i/8] |= 1 << uint(7-i%8)
			}
		}
		w.PutVarBytes(bits)
		w.PutVarBytes(n.account)
		return
	}
	w.PutUint8(0)
	w.PutBytes(n.left[:])
	w.PutBytes(n.right[:])
}

func (n *node) DecodeAXL(r *codec.Reader) error {
	kind := r.GetUint8()
	if kind == 1 {
		n.isLeaf = true
		nbits := r.GetUint64()
		bits := r.GetVarBytes()
		if nbits > uint64(common.AddressBits) || uint64(len(bits)) < (nbits+7)/8 {
			return codec.ErrTruncated
		}
		n.keySuffix = make([]bool, nbits)
		for i := range n.keySuffix {
			n.keySuffix[i] = bits[i/8]&(1<<uint(7-i%8)) != 0
		}
		n.account = r.GetVarBytes()
		return r.Err()
	}
	n.isLeaf = false
	n.left = common.BytesToHash(r.GetBytes(common.HashLength))
	n.right = common.BytesToHash(r.GetBytes(common.HashLength))
	return r.Err()
}

// EmptyRoot is the root hash of a trie with no accounts: hash of an empty
// byte string, matching the "root = H(empty) iff no accounts exist"
// invariant.
var EmptyRoot = crypto.Keccak256()

// Trie is the binary Merkle authenticated address map. It is an
// immutable, purely functional structure: Set returns a new root and
// never mutates nodes reachable from an older root, so every historic
// root stays a valid read handle as long as its nodes remain in the
// backing trieDatabase.
type Trie struct {
	db   *trieDatabase
	root common.Hash
}

// NewTrie opens the trie rooted at root (EmptyRoot for a fresh trie).
func NewTrie(root common.Hash, db *trieDatabase) *Trie {
	if root.IsZero() {
		root = EmptyRoot
	}
	return &Trie{db: db, root: root}
}

// Root returns the trie's current root hash.
func (t *Trie) Root() common.Hash { return t.root }

// Get returns the account stored at address, or an empty account
// (nonce 0, balance 0) if the address has never been set.
func (t *Trie) Get(addr common.Address) (*types.Account, error) {
	if t.root == EmptyRoot {
		return types.NewEmptyAccount(), nil
	}
	bits := addressBits(addr)
	cur := t.root
	depth := 0
	for {
		n, err := t.db.node(cur)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			if matchesSuffix(bits[depth:], n.keySuffix) {
				acc := &types.Account{}
				if err := codec.Decode(n.account, acc); err != nil {
					return nil, err
				}
				return acc, nil
			}
			return types.NewEmptyAccount(), nil
		}
		if bits[depth] {
			cur = n.right
		} else {
			cur = n.left
		}
		depth++
		if cur.IsZero() {
			return types.NewEmptyAccount(), nil
		}
	}
}

// Set writes account at address and returns the new root. Path nodes on
// the write path are rebuilt and persisted (staged into the pending
// write set); everything off the path is structurally shared with the
// prior root.
func (t *Trie) Set(addr common.Address, acc *types.Account) (common.Hash, error) {
	bits := addressBits(addr)
	encAcc, err := codec.Encode(acc)
	if err != nil {
		return common.Hash{}, err
	}
	newRoot, err := t.insert(t.root, bits, 0, encAcc)
	if err != nil {
		return common.Hash{}, err
	}
	t.root = newRoot
	return newRoot, nil
}

// insert returns the hash of the subtree rooted at cur after placing
// encAcc at the address whose remaining MSB-first bits are bits[depth:].
func (t *Trie) insert(cur common.Hash, bits []bool, depth int, encAcc []byte) (common.Hash, error) {
	if cur.IsZero() || cur == EmptyRoot {
		leaf := &node{isLeaf: true, keySuffix: append([]bool(nil), bits[depth:]...), account: encAcc}
		return t.db.put(leaf)
	}

	n, err := t.db.node(cur)
	if err != nil {
		return common.Hash{}, err
	}

	if n.isLeaf {
		if matchesSuffix(bits[depth:], n.keySuffix) {
			leaf := &node{isLeaf: true, keySuffix: n.keySuffix, account: encAcc}
			return t.db.put(leaf)
		}
		return t.splitLeaf(n, bits, depth, encAcc)
	}

	left, right := n.left, n.right
	var err2 error
	if bits[depth] {
		right, err2 = t.insert(right, bits, depth+1, encAcc)
	} else {
		left, err2 = t.insert(left, bits, depth+1, encAcc)
	}
	if err2 != nil {
		return common.Hash{}, err2
	}
	return t.db.put(&node{isLeaf: false, left: left, right: right})
}

// splitLeaf replaces a leaf whose stored suffix diverges from the new
// key with a chain of internal nodes down to the point of divergence,
// then re-inserts both the existing and new leaves below it.
func (t *Trie) splitLeaf(existing *node, bits []bool, depth int, encAcc []byte) (common.Hash, error) {
	existingBits := existing.keySuffix
	newBits := bits[depth:]

	i := 0
	for i < len(existingBits) && i < len(newBits) && existingBits[i] == newBits[i] {
		i++
	}

	existingLeaf := &node{isLeaf: true, keySuffix: existingBits[i+1:], account: existing.account}
	existingHash, err := t.db.put(existingLeaf)
	if err != nil {
		return common.Hash{}, err
	}
	newLeaf := &node{isLeaf: true, keySuffix: newBits[i+1:], account: encAcc}
	newHash, err := t.db.put(newLeaf)
	if err != nil {
		return common.Hash{}, err
	}

	var branch *node
	if existingBits[i] {
		branch = &node{isLeaf: false, left: common.Hash{}, right: existingHash}
	} else {
		branch = &node{isLeaf: false, left: existingHash, right: common.Hash{}}
	}
	if newBits[i] {
		branch.right = newHash
	} else {
		branch.left = newHash
	}
	cur, err := t.db.put(branch)
	if err != nil {
		return common.Hash{}, err
	}

	for j := i - 1; j >= 0; j-- {
		var parent *node
		if existingBits[j] {
			parent = &node{isLeaf: false, left: common.Hash{}, right: cur}
		} else {
			parent = &node{isLeaf: false, left: cur, right: common.Hash{}}
		}
		cur, err = t.db.put(parent)
		if err != nil {
			return common.Hash{}, err
		}
	}
	return cur, nil
}

func matchesSuffix(bits, suffix []bool) bool {
	if len(bits) != len(suffix) {
		return false
	}
	for i := range bits {
		if bits[i] != suffix[i] {
			return false
		}
	}
	return true
}

// addressBits decomposes addr into its 160 bits, most significant first,
// pinning the canonical bit order the trie's determinism invariant
// requires.
func addressBits(addr common.Address) []bool {
	bits := make([]bool, common.AddressBits)
	for i := 0; i < common.AddressBits; i++ {
		bits[i] = addr.Bit(i) != 0
	}
	return bits
}
