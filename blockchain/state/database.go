package state

import (
	"errors"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/ser/codec"
	"github.com/axledger/axledger/storage/database"
)

var errNilNode = errors.New("state: resolved a zero node hash")

// trieDatabase persists trie nodes content-addressed in the backing
// store's state_nodes keyspace, with a fastcache read-through cache in
// front of it. It carries the one concern this trie needs: node
// get/put. There is no code storage and no per-root trie instance cache
// (a Trie is itself cheap to reopen since it only carries a root
// hash).
type trieDatabase struct {
	store database.Database
	cache *fastcache.Cache

	// pending holds nodes written by in-flight inserts that haven't been
	// flushed to store yet, keyed by hash. Commit flushes them into a
	// caller-supplied batch so a block's state-node writes land in the
	// same atomic commit as its header/body.
	pending map[common.Hash]*node
}

// cacheSizeBytes sizes the fastcache in front of state_nodes; 32MiB
// comfortably holds several full account tries for the validator set
// sizes this engine targets.
const cacheSizeBytes = 32 * 1024 * 1024

// nodeCache is shared by every trieDatabase. Nodes are content-
// addressed, so entries cached through one view are valid for all
// views, including views over different backing stores.
var nodeCache = fastcache.New(cacheSizeBytes)

// NewTrieDatabase wraps store (normally dbm.GetDatabase(database.StateNodesDB)).
func NewTrieDatabase(store database.Database) *trieDatabase {
	return &trieDatabase{
		store:   store,
		cache:   nodeCache,
		pending: make(map[common.Hash]*node),
	}
}

// put stages n into the pending write set and returns its content hash.
// Writing the same node twice (two paths recomputing an identical
// subtree) is cheap: the hash map collapses duplicates before Commit
// ever touches storage, giving the "identical subtrees share storage"
// invariant for free within a single block.
func (db *trieDatabase) put(n *node) (common.Hash, error) {
	h := n.hash()
	if _, ok := db.pending[h]; !ok {
		db.pending[h] = n
	}
	return h, nil
}

// node resolves hash to its node, checking the pending set, then the
// fastcache, then the backing store.
func (db *trieDatabase) node(hash common.Hash) (*node, error) {
	if hash.IsZero() {
		return nil, errNilNode
	}
	if n, ok := db.pending[hash]; ok {
		return n, nil
	}
	if enc, ok := db.cache.HasGet(nil, hash[:]); ok {
		n := &node{}
		if err := codec.Decode(enc, n); err != nil {
			return nil, err
		}
		return n, nil
	}
	enc, err := db.store.Get(hash[:])
	if err != nil {
		return nil, err
	}
	db.cache.Set(hash[:], enc)
	n := &node{}
	if err := codec.Decode(enc, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Commit flushes every pending node into batch (a storage.Batch over the
// state_nodes keyspace) and populates the fastcache, then clears the
// pending set so the trieDatabase is ready for the next block.
func (db *trieDatabase) Commit(batch database.Batch) error {
	for h, n := range db.pending {
		enc, err := codec.Encode(n)
		if err != nil {
			return err
		}
		if err := batch.Put(h[:], enc); err != nil {
			return err
		}
		db.cache.Set(h[:], enc)
	}
	db.pending = make(map[common.Hash]*node)
	return nil
}
