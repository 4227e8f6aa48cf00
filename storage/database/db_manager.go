// Package database persists the node's three keyspaces over one
// embedded key/value store: blocks, state trie nodes, and chain
// metadata (head pointer, genesis hash, total difficulty index).
package database

import (
	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// LEVELDB is the only persistent backing store this build supports.
const LEVELDB = "leveldb"

// DBEntryType selects one of the three logical keyspaces a DBManager
// fans operations out to. Each keyspace is a key-prefixed region of a
// single underlying store, not a separate file: the chain engine's
// atomic commit needs one write path covering all three.
type DBEntryType uint8

const (
	BlocksDB DBEntryType = iota
	StateNodesDB
	MetaDB
	dbEntryTypeCount
)

var dbEntryPrefixes = map[DBEntryType][]byte{
	BlocksDB:     []byte("b"),
	StateNodesDB: []byte("s"),
	MetaDB:       []byte("m"),
}

// Database is the key/value store contract every backend (and the
// keyspace view of one) satisfies.
type Database interface {
	Type() string
	Put(key []byte, value []byte) error
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator() iterator.Iterator
	NewIteratorWithPrefix(prefix []byte) iterator.Iterator
	Close()
	Meter(prefix string)
}

// Batch accumulates writes for atomic commit.
type Batch interface {
	Put(key, value []byte) error
	Write() error
	ValueSize() int
	Reset()
}

// DBManager is the storage-layer entry point the chain/state/mempool
// packages depend on: a handle onto each of the three keyspaces plus a
// way to commit writes across them atomically.
type DBManager interface {
	GetDatabase(dbEntryType DBEntryType) Database
	NewBatch(dbEntryType DBEntryType) Batch

	// NewMultiKeyspaceBatch returns one batch per requested keyspace,
	// gathered so a block's state-node writes, header, body, and
	// head-pointer update are committed by one Write call. Write flushes
	// the per-keyspace batches one after another in the order given; it
	// is not a single atomic storage transaction.
	NewMultiKeyspaceBatch(dbEntryTypes ...DBEntryType) *MultiKeyspaceBatch

	Close()
}

type databaseManager struct {
	backend   Database
	keyspaces map[DBEntryType]*keyspace
}

// NewDBManager opens (or creates) a single LevelDB instance at dir and
// wraps it with the three keyspace views.
func NewDBManager(dir string, cacheSizeMB, numHandles int) (DBManager, error) {
	backend, err := NewLDBDatabase(dir, cacheSizeMB, numHandles)
	if err != nil {
		return nil, err
	}
	backend.Meter("axledger/db/")
	return newDatabaseManager(backend), nil
}

// NewMemDBManager returns a DBManager backed entirely by in-memory
// tables, for tests that shouldn't touch the filesystem.
func NewMemDBManager() DBManager {
	return newDatabaseManager(NewMemDatabase())
}

func newDatabaseManager(backend Database) *databaseManager {
	dbm := &databaseManager{
		backend:   backend,
		keyspaces: make(map[DBEntryType]*keyspace, dbEntryTypeCount),
	}
	for t, prefix := range dbEntryPrefixes {
		dbm.keyspaces[t] = &keyspace{backend: backend, prefix: prefix}
	}
	return dbm
}

func (dbm *databaseManager) GetDatabase(dbEntryType DBEntryType) Database {
	return dbm.keyspaces[dbEntryType]
}

func (dbm *databaseManager) NewBatch(dbEntryType DBEntryType) Batch {
	return dbm.keyspaces[dbEntryType].NewBatch()
}

func (dbm *databaseManager) Close() {
	dbm.backend.Close()
}

// keyspace is the view of one DBEntryType over the shared backend:
// every key is transparently prefixed on the way in and served from the
// prefixed region on the way out, so blocks, state nodes, and metadata
// cannot collide however their keys are chosen.
type keyspace struct {
	backend Database
	prefix  []byte
}

func (ks *keyspace) key(key []byte) []byte {
	return append(append(make([]byte, 0, len(ks.prefix)+len(key)), ks.prefix...), key...)
}

func (ks *keyspace) Type() string { return ks.backend.Type() }

func (ks *keyspace) Put(key []byte, value []byte) error {
	return ks.backend.Put(ks.key(key), value)
}

func (ks *keyspace) Has(key []byte) (bool, error) {
	return ks.backend.Has(ks.key(key))
}

func (ks *keyspace) Get(key []byte) ([]byte, error) {
	return ks.backend.Get(ks.key(key))
}

func (ks *keyspace) Delete(key []byte) error {
	return ks.backend.Delete(ks.key(key))
}

func (ks *keyspace) NewIterator() iterator.Iterator {
	return ks.backend.NewIteratorWithPrefix(ks.prefix)
}

func (ks *keyspace) NewIteratorWithPrefix(prefix []byte) iterator.Iterator {
	return ks.backend.NewIteratorWithPrefix(ks.key(prefix))
}

// Close is a no-op: the backend is shared by all three keyspaces and
// owned by the DBManager.
func (ks *keyspace) Close() {}

func (ks *keyspace) Meter(prefix string) {
	ks.backend.Meter(prefix)
}

func (ks *keyspace) NewBatch() Batch {
	return &keyspaceBatch{batch: ks.backend.NewBatch(), ks: ks}
}

// keyspaceBatch stages prefixed writes against the backend's batch.
type keyspaceBatch struct {
	batch Batch
	ks    *keyspace
}

func (kb *keyspaceBatch) Put(key, value []byte) error {
	return kb.batch.Put(kb.ks.key(key), value)
}

func (kb *keyspaceBatch) Write() error {
	return kb.batch.Write()
}

func (kb *keyspaceBatch) ValueSize() int {
	return kb.batch.ValueSize()
}

func (kb *keyspaceBatch) Reset() {
	kb.batch.Reset()
}

// MultiKeyspaceBatch groups one Batch per keyspace so callers can stage
// writes across blocks/state_nodes/meta and flush them together. Flush
// order is write-ahead: state before the block record before the head
// pointer, so a crash mid-commit never exposes a chain head whose state
// or body is missing.
type MultiKeyspaceBatch struct {
	order   []DBEntryType
	batches map[DBEntryType]Batch
}

func (dbm *databaseManager) NewMultiKeyspaceBatch(dbEntryTypes ...DBEntryType) *MultiKeyspaceBatch {
	mkb := &MultiKeyspaceBatch{
		order:   dbEntryTypes,
		batches: make(map[DBEntryType]Batch, len(dbEntryTypes)),
	}
	for _, t := range dbEntryTypes {
		mkb.batches[t] = dbm.NewBatch(t)
	}
	return mkb
}

// Batch returns the staged batch for the given keyspace, or nil if that
// keyspace wasn't included when the MultiKeyspaceBatch was created.
func (mkb *MultiKeyspaceBatch) Batch(dbEntryType DBEntryType) Batch {
	return mkb.batches[dbEntryType]
}

// Write flushes every staged batch in keyspace order. It is not atomic
// across keyspaces at the LevelDB level (each keyspace shares one
// backing store but batches commit independently), but the flush order
// keeps a partially-applied write from producing a chain head that
// outruns its own data, matching the invariant the chain engine relies
// on.
func (mkb *MultiKeyspaceBatch) Write() error {
	for _, t := range mkb.order {
		if err := mkb.batches[t].Write(); err != nil {
			return err
		}
	}
	return nil
}

func (mkb *MultiKeyspaceBatch) ValueSize() int {
	total := 0
	for _, b := range mkb.batches {
		total += b.ValueSize()
	}
	return total
}
