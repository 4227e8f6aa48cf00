package database

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrMemdbNotFound is the memory backend's not-found error; it is a
// distinct value from leveldb.ErrNotFound.
var ErrMemdbNotFound = errors.New("axledger/database: not found")

// memDatabase is an in-memory Database, used by state/chain/mempool
// tests so they never touch the filesystem.
type memDatabase struct {
	lock sync.RWMutex
	db   map[string][]byte
}

// NewMemDatabase returns an empty in-memory Database.
func NewMemDatabase() *memDatabase {
	return &memDatabase{db: make(map[string][]byte)}
}

func (m *memDatabase) Type() string { return "memorydb" }

func (m *memDatabase) Put(key []byte, value []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.db[string(key)] = cp
	return nil
}

func (m *memDatabase) Has(key []byte) (bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.db[string(key)]
	return ok, nil
}

func (m *memDatabase) Get(key []byte) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.db[string(key)]
	if !ok {
		return nil, ErrMemdbNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *memDatabase) Delete(key []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.db, string(key))
	return nil
}

func (m *memDatabase) Close() {}

func (m *memDatabase) Meter(prefix string) {
	// No disk, nothing to meter.
}

func (m *memDatabase) NewBatch() Batch {
	return &memBatch{db: m}
}

// NewIterator and NewIteratorWithPrefix snapshot the current keys into a
// goleveldb in-memory table so callers get a real iterator.Iterator
// without this package depending on goleveldb internals for ordering.
func (m *memDatabase) NewIterator() iterator.Iterator {
	return m.snapshot().NewIterator(nil)
}

func (m *memDatabase) NewIteratorWithPrefix(prefix []byte) iterator.Iterator {
	return m.snapshot().NewIterator(util.BytesPrefix(prefix))
}

func (m *memDatabase) snapshot() *memdb.DB {
	m.lock.RLock()
	defer m.lock.RUnlock()

	keys := make([]string, 0, len(m.db))
	for k := range m.db {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := memdb.New(comparer.DefaultComparer, len(m.db))
	for _, k := range keys {
		snap.Put([]byte(k), m.db[k])
	}
	return snap
}

type memBatchOp struct {
	key, value []byte
	deleted    bool
}

type memBatch struct {
	db   *memDatabase
	ops  []memBatchOp
	size int
}

func (b *memBatch) Put(key, value []byte) error {
	cpk := append([]byte(nil), key...)
	cpv := append([]byte(nil), value...)
	b.ops = append(b.ops, memBatchOp{key: cpk, value: cpv})
	b.size += len(value)
	return nil
}

func (b *memBatch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()
	for _, op := range b.ops {
		if op.deleted {
			delete(b.db.db, string(op.key))
			continue
		}
		b.db.db[string(op.key)] = op.value
	}
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
