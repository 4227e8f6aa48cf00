// Copyright 2018 The klaytn Authors
// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package database

import (
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
)

// meterRefreshInterval paces the compaction/disk stat collection of a
// metered levelDB.
const meterRefreshInterval = 3 * time.Second

// levelDB is the one persistent backend of a node: a single goleveldb
// instance holding all three keyspaces (blocks, state_nodes, meta) as
// key-prefixed regions, fanned out by the DBManager. Chain commits are
// write-heavy and state reads are point lookups, so the cache budget is
// split between the block cache and the write buffer rather than given
// wholly to either.
type levelDB struct {
	dir string
	db  *leveldb.DB

	compTimeMeter  metrics.Meter // time spent in compaction
	compReadMeter  metrics.Meter // bytes read by compaction
	compWriteMeter metrics.Meter // bytes written by compaction
	diskReadMeter  metrics.Meter // effective bytes read
	diskWriteMeter metrics.Meter // effective bytes written

	quitLock sync.Mutex
	quitChan chan chan error

	logger log.Logger
}

// NewLDBDatabase opens (or creates) the store at dir. cacheSizeMB and
// handles are floored at 16 so a misconfigured node still gets a usable
// database. A corrupted store is recovered in place before giving up.
func NewLDBDatabase(dir string, cacheSizeMB, handles int) (*levelDB, error) {
	logger := log.New("database", dir)

	if cacheSizeMB < 16 {
		cacheSizeMB = 16
	}
	if handles < 16 {
		handles = 16
	}
	logger.Info("Allocated LevelDB", "cacheSizeMB", cacheSizeMB, "handles", handles)

	db, err := leveldb.OpenFile(dir, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cacheSizeMB / 2 * opt.MiB,
		WriteBuffer:            cacheSizeMB / 4 * opt.MiB, // two write buffers are used internally
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDB{dir: dir, db: db, logger: logger}, nil
}

func (db *levelDB) Type() string { return LEVELDB }

func (db *levelDB) Put(key []byte, value []byte) error {
	return db.db.Put(key, value, nil)
}

func (db *levelDB) Has(key []byte) (bool, error) {
	return db.db.Has(key, nil)
}

func (db *levelDB) Get(key []byte) ([]byte, error) {
	return db.db.Get(key, nil)
}

func (db *levelDB) Delete(key []byte) error {
	return db.db.Delete(key, nil)
}

func (db *levelDB) NewIterator() iterator.Iterator {
	return db.db.NewIterator(nil, nil)
}

func (db *levelDB) NewIteratorWithPrefix(prefix []byte) iterator.Iterator {
	return db.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (db *levelDB) NewBatch() Batch {
	return &ldbBatch{db: db.db, b: new(leveldb.Batch)}
}

// Close stops the meter collector, then closes the store.
func (db *levelDB) Close() {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.quitChan != nil {
		errc := make(chan error)
		db.quitChan <- errc
		if err := <-errc; err != nil {
			db.logger.Error("Metrics collection failed", "err", err)
		}
		db.quitChan = nil
	}
	if err := db.db.Close(); err != nil {
		db.logger.Error("Failed to close database", "err", err)
		return
	}
	db.logger.Info("Database closed")
}

// Meter registers the compaction and disk-IO instruments under prefix
// and starts the periodic collector.
func (db *levelDB) Meter(prefix string) {
	db.compTimeMeter = metrics.NewRegisteredMeter(prefix+"compaction/time", nil)
	db.compReadMeter = metrics.NewRegisteredMeter(prefix+"compaction/read", nil)
	db.compWriteMeter = metrics.NewRegisteredMeter(prefix+"compaction/write", nil)
	db.diskReadMeter = metrics.NewRegisteredMeter(prefix+"disk/read", nil)
	db.diskWriteMeter = metrics.NewRegisteredMeter(prefix+"disk/write", nil)

	// NilMeters were registered above when metrics are disabled; skip
	// the collector goroutine entirely.
	if !metrics.Enabled {
		return
	}

	db.quitLock.Lock()
	db.quitChan = make(chan chan error)
	db.quitLock.Unlock()

	go db.meter(meterRefreshInterval)
}

// meter polls goleveldb's internal counters and feeds the deltas to the
// registered meters until Close asks it to stop.
func (db *levelDB) meter(refresh time.Duration) {
	var (
		stats                       leveldb.DBStats
		prevCompTime                time.Duration
		prevCompRead, prevCompWrite int64
		prevDiskRead, prevDiskWrite uint64

		errc chan error
		merr error
	)

	for errc == nil && merr == nil {
		if merr = db.db.Stats(&stats); merr != nil {
			break
		}

		var compTime time.Duration
		var compRead, compWrite int64
		for i := range stats.LevelDurations {
			compTime += stats.LevelDurations[i]
			compRead += stats.LevelRead[i]
			compWrite += stats.LevelWrite[i]
		}
		db.compTimeMeter.Mark(int64((compTime - prevCompTime).Seconds()))
		db.compReadMeter.Mark(compRead - prevCompRead)
		db.compWriteMeter.Mark(compWrite - prevCompWrite)
		prevCompTime, prevCompRead, prevCompWrite = compTime, compRead, compWrite

		db.diskReadMeter.Mark(int64(stats.IORead - prevDiskRead))
		db.diskWriteMeter.Mark(int64(stats.IOWrite - prevDiskWrite))
		prevDiskRead, prevDiskWrite = stats.IORead, stats.IOWrite

		select {
		case errc = <-db.quitChan:
		case <-time.After(refresh):
		}
	}

	if errc == nil {
		errc = <-db.quitChan
	}
	errc <- merr
}

type ldbBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(value)
	return nil
}

func (b *ldbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *ldbBatch) ValueSize() int {
	return b.size
}

func (b *ldbBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
