package database

import (
	"bytes"
	"testing"
)

func TestMemDBManagerKeyspacesAreIsolated(t *testing.T) {
	dbm := NewMemDBManager()
	defer dbm.Close()

	blocks := dbm.GetDatabase(BlocksDB)
	state := dbm.GetDatabase(StateNodesDB)

	key := []byte("shared-key")
	if err := blocks.Put(key, []byte("block-value")); err != nil {
		t.Fatalf("put blocks: %v", err)
	}
	if err := state.Put(key, []byte("state-value")); err != nil {
		t.Fatalf("put state: %v", err)
	}

	v, err := blocks.Get(key)
	if err != nil {
		t.Fatalf("get blocks: %v", err)
	}
	if !bytes.Equal(v, []byte("block-value")) {
		t.Fatalf("blocks keyspace leaked into state keyspace: got %q", v)
	}

	v, err = state.Get(key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !bytes.Equal(v, []byte("state-value")) {
		t.Fatalf("state keyspace leaked into blocks keyspace: got %q", v)
	}
}

func TestMultiKeyspaceBatchWritesAllKeyspaces(t *testing.T) {
	dbm := NewMemDBManager()
	defer dbm.Close()

	mkb := dbm.NewMultiKeyspaceBatch(BlocksDB, StateNodesDB, MetaDB)
	if err := mkb.Batch(BlocksDB).Put([]byte("h"), []byte("header")); err != nil {
		t.Fatalf("stage blocks: %v", err)
	}
	if err := mkb.Batch(StateNodesDB).Put([]byte("n"), []byte("node")); err != nil {
		t.Fatalf("stage state: %v", err)
	}
	if err := mkb.Batch(MetaDB).Put([]byte("head"), []byte("h")); err != nil {
		t.Fatalf("stage meta: %v", err)
	}

	if err := mkb.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	if v, err := dbm.GetDatabase(BlocksDB).Get([]byte("h")); err != nil || string(v) != "header" {
		t.Fatalf("blocks write missing: %v %q", err, v)
	}
	if v, err := dbm.GetDatabase(StateNodesDB).Get([]byte("n")); err != nil || string(v) != "node" {
		t.Fatalf("state write missing: %v %q", err, v)
	}
	if v, err := dbm.GetDatabase(MetaDB).Get([]byte("head")); err != nil || string(v) != "h" {
		t.Fatalf("meta write missing: %v %q", err, v)
	}
}

func TestDatabaseHasAndDelete(t *testing.T) {
	db := NewMemDatabase()

	ok, err := db.Has([]byte("x"))
	if err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := db.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err = db.Has([]byte("x"))
	if err != nil || !ok {
		t.Fatalf("expected present key, got ok=%v err=%v", ok, err)
	}

	if err := db.Delete([]byte("x")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ = db.Has([]byte("x"))
	if ok {
		t.Fatalf("expected key removed after delete")
	}
}

func TestBatchResetDropsStagedWrites(t *testing.T) {
	db := NewMemDatabase()
	b := db.NewBatch()

	if err := b.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	b.Reset()
	if err := b.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, _ := db.Has([]byte("a"))
	if ok {
		t.Fatalf("expected reset batch to drop staged write")
	}
}

func TestIteratorWithPrefixScopesToPrefix(t *testing.T) {
	db := NewMemDatabase()
	if err := db.Put([]byte("ax"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("ay"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("bz"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}

	it := db.NewIteratorWithPrefix([]byte("a"))
	defer it.Release()

	count := 0
	for it.Next() {
		if len(it.Key()) == 0 || it.Key()[0] != 'a' {
			t.Fatalf("iterator returned key outside prefix: %q", it.Key())
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 keys under prefix a, got %d", count)
	}
}
