// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

// CacheKey is the key contract of Cache: Hash and Address implement it,
// which covers every bounded working set in the node (the chain's
// orphan buffer and invalid-block blacklist, the gossip layer's
// seen-hash and per-peer known-hash sets).
type CacheKey interface {
	getShardIndex(shardMask int) int
}

// Cache is a bounded LRU set/map. Overflow silently evicts the least
// recently used entry, which is exactly the eviction policy every
// consumer above wants: stale orphans, old blacklist entries, and aged
// gossip hashes are the right things to forget first.
type Cache interface {
	Add(key CacheKey, value interface{}) (evicted bool)
	Get(key CacheKey) (value interface{}, ok bool)
	Contains(key CacheKey) bool
	Remove(key CacheKey)
	Len() int
	Purge()
}

// CacheConfiger selects and sizes a Cache implementation.
type CacheConfiger interface {
	newCache() (Cache, error)
}

func NewCache(config CacheConfiger) (Cache, error) {
	if config == nil {
		return nil, errors.New("cache config is nil")
	}
	return config.newCache()
}

// LRUConfig builds a single-lock LRU, right for caches touched from one
// or two goroutines (the chain engine's orphan buffer and blacklist,
// one peer's known-hash sets).
type LRUConfig struct {
	CacheSize int
}

func (c LRUConfig) newCache() (Cache, error) {
	backing, err := lru.New(c.CacheSize)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: backing}, nil
}

type lruCache struct {
	lru *lru.Cache
}

func (c *lruCache) Add(key CacheKey, value interface{}) (evicted bool) {
	return c.lru.Add(key, value)
}

func (c *lruCache) Get(key CacheKey) (value interface{}, ok bool) {
	return c.lru.Get(key)
}

func (c *lruCache) Contains(key CacheKey) bool {
	return c.lru.Contains(key)
}

func (c *lruCache) Remove(key CacheKey) {
	c.lru.Remove(key)
}

func (c *lruCache) Len() int {
	return c.lru.Len()
}

func (c *lruCache) Purge() {
	c.lru.Purge()
}

// LRUShardConfig splits the cache into NumShards independently locked
// LRUs, keyed by the low bits of the CacheKey. Right for caches hit
// concurrently by every peer goroutine at once, like the gossip layer's
// shared seen-hash set. NumShards is rounded down to a power of two and
// clamped so no shard drops below minShardSize entries.
type LRUShardConfig struct {
	CacheSize int
	NumShards int
}

const (
	minShardSize = 10
	minNumShards = 2
)

func (c LRUShardConfig) newCache() (Cache, error) {
	if c.CacheSize < minShardSize*minNumShards {
		return LRUConfig{CacheSize: c.CacheSize}.newCache()
	}

	numShards := powOf2AtMost(c.NumShards)
	if numShards < minNumShards {
		numShards = minNumShards
	}
	for numShards > minNumShards && c.CacheSize/numShards < minShardSize {
		numShards /= 2
	}

	shard := &lruShardCache{
		shards:         make([]*lru.Cache, numShards),
		shardIndexMask: numShards - 1,
	}
	var err error
	for i := range shard.shards {
		if shard.shards[i], err = lru.New(c.CacheSize / numShards); err != nil {
			return nil, err
		}
	}
	return shard, nil
}

// powOf2AtMost returns the greatest power of two not exceeding n.
func powOf2AtMost(n int) int {
	p := 0
	for n > 0 {
		p = n
		n &= n - 1
	}
	return p
}

type lruShardCache struct {
	shards         []*lru.Cache
	shardIndexMask int
}

func (c *lruShardCache) shard(key CacheKey) *lru.Cache {
	return c.shards[key.getShardIndex(c.shardIndexMask)]
}

func (c *lruShardCache) Add(key CacheKey, value interface{}) (evicted bool) {
	return c.shard(key).Add(key, value)
}

func (c *lruShardCache) Get(key CacheKey) (value interface{}, ok bool) {
	return c.shard(key).Get(key)
}

func (c *lruShardCache) Contains(key CacheKey) bool {
	return c.shard(key).Contains(key)
}

func (c *lruShardCache) Remove(key CacheKey) {
	c.shard(key).Remove(key)
}

func (c *lruShardCache) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *lruShardCache) Purge() {
	for _, s := range c.shards {
		s.Purge()
	}
}
