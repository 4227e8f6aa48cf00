// Package blockchain is the chain and state engine: it validates and
// executes incoming blocks, tracks the heaviest-chain tip, and commits
// state, block, and head pointer in one ordered multi-keyspace write.
package blockchain

import (
	"math/big"
	"sync"

	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/consensus"
	"github.com/axledger/axledger/event"
	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
	"github.com/axledger/axledger/ser/codec"
	"github.com/axledger/axledger/storage/database"
)

var logger = log.NewModuleLogger(log.ModuleChain)

var (
	orphanedBlockMeter = metrics.NewRegisteredCounter("chain/orphan", nil)
	invalidBlockMeter  = metrics.NewRegisteredCounter("chain/invalid", nil)
	acceptedBlockMeter = metrics.NewRegisteredCounter("chain/accepted", nil)
	reorgMeter         = metrics.NewRegisteredCounter("chain/reorg", nil)
)

// orphanBufferCapacity bounds the number of unknown parent hashes with
// blocks parked against them; on overflow the least recently touched
// parent's whole bucket is evicted. The number of blocks inside one
// bucket is not bounded.
const orphanBufferCapacity = 512

// blacklistCapacity bounds the number of block IDs remembered as
// structurally invalid, so a peer resending the same bad block doesn't
// force repeated re-validation.
const blacklistCapacity = 4096

var (
	metaKeyHead           = []byte("head")
	metaKeyGenesis        = []byte("genesis")
	metaKeySchemaVersion  = []byte("schema")
	metaKeyTargetInterval = []byte("target_interval_ms")
	tdKeyPrefix           = []byte("td:")
)

// schemaVersion is bumped whenever the on-disk record formats change.
const schemaVersion = 1

// chainIndexEntry is the in-memory record BlockChain keeps per known
// block: its header, height, and cumulative difficulty.
type chainIndexEntry struct {
	header          *types.Header
	height          uint64
	totalDifficulty *big.Int
}

// BlockChain owns block storage, runs the validation pipeline, tracks
// the heaviest-chain tip, and fans out ChainHeadEvent on every tip
// change.
type BlockChain struct {
	dbm database.DBManager

	// insertMu serializes InsertBlock end to end, validation included:
	// concurrent inserts never interleave.
	insertMu sync.Mutex

	mu    sync.RWMutex
	index map[common.Hash]*chainIndexEntry
	tip   common.Hash

	orphans   common.Cache // parentHash -> []*types.Block
	blacklist common.Cache // blockHash -> struct{}

	chainHeadFeed event.Feed
}

// NewBlockChain opens dbm's persisted chain, or synthesizes and commits
// the genesis block if storage is empty.
func NewBlockChain(dbm database.DBManager) (*BlockChain, error) {
	orphans, err := common.NewCache(common.LRUConfig{CacheSize: orphanBufferCapacity})
	if err != nil {
		return nil, err
	}
	blacklist, err := common.NewCache(common.LRUConfig{CacheSize: blacklistCapacity})
	if err != nil {
		return nil, err
	}

	bc := &BlockChain{
		dbm:       dbm,
		index:     make(map[common.Hash]*chainIndexEntry),
		orphans:   orphans,
		blacklist: blacklist,
	}

	meta := dbm.GetDatabase(database.MetaDB)
	headBytes, err := meta.Get(metaKeyHead)
	if err != nil {
		genesis, err := NewGenesisBlock(dbm.GetDatabase(database.StateNodesDB))
		if err != nil {
			return nil, err
		}
		if err := bc.writeChainMetadata(genesis.Hash()); err != nil {
			return nil, err
		}
		if err := bc.commitBlock(genesis, big.NewInt(0), totalDifficultyIncrement(genesis.Header().Difficulty), nil); err != nil {
			return nil, err
		}
		return bc, nil
	}

	if sv, err := meta.Get(metaKeySchemaVersion); err != nil || len(sv) != 1 || sv[0] != schemaVersion {
		return nil, newError(KindStorage, "unsupported storage schema %v (want %d)", sv, schemaVersion)
	}

	head := common.BytesToHash(headBytes)
	if err := bc.loadChainFrom(head); err != nil {
		return nil, err
	}
	return bc, nil
}

// writeChainMetadata records the fixed chain metadata alongside a fresh
// genesis: the genesis block ID, the storage schema version, and the
// difficulty rule's target interval, so an operator (or a future
// version of this node) can read the chain's parameters without
// replaying it.
func (bc *BlockChain) writeChainMetadata(genesis common.Hash) error {
	meta := bc.dbm.GetDatabase(database.MetaDB)
	if err := meta.Put(metaKeyGenesis, genesis.Bytes()); err != nil {
		return err
	}
	if err := meta.Put(metaKeySchemaVersion, []byte{schemaVersion}); err != nil {
		return err
	}
	return meta.Put(metaKeyTargetInterval, new(big.Int).SetInt64(consensus.TargetBlockIntervalMs).Bytes())
}

// loadChainFrom walks back from head to genesis, populating the
// in-memory index (header, height, total difficulty) that Tip, StateAt
// and LongestChain read; GetBlock still reads each block from storage.
// Chains are expected to be small enough in this
// engine's operating envelope (no long-range header-only sync) for a
// full walk at startup to be cheap.
func (bc *BlockChain) loadChainFrom(head common.Hash) error {
	meta := bc.dbm.GetDatabase(database.MetaDB)
	hash := head
	var chain []*types.Block
	for {
		block, err := bc.readBlock(hash)
		if err != nil {
			return err
		}
		chain = append(chain, block)
		if block.ParentHash().IsZero() {
			break
		}
		hash = block.ParentHash()
	}

	for i := len(chain) - 1; i >= 0; i-- {
		block := chain[i]
		hash := block.Hash()
		height := uint64(len(chain) - 1 - i)
		tdBytes, err := meta.Get(append(append([]byte{}, tdKeyPrefix...), hash.Bytes()...))
		if err != nil {
			return err
		}
		bc.index[hash] = &chainIndexEntry{
			header:          block.Header(),
			height:          height,
			totalDifficulty: new(big.Int).SetBytes(tdBytes),
		}
	}
	bc.tip = head
	return nil
}

// InsertBlock runs the validation pipeline and, on success, commits the
// block and its post-state and re-evaluates the chain tip. Calls are
// serialized; callers tolerate the commit latency.
func (bc *BlockChain) InsertBlock(block *types.Block) (InsertResult, error) {
	bc.insertMu.Lock()
	defer bc.insertMu.Unlock()
	return bc.insertBlock(block)
}

func (bc *BlockChain) insertBlock(block *types.Block) (InsertResult, error) {
	hash := block.Hash()

	bc.mu.RLock()
	_, known := bc.index[hash]
	_, blacklisted := bc.blacklist.Get(hash)
	parentEntry, haveParent := bc.index[block.ParentHash()]
	bc.mu.RUnlock()

	if known {
		return AlreadyKnown, nil
	}
	if blacklisted {
		return Invalid, newError(KindValidation, "block %s is blacklisted", hash)
	}
	if !haveParent {
		bc.parkOrphan(block)
		orphanedBlockMeter.Inc(1)
		return Orphan, nil
	}

	var grandparent *types.Header
	bc.mu.RLock()
	if gp, ok := bc.index[parentEntry.header.ParentHash]; ok {
		grandparent = gp.header
	}
	bc.mu.RUnlock()

	sv, err := validateBlock(validationContext{
		block:       block,
		parent:      parentEntry.header,
		grandparent: grandparent,
		store:       bc.dbm.GetDatabase(database.StateNodesDB),
	})
	if err != nil {
		bc.blacklist.Add(hash, struct{}{})
		invalidBlockMeter.Inc(1)
		return Invalid, err
	}

	increment := totalDifficultyIncrement(block.Header().Difficulty)
	if err := bc.commitBlock(block, parentEntry.totalDifficulty, increment, sv); err != nil {
		return Invalid, newError(KindStorage, "commit block %s: %v", hash, err)
	}

	bc.resolveOrphans(hash)
	return Accepted, nil
}

// commitBlock stages the block body, the trie node writes, and the tip
// update into a single MultiKeyspaceBatch so no external observer sees
// a tip referring to a missing block or a stale state root. parentTD is
// 0 and sv is nil only
// for the genesis block, whose state was already committed by
// NewGenesisBlock before this call.
func (bc *BlockChain) commitBlock(block *types.Block, parentTD, increment *big.Int, sv *state.StateView) error {
	hash := block.Hash()
	batch := bc.dbm.NewMultiKeyspaceBatch(database.StateNodesDB, database.BlocksDB, database.MetaDB)

	if sv != nil {
		if err := sv.Commit(batch.Batch(database.StateNodesDB)); err != nil {
			return err
		}
	}

	blockBytes, err := blockToBytes(block)
	if err != nil {
		return err
	}
	if err := batch.Batch(database.BlocksDB).Put(hash.Bytes(), blockBytes); err != nil {
		return err
	}

	newTD := new(big.Int).Add(parentTD, increment)
	tdKey := append(append([]byte{}, tdKeyPrefix...), hash.Bytes()...)
	if err := batch.Batch(database.MetaDB).Put(tdKey, newTD.Bytes()); err != nil {
		return err
	}

	bc.mu.Lock()
	oldTip := bc.tip
	becomesTip := len(bc.index) == 0
	if prev, ok := bc.index[bc.tip]; ok && !becomesTip {
		becomesTip = newTD.Cmp(prev.totalDifficulty) > 0
	}
	isReorg := becomesTip && oldTip != block.ParentHash() && oldTip != (common.Hash{})
	var height uint64
	if parent, ok := bc.index[block.ParentHash()]; ok {
		height = parent.height + 1
	}
	bc.index[hash] = &chainIndexEntry{header: block.Header(), height: height, totalDifficulty: newTD}
	if becomesTip {
		if err := batch.Batch(database.MetaDB).Put(metaKeyHead, hash.Bytes()); err != nil {
			bc.mu.Unlock()
			return err
		}
	}
	bc.mu.Unlock()

	if err := batch.Write(); err != nil {
		return err
	}

	if becomesTip {
		bc.mu.Lock()
		bc.tip = hash
		bc.mu.Unlock()
		bc.chainHeadFeed.Send(ChainHeadEvent{Block: block})
		if isReorg {
			reorgMeter.Inc(1)
		}
	}
	acceptedBlockMeter.Inc(1)
	return nil
}

// parkOrphan buffers a block whose parent is not yet known. The bound
// is enforced by the underlying LRU cache itself evicting the least-
// recently-touched parent bucket on overflow.
func (bc *BlockChain) parkOrphan(block *types.Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	key := block.ParentHash()
	var bucket []*types.Block
	if v, ok := bc.orphans.Get(key); ok {
		bucket = v.([]*types.Block)
	}
	bucket = append(bucket, block)
	bc.orphans.Add(key, bucket)
}

// resolveOrphans re-attempts insertion of every block buffered against
// newlyKnown. Recursion naturally chains through
// insertBlock's own resolveOrphans call when a parked block itself
// unblocks further descendants.
func (bc *BlockChain) resolveOrphans(newlyKnown common.Hash) {
	bc.mu.Lock()
	v, ok := bc.orphans.Get(newlyKnown)
	bc.mu.Unlock()
	if !ok {
		return
	}
	bucket := v.([]*types.Block)

	bc.mu.Lock()
	bc.orphans.Remove(newlyKnown)
	bc.mu.Unlock()

	for _, child := range bucket {
		if _, err := bc.insertBlock(child); err != nil {
			logger.Warn("orphan re-insertion failed", "hash", child.Hash(), "err", err)
		}
	}
}

// GetBlock returns the block with the given ID.
func (bc *BlockChain) GetBlock(hash common.Hash) (*types.Block, bool) {
	block, err := bc.readBlock(hash)
	if err != nil {
		return nil, false
	}
	return block, true
}

func (bc *BlockChain) readBlock(hash common.Hash) (*types.Block, error) {
	raw, err := bc.dbm.GetDatabase(database.BlocksDB).Get(hash.Bytes())
	if err != nil {
		return nil, err
	}
	block := &types.Block{}
	if err := bytesToBlock(raw, block); err != nil {
		return nil, err
	}
	return block, nil
}

// Tip returns the current best block's ID, height, and total
// difficulty.
func (bc *BlockChain) Tip() (common.Hash, uint64, *big.Int) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	entry := bc.index[bc.tip]
	return bc.tip, entry.height, new(big.Int).Set(entry.totalDifficulty)
}

// TipBlock returns the full current tip block.
func (bc *BlockChain) TipBlock() (*types.Block, error) {
	bc.mu.RLock()
	hash := bc.tip
	bc.mu.RUnlock()
	return bc.readBlock(hash)
}

// StateAt returns a StateView over the state committed at blockID.
// Writes through the
// returned view never affect the chain's committed state unless
// explicitly committed by the caller against the same store.
func (bc *BlockChain) StateAt(blockID common.Hash) (*state.StateView, error) {
	bc.mu.RLock()
	entry, ok := bc.index[blockID]
	bc.mu.RUnlock()
	if !ok {
		return nil, newError(KindValidation, "unknown block %s", blockID)
	}
	return state.New(entry.header.StateRoot, bc.dbm.GetDatabase(database.StateNodesDB)), nil
}

// LongestChain returns the ordered list of block IDs from genesis to
// tip.
func (bc *BlockChain) LongestChain() []common.Hash {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	var out []common.Hash
	hash := bc.tip
	for {
		out = append(out, hash)
		entry := bc.index[hash]
		if entry.header.ParentHash.IsZero() {
			break
		}
		hash = entry.header.ParentHash
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SubscribeChainHeadEvent registers ch to receive every tip change, the
// signal the miner and the P2P worker subscribe to.
func (bc *BlockChain) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return bc.chainHeadFeed.Subscribe(ch)
}

func blockToBytes(block *types.Block) ([]byte, error) {
	return codec.Encode(block)
}

func bytesToBlock(raw []byte, block *types.Block) error {
	return codec.Decode(raw, block)
}
