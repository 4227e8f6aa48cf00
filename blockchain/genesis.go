// Genesis is hard-coded: this engine has exactly one network and one
// pre-funded address, so there is nothing to parameterize.
package blockchain

import (
	"crypto/ed25519"
	"math/big"

	"github.com/axledger/axledger/blockchain/state"
	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/crypto"
	"github.com/axledger/axledger/storage/database"
)

// genesisSeed deterministically derives the pre-funded "god" account's
// keypair: every address is derived from a public key, and genesis's is
// no exception. A fixed, well-known seed (rather
// than GenerateKey's crypto/rand source) keeps every node's genesis
// block, and the devnet faucet key operators use to fund new accounts,
// identical across runs.
var genesisSeed = [ed25519.SeedSize]byte{'a', 'x', 'l', 'e', 'd', 'g', 'e', 'r', '-', 'g', 'e', 'n', 'e', 's', 'i', 's'}

// GenesisPrivateKey and GenesisPublicKey are the god account's keypair,
// exported for devnet tooling and tests that need to spend genesis
// funds; a production deployment would never reuse a public seed like
// this for a real pre-funded account.
var (
	GenesisPrivateKey = ed25519.NewKeyFromSeed(genesisSeed[:])
	GenesisPublicKey  = GenesisPrivateKey.Public().(ed25519.PublicKey)
)

// GenesisAddress is the single pre-funded "god" account,
// derived from GenesisPublicKey like every other account's address.
var GenesisAddress = func() common.Address {
	addr, err := crypto.PubkeyToAddress(GenesisPublicKey)
	if err != nil {
		panic(err)
	}
	return addr
}()

// GenesisBalance is 2^60.
var GenesisBalance = new(big.Int).Lsh(big.NewInt(1), 60)

// GenesisDifficulty is the fixed initial PoW target: a 256-bit hash
// space with the top 16 bits cleared, i.e. any header hash whose first
// two bytes are zero satisfies the target. This gives a genesis
// difficulty that is mineable in a reasonable number of attempts on a
// single core (roughly 2^16 tries in expectation) while still
// exercising the real PoW check end to end, unlike a difficulty of
// "accept everything."
var GenesisDifficulty = func() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return new(big.Int).Rsh(max, 16)
}()

// GenesisTimestampMs is 0.
const GenesisTimestampMs = 0

// NewGenesisBlock builds the deterministic genesis block: parent
// 0x00...0, the pre-funded god address, and a state_root computed by
// writing that one account into a fresh trie. Every node must produce
// the same genesis block ID, so this function takes no configuration.
func NewGenesisBlock(store database.Database) (*types.Block, error) {
	sv := state.New(common.Hash{}, store)
	if err := sv.PutAccount(GenesisAddress, &types.Account{Nonce: 0, Balance: new(big.Int).Set(GenesisBalance)}); err != nil {
		return nil, err
	}

	header := &types.Header{
		ParentHash:  common.Hash{},
		Nonce:       0,
		Difficulty:  new(big.Int).Set(GenesisDifficulty),
		TimestampMs: GenesisTimestampMs,
		MerkleRoot:  types.DeriveMerkleRoot(nil),
		StateRoot:   sv.Root(),
	}
	block := types.NewBlock(header, nil)

	batch := store.NewBatch()
	if err := sv.Commit(batch); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return block, nil
}
