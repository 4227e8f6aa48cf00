package p2p

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axledger/axledger/blockchain"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/ser/codec"
	"github.com/axledger/axledger/storage/database"
)

func TestStatusDataRoundTrip(t *testing.T) {
	in := &statusData{
		NodeID:    "7b8a9c1e",
		NetworkID: 7,
		Genesis:   common.BytesToHash([]byte("genesis")),
		Head:      common.BytesToHash([]byte("head")),
		Height:    42,
		TD:        big.NewInt(123456789),
	}
	raw, err := codec.Encode(in)
	require.NoError(t, err)

	out := &statusData{}
	require.NoError(t, codec.Decode(raw, out))
	assert.Equal(t, in, out)
}

func TestHashesDataRoundTrip(t *testing.T) {
	in := hashesData{
		common.BytesToHash([]byte("one")),
		common.BytesToHash([]byte("two")),
		common.BytesToHash([]byte("three")),
	}
	raw, err := codec.Encode(&in)
	require.NoError(t, err)

	var out hashesData
	require.NoError(t, codec.Decode(raw, &out))
	assert.Equal(t, in, out)
}

func TestBlocksDataRoundTrip(t *testing.T) {
	dbm := database.NewMemDBManager()
	bc, err := blockchain.NewBlockChain(dbm)
	require.NoError(t, err)
	genesis, err := bc.TipBlock()
	require.NoError(t, err)

	in := blocksData{genesis}
	raw, err := codec.Encode(&in)
	require.NoError(t, err)

	var out blocksData
	require.NoError(t, codec.Decode(raw, &out))
	require.Len(t, out, 1)
	assert.Equal(t, genesis.Hash(), out[0].Hash())
}

func TestHeightDataRoundTrip(t *testing.T) {
	in := &heightData{Height: 99, Head: common.BytesToHash([]byte("tip")), TD: big.NewInt(1 << 40)}
	raw, err := codec.Encode(in)
	require.NoError(t, err)

	out := &heightData{}
	require.NoError(t, codec.Decode(raw, out))
	assert.Equal(t, in, out)
}
