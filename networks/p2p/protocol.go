package p2p

import (
	"math/big"

	"github.com/axledger/axledger/blockchain/types"
	"github.com/axledger/axledger/common"
	"github.com/axledger/axledger/ser/codec"
)

// ProtocolName is the protocol's short name.
const ProtocolName = "axl"

// Message codes, assigned densely. A Ping doubles as the handshake:
// the first frame on every new connection must be a Ping carrying the
// sender's status, and every later Ping is a heartbeat answered by a
// Pong carrying the responder's current status.
const (
	PingMsg           = 0x00
	PongMsg           = 0x01
	NewBlockHashesMsg = 0x02
	GetBlocksMsg      = 0x03
	BlocksMsg         = 0x04
	NewTxHashesMsg    = 0x05
	GetTxsMsg         = 0x06
	TxsMsg            = 0x07
	GetHeightMsg      = 0x08
	HeightMsg         = 0x09

	msgCodeCount = 0x0a
)

type errCode int

const (
	ErrMsgTooLarge = iota
	ErrDecode
	ErrInvalidMsgCode
	ErrProtocolVersionMismatch
	ErrNetworkIdMismatch
	ErrGenesisMismatch
	ErrNoStatusMsg
	ErrSelfConnect
	ErrBannedPeer
)

func (e errCode) String() string {
	return errorToString[int(e)]
}

var errorToString = map[int]string{
	ErrMsgTooLarge:             "Message too long",
	ErrDecode:                  "Invalid message",
	ErrInvalidMsgCode:          "Invalid message code",
	ErrProtocolVersionMismatch: "Protocol version mismatch",
	ErrNetworkIdMismatch:       "NetworkId mismatch",
	ErrGenesisMismatch:         "Genesis block mismatch",
	ErrNoStatusMsg:             "No status message",
	ErrSelfConnect:             "Connected to self",
	ErrBannedPeer:              "Peer is banned",
}

// statusData is the payload of Ping and Pong: liveness plus the
// sender's chain position, which is also the whole handshake.
type statusData struct {
	NodeID    string
	NetworkID uint64
	Genesis   common.Hash
	Head      common.Hash
	Height    uint64
	TD        *big.Int
}

func (s *statusData) EncodeAXL(w *codec.Writer) {
	w.PutVarBytes([]byte(s.NodeID))
	w.PutUint64(s.NetworkID)
	w.PutBytes(s.Genesis.Bytes())
	w.PutBytes(s.Head.Bytes())
	w.PutUint64(s.Height)
	w.PutUint256(s.TD)
}

func (s *statusData) DecodeAXL(r *codec.Reader) error {
	s.NodeID = string(r.GetVarBytes())
	s.NetworkID = r.GetUint64()
	s.Genesis = common.BytesToHash(r.GetBytes(common.HashLength))
	s.Head = common.BytesToHash(r.GetBytes(common.HashLength))
	s.Height = r.GetUint64()
	s.TD = r.GetUint256()
	return r.Err()
}

// hashesData is the payload of NewBlockHashes, GetBlocks,
// NewTransactionHashes, and GetTransactions.
type hashesData []common.Hash

func (h *hashesData) EncodeAXL(w *codec.Writer) {
	w.PutUint64(uint64(len(*h)))
	for _, hash := range *h {
		w.PutBytes(hash.Bytes())
	}
}

func (h *hashesData) DecodeAXL(r *codec.Reader) error {
	n := r.GetUint64()
	if n > uint64(len(r.Remaining()))/common.HashLength {
		return codec.ErrTruncated
	}
	out := make(hashesData, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, common.BytesToHash(r.GetBytes(common.HashLength)))
	}
	if err := r.Err(); err != nil {
		return err
	}
	*h = out
	return nil
}

// blocksData is the payload of a Blocks reply.
type blocksData []*types.Block

func (b *blocksData) EncodeAXL(w *codec.Writer) {
	w.PutUint64(uint64(len(*b)))
	for _, block := range *b {
		raw, err := codec.Encode(block)
		if err != nil {
			w.PutVarBytes(nil)
			continue
		}
		w.PutVarBytes(raw)
	}
}

func (b *blocksData) DecodeAXL(r *codec.Reader) error {
	n := r.GetUint64()
	if n > uint64(len(r.Remaining()))/4 {
		return codec.ErrTruncated
	}
	out := make(blocksData, 0, n)
	for i := uint64(0); i < n; i++ {
		raw := r.GetVarBytes()
		block := &types.Block{}
		if err := codec.Decode(raw, block); err != nil {
			return err
		}
		out = append(out, block)
	}
	if err := r.Err(); err != nil {
		return err
	}
	*b = out
	return nil
}

// txsData is the payload of a Transactions reply.
type txsData types.Transactions

func (t *txsData) EncodeAXL(w *codec.Writer) {
	w.PutUint64(uint64(len(*t)))
	for _, tx := range *t {
		raw, err := codec.Encode(tx)
		if err != nil {
			w.PutVarBytes(nil)
			continue
		}
		w.PutVarBytes(raw)
	}
}

func (t *txsData) DecodeAXL(r *codec.Reader) error {
	n := r.GetUint64()
	if n > uint64(len(r.Remaining()))/4 {
		return codec.ErrTruncated
	}
	out := make(txsData, 0, n)
	for i := uint64(0); i < n; i++ {
		raw := r.GetVarBytes()
		tx := &types.Transaction{}
		if err := codec.Decode(raw, tx); err != nil {
			return err
		}
		out = append(out, tx)
	}
	if err := r.Err(); err != nil {
		return err
	}
	*t = out
	return nil
}

// heightData is the payload of a Height reply.
type heightData struct {
	Height uint64
	Head   common.Hash
	TD     *big.Int
}

func (h *heightData) EncodeAXL(w *codec.Writer) {
	w.PutUint64(h.Height)
	w.PutBytes(h.Head.Bytes())
	w.PutUint256(h.TD)
}

func (h *heightData) DecodeAXL(r *codec.Reader) error {
	h.Height = r.GetUint64()
	h.Head = common.BytesToHash(r.GetBytes(common.HashLength))
	h.TD = r.GetUint256()
	return r.Err()
}

// emptyData is the zero-byte payload of GetHeight.
type emptyData struct{}

func (emptyData) EncodeAXL(w *codec.Writer)       {}
func (emptyData) DecodeAXL(r *codec.Reader) error { return r.Err() }
