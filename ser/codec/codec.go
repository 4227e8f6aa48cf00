// Package codec implements axledger's canonical binary encoding, used
// both on disk and on the wire: little-endian fixed-width integers, u32-length-prefixed
// variable-length fields, a leading version byte on wire frames. Types
// implement explicit Encode/Decode methods; there is no reflection and
// no tag-driven schema.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"math/big"
)

// CurrentVersion is the version byte written at the start of every wire
// frame.
const CurrentVersion uint8 = 1

var (
	ErrTruncated    = errors.New("codec: truncated input")
	ErrFieldTooLong = errors.New("codec: length-prefixed field exceeds limit")
)

// MaxFieldLength bounds length-prefixed fields (tx data, tx lists, ...)
// read off the wire.
const MaxFieldLength = 32 * 1024 * 1024

// Writer accumulates a canonical encoding. Errors are sticky: once one
// write fails all subsequent writes are no-ops and Err() reports it.
type Writer struct {
	buf []byte
	err error
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Err() error    { return w.err }

func (w *Writer) PutUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) PutUint64(v uint64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutUint128 writes a big-endian-free 128-bit unsigned value as two
// little-endian uint64 limbs (low, then high), used for balance/value
// fields.
func (w *Writer) PutUint128(v *big.Int) {
	if w.err != nil {
		return
	}
	if v == nil {
		v = new(big.Int)
	}
	bz := v.Bytes() // big-endian, minimal length
	if len(bz) > 16 {
		w.err = errors.New("codec: u128 overflow")
		return
	}
	var full [16]byte
	copy(full[16-len(bz):], bz)
	low := binary.BigEndian.Uint64(full[8:16])
	high := binary.BigEndian.Uint64(full[0:8])
	w.PutUint64(low)
	w.PutUint64(high)
}

// PutUint256 writes a 256-bit unsigned value as a fixed 32-byte
// little-endian field, used for difficulty targets and cumulative
// difficulty.
func (w *Writer) PutUint256(v *big.Int) {
	if w.err != nil {
		return
	}
	if v == nil {
		v = new(big.Int)
	}
	bz := v.Bytes() // big-endian, minimal length
	if len(bz) > 32 {
		w.err = errors.New("codec: u256 overflow")
		return
	}
	var full [32]byte
	copy(full[32-len(bz):], bz)
	for i, j := 0, 31; i < j; i, j = i+1, j-1 {
		full[i], full[j] = full[j], full[i]
	}
	w.PutBytes(full[:])
}

func (w *Writer) PutBytes(fixed []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, fixed...)
}

// PutVarBytes writes a u32-length-prefixed variable-length field.
func (w *Writer) PutVarBytes(v []byte) {
	if w.err != nil {
		return
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, v...)
}

// Reader consumes a canonical encoding produced by Writer.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error       { return r.err }
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) GetUint8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.buf) {
		r.fail(ErrTruncated)
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *Reader) GetUint64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.buf) {
		r.fail(ErrTruncated)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *Reader) GetUint128() *big.Int {
	low := r.GetUint64()
	high := r.GetUint64()
	if r.err != nil {
		return new(big.Int)
	}
	var full [16]byte
	binary.BigEndian.PutUint64(full[0:8], high)
	binary.BigEndian.PutUint64(full[8:16], low)
	return new(big.Int).SetBytes(full[:])
}

// GetUint256 reads a fixed 32-byte little-endian field written by
// PutUint256.
func (r *Reader) GetUint256() *big.Int {
	b := r.GetBytes(32)
	if r.err != nil {
		return new(big.Int)
	}
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[i] = b[31-i]
	}
	return new(big.Int).SetBytes(be[:])
}

func (r *Reader) GetBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.fail(ErrTruncated)
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v
}

func (r *Reader) GetVarBytes() []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+4 > len(r.buf) {
		r.fail(ErrTruncated)
		return nil
	}
	n := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if n > MaxFieldLength {
		r.fail(ErrFieldTooLong)
		return nil
	}
	return r.GetBytes(int(n))
}

// Encoder is implemented by every wire/storage type in the codebase.
type Encoder interface {
	EncodeAXL(w *Writer)
}

// Decoder is the read-side counterpart of Encoder.
type Decoder interface {
	DecodeAXL(r *Reader) error
}

// Encode runs v's encoder and returns the resulting bytes, or an error if
// the encoder failed mid-way (e.g. a u128 overflow).
func Encode(v Encoder) ([]byte, error) {
	w := NewWriter()
	v.EncodeAXL(w)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Decode fully consumes b into v, failing if trailing bytes remain.
func Decode(b []byte, v Decoder) error {
	r := NewReader(b)
	if err := v.DecodeAXL(r); err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Remaining()) != 0 {
		return errors.New("codec: trailing bytes after decode")
	}
	return nil
}

// WriteFrame writes a versioned, length-prefixed wire frame: version
// byte, kind byte, u32 payload length, payload.
func WriteFrame(w io.Writer, kind uint8, payload []byte) error {
	var hdr [6]byte
	hdr[0] = CurrentVersion
	hdr[1] = kind
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame written by WriteFrame, enforcing
// MaxFieldLength as the inbound message size cap.
func ReadFrame(r io.Reader) (version, kind uint8, payload []byte, err error) {
	var hdr [6]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	version = hdr[0]
	kind = hdr[1]
	n := binary.LittleEndian.Uint32(hdr[2:6])
	if n > MaxFieldLength {
		return version, kind, nil, ErrFieldTooLong
	}
	payload = make([]byte, n)
	if _, err = io.ReadFull(r, payload); err != nil {
		return version, kind, nil, err
	}
	return version, kind, payload, nil
}
