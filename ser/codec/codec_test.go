package codec

import (
	"bytes"
	"math/big"
	"testing"
)

func TestUint64RoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint64(0)
	w.PutUint64(1)
	w.PutUint64(1<<64 - 1)
	if w.Err() != nil {
		t.Fatalf("unexpected encode error: %v", w.Err())
	}

	r := NewReader(w.Bytes())
	if got := r.GetUint64(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := r.GetUint64(); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := r.GetUint64(); got != 1<<64-1 {
		t.Fatalf("got %d, want max uint64", got)
	}
	if r.Err() != nil {
		t.Fatalf("unexpected decode error: %v", r.Err())
	}
}

func TestUint128RoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		new(big.Int).Lsh(big.NewInt(1), 60),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)),
	}
	for _, c := range cases {
		w := NewWriter()
		w.PutUint128(c)
		r := NewReader(w.Bytes())
		got := r.GetUint128()
		if got.Cmp(c) != 0 {
			t.Fatalf("got %s, want %s", got, c)
		}
	}
}

func TestUint256RoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		new(big.Int).Lsh(big.NewInt(1), 240),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)),
	}
	for _, c := range cases {
		w := NewWriter()
		w.PutUint256(c)
		r := NewReader(w.Bytes())
		got := r.GetUint256()
		if got.Cmp(c) != 0 {
			t.Fatalf("got %s, want %s", got, c)
		}
	}

	w := NewWriter()
	w.PutUint256(new(big.Int).Lsh(big.NewInt(1), 256))
	if w.Err() == nil {
		t.Fatalf("expected u256 overflow error")
	}
}

func TestVarBytesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutVarBytes([]byte("hello"))
	w.PutVarBytes(nil)
	w.PutVarBytes([]byte("world"))

	r := NewReader(w.Bytes())
	if got := string(r.GetVarBytes()); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := r.GetVarBytes(); len(got) != 0 {
		t.Fatalf("expected empty field, got %q", got)
	}
	if got := string(r.GetVarBytes()); got != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncatedInputFails(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_ = r.GetUint64()
	if r.Err() != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", r.Err())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, 0x05, []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	version, kind, payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if version != CurrentVersion || kind != 0x05 || string(payload) != "payload" {
		t.Fatalf("got version=%d kind=%d payload=%q", version, kind, payload)
	}
}

func TestOversizedFieldRejected(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	got := r.GetVarBytes()
	if got != nil || r.Err() != ErrFieldTooLong {
		t.Fatalf("expected ErrFieldTooLong, got data=%v err=%v", got, r.Err())
	}
}
