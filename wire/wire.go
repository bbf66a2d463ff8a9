// Package wire provides bounds-checked big-endian byte cursors used to build
// and parse RTP headers and ST2110 payload sub-headers.
//
// Writer and Reader never panic on short buffers. The first out-of-range
// access sets a sticky overflow flag; later calls become no-ops and Err
// reports ErrShortBuffer. Callers check Err once after a sequence of
// operations instead of after every field.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is reported when a read or write runs past the end of the buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// Writer writes big-endian fields into a caller-provided buffer.
type Writer struct {
	buf      []byte
	pos      int
	overflow bool
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) reserve(n int) []byte {
	if w.overflow || n < 0 || w.pos+n > len(w.buf) {
		w.overflow = true
		return nil
	}
	b := w.buf[w.pos : w.pos+n]
	w.pos += n
	return b
}

// Uint8 writes one byte.
func (w *Writer) Uint8(v uint8) {
	if b := w.reserve(1); b != nil {
		b[0] = v
	}
}

// Uint16 writes a big-endian 16-bit value.
func (w *Writer) Uint16(v uint16) {
	if b := w.reserve(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

// Uint24 writes the low 24 bits of v big-endian.
func (w *Writer) Uint24(v uint32) {
	if b := w.reserve(3); b != nil {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
	}
}

// Uint32 writes a big-endian 32-bit value.
func (w *Writer) Uint32(v uint32) {
	if b := w.reserve(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

// Bytes copies p into the buffer.
func (w *Writer) Bytes(p []byte) {
	if b := w.reserve(len(p)); b != nil {
		copy(b, p)
	}
}

// Zero writes n zero bytes.
func (w *Writer) Zero(n int) {
	if b := w.reserve(n); b != nil {
		clear(b)
	}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.pos }

// Written returns the written prefix of the buffer.
func (w *Writer) Written() []byte { return w.buf[:w.pos] }

// Err returns ErrShortBuffer if any write overflowed the buffer.
func (w *Writer) Err() error {
	if w.overflow {
		return fmt.Errorf("%w: capacity %d", ErrShortBuffer, len(w.buf))
	}
	return nil
}

// Reader reads big-endian fields from a byte slice.
type Reader struct {
	data     []byte
	pos      int
	overflow bool
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.overflow || n < 0 || r.pos+n > len(r.data) {
		r.overflow = true
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Uint8 reads one byte.
func (r *Reader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// Uint16 reads a big-endian 16-bit value.
func (r *Reader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

// Uint24 reads a big-endian 24-bit value.
func (r *Reader) Uint24() uint32 {
	if b := r.take(3); b != nil {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return 0
}

// Uint32 reads a big-endian 32-bit value.
func (r *Reader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Remaining returns the bytes left to read.
func (r *Reader) Remaining() int {
	if r.overflow {
		return 0
	}
	return len(r.data) - r.pos
}

// Rest returns the unread tail without copying.
func (r *Reader) Rest() []byte {
	if r.overflow {
		return nil
	}
	return r.data[r.pos:]
}

// Err returns ErrShortBuffer if any read ran past the end of the data.
func (r *Reader) Err() error {
	if r.overflow {
		return fmt.Errorf("%w: length %d", ErrShortBuffer, len(r.data))
	}
	return nil
}
