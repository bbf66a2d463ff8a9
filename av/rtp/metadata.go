package rtp

import (
	"errors"
	"fmt"

	"github.com/opd-ai/aoip/wire"
)

// SegmentHeaderSize is the size of the ST2110-41 data item segment header.
const SegmentHeaderSize = 8

// FormatDescriptorSize is the size of the first-fragment format descriptor.
const FormatDescriptorSize = 4

// Field limits of the segment header.
const (
	MaxDataItemType = 1<<22 - 1
	MaxSegmentWords = 1<<9 - 1
)

// ErrMalformedSegment indicates a segment header that cannot be decoded or encoded.
var ErrMalformedSegment = errors.New("malformed metadata segment header")

// SegmentHeader precedes every fragment of a metadata message.
//
// Layout (big-endian):
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|          Data Item Type (22 bits)         |K|  Length (words)  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                    Segment offset (words)                     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// K marks the last segment of the message.
type SegmentHeader struct {
	DataItemType uint32
	Last         bool
	LengthWords  uint16
	OffsetWords  uint32
}

// MarshalTo writes the header into dst.
func (h SegmentHeader) MarshalTo(dst []byte) (int, error) {
	if h.DataItemType > MaxDataItemType || h.LengthWords > MaxSegmentWords {
		return 0, fmt.Errorf("%w: dit=%#x length=%d", ErrMalformedSegment, h.DataItemType, h.LengthWords)
	}
	word := h.DataItemType<<10 | uint32(h.LengthWords)
	if h.Last {
		word |= 1 << 9
	}
	w := wire.NewWriter(dst)
	w.Uint32(word)
	w.Uint32(h.OffsetWords)
	if err := w.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}
	return w.Len(), nil
}

// ParseSegmentHeader decodes the header at the start of b.
func ParseSegmentHeader(b []byte) (SegmentHeader, error) {
	r := wire.NewReader(b)
	word := r.Uint32()
	offset := r.Uint32()
	if err := r.Err(); err != nil {
		return SegmentHeader{}, fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}
	return SegmentHeader{
		DataItemType: word >> 10,
		Last:         word&(1<<9) != 0,
		LengthWords:  uint16(word & MaxSegmentWords),
		OffsetWords:  offset,
	}, nil
}

// FormatDescriptor leads the first fragment of a metadata message. It tells
// a receiver how many data items follow and how long the whole message is.
type FormatDescriptor struct {
	ItemCount  uint16
	TotalWords uint16
}

// Marshal returns the 4-byte encoding of d.
func (d FormatDescriptor) Marshal() []byte {
	out := make([]byte, FormatDescriptorSize)
	w := wire.NewWriter(out)
	w.Uint16(d.ItemCount)
	w.Uint16(d.TotalWords)
	return out
}

// ParseFormatDescriptor decodes a descriptor from the start of b.
func ParseFormatDescriptor(b []byte) (FormatDescriptor, error) {
	r := wire.NewReader(b)
	d := FormatDescriptor{ItemCount: r.Uint16(), TotalWords: r.Uint16()}
	if err := r.Err(); err != nil {
		return FormatDescriptor{}, fmt.Errorf("%w: descriptor: %v", ErrMalformedSegment, err)
	}
	return d, nil
}
