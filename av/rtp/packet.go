package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/aoip/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// HeaderSize is the size of the fixed RTP header without CSRC or extension.
const HeaderSize = limits.RTPHeaderSize

const rtpVersion = 2

var (
	// ErrMalformedHeader indicates a packet whose RTP header cannot be used.
	ErrMalformedHeader = errors.New("malformed RTP header")

	// ErrShortBuffer indicates a destination too small for the header.
	ErrShortBuffer = errors.New("buffer too small for RTP header")
)

// Header is the pion/rtp header type, re-exported so callers do not need a
// second import for field access.
type Header = rtp.Header

// Sequencer produces consecutive RTP headers for one stream.
// It is owned by a single pacing goroutine and is not safe for concurrent use.
type Sequencer struct {
	payloadType uint8
	ssrc        uint32
	sequence    uint16
}

// NewSequencer creates a Sequencer starting at a random sequence number.
func NewSequencer(payloadType uint8, ssrc uint32) *Sequencer {
	var seed [2]byte
	if _, err := rand.Read(seed[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewSequencer",
			"error":    err.Error(),
		}).Warn("Failed to randomize initial sequence number, starting at 0")
	}
	return NewSequencerAt(payloadType, ssrc, binary.BigEndian.Uint16(seed[:]))
}

// NewSequencerAt creates a Sequencer whose first header carries sequence.
func NewSequencerAt(payloadType uint8, ssrc uint32, sequence uint16) *Sequencer {
	return &Sequencer{
		payloadType: payloadType,
		ssrc:        ssrc,
		sequence:    sequence,
	}
}

// Next returns the next header and advances the sequence number, wrapping at 2^16.
func (s *Sequencer) Next(timestamp uint32, marker bool) Header {
	h := Header{
		Version:        rtpVersion,
		Marker:         marker,
		PayloadType:    s.payloadType,
		SequenceNumber: s.sequence,
		Timestamp:      timestamp,
		SSRC:           s.ssrc,
	}
	s.sequence++
	return h
}

// WriteHeader marshals the next header into dst.
//
// Parameters:
//   - dst: destination, at least HeaderSize bytes
//   - timestamp: RTP timestamp of the first sample in the packet
//   - marker: RTP marker bit
//
// Returns:
//   - int: bytes written (always HeaderSize on success)
//   - error: ErrShortBuffer if dst is too small
func (s *Sequencer) WriteHeader(dst []byte, timestamp uint32, marker bool) (int, error) {
	if len(dst) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(dst))
	}
	h := s.Next(timestamp, marker)
	n, err := h.MarshalTo(dst)
	if err != nil {
		return 0, fmt.Errorf("marshal RTP header: %w", err)
	}
	return n, nil
}

// Sequence returns the sequence number the next header will carry.
func (s *Sequencer) Sequence() uint16 {
	return s.sequence
}

// SSRC returns the synchronization source of the stream.
func (s *Sequencer) SSRC() uint32 {
	return s.ssrc
}

// ParseHeader validates the fixed RTP header of packet and returns it with
// the payload that follows. The payload aliases packet.
func ParseHeader(packet []byte) (Header, []byte, error) {
	var h Header
	if len(packet) < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(packet))
	}
	if v := packet[0] >> 6; v != rtpVersion {
		return h, nil, fmt.Errorf("%w: version %d", ErrMalformedHeader, v)
	}
	n, err := h.Unmarshal(packet)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if len(h.CSRC) != 0 || h.Extension || h.Padding {
		return Header{}, nil, fmt.Errorf("%w: csrc=%d extension=%t padding=%t",
			ErrMalformedHeader, len(h.CSRC), h.Extension, h.Padding)
	}
	return h, packet[n:], nil
}

// NewSSRC returns a random synchronization source identifier.
func NewSSRC() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
