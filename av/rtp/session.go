package rtp

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrUnexpectedSource indicates a packet with the wrong payload type, or from
// an SSRC other than the locked one that has not yet passed probation.
var ErrUnexpectedSource = errors.New("unexpected RTP source")

// Sequence windows of RFC 3550 appendix A.1.
const (
	// MaxDropout is the largest forward jump still treated as packet loss.
	MaxDropout = 3000
	// MaxMisorder is the largest backward step still treated as a late packet.
	MaxMisorder = 100
	// MinSequential is the number of in-order packets a new SSRC must send
	// before the tracker re-locks to it.
	MinSequential = 2
)

// Statistics are the receive-side sequence counters.
type Statistics struct {
	PacketsReceived uint64
	PacketsLost     uint64
	Duplicates      uint64
	Reordered       uint64
	Rejected        uint64
	// Restarts counts re-locks to a new SSRC or a new sequence origin.
	Restarts uint64
}

// SequenceTracker locks onto the first SSRC it sees for a payload type and
// accounts for gaps, duplicates and late packets in the sequence space.
// A sender that restarts is followed: a new SSRC is accepted after
// MinSequential in-order packets, and a sequence jump outside the
// MaxDropout/MaxMisorder window is accepted when the next packet continues it.
// It is owned by one receive goroutine and is not safe for concurrent use.
type SequenceTracker struct {
	payloadType uint8
	ssrc        uint32
	hasSSRC     bool
	lastSeq     uint16

	// probation state for a competing SSRC
	candSSRC  uint32
	candSeq   uint16
	candCount int

	// expected next sequence after an out-of-window jump
	badSeq    uint16
	hasBadSeq bool

	stats Statistics
}

// NewSequenceTracker creates a tracker for packets of the given payload type.
func NewSequenceTracker(payloadType uint8) *SequenceTracker {
	return &SequenceTracker{payloadType: payloadType}
}

// Observe records h and reports whether its payload should be delivered.
// Duplicates and packets older than the last delivered one are not delivered.
func (t *SequenceTracker) Observe(h Header) (bool, error) {
	if h.PayloadType != t.payloadType {
		t.stats.Rejected++
		return false, fmt.Errorf("%w: payload type %d, want %d", ErrUnexpectedSource, h.PayloadType, t.payloadType)
	}

	if !t.hasSSRC {
		t.lock(h)
		logrus.WithFields(logrus.Fields{
			"function": "SequenceTracker.Observe",
			"ssrc":     h.SSRC,
		}).Info("Accepted new SSRC for stream")
		return true, nil
	}
	if h.SSRC != t.ssrc {
		return t.probation(h)
	}
	t.candCount = 0

	delta := int16(h.SequenceNumber - t.lastSeq)
	if delta < -MaxMisorder || delta > MaxDropout {
		return t.jump(h), nil
	}
	t.hasBadSeq = false
	t.stats.PacketsReceived++

	switch {
	case delta == 0:
		t.stats.Duplicates++
		return false, nil
	case delta < 0:
		t.stats.Reordered++
		return false, nil
	case delta > 1:
		t.stats.PacketsLost += uint64(delta - 1)
		logrus.WithFields(logrus.Fields{
			"function":          "SequenceTracker.Observe",
			"expected_sequence": t.lastSeq + 1,
			"received_sequence": h.SequenceNumber,
		}).Debug("Sequence gap detected in RTP stream")
	}
	t.lastSeq = h.SequenceNumber
	return true, nil
}

func (t *SequenceTracker) lock(h Header) {
	t.ssrc = h.SSRC
	t.hasSSRC = true
	t.lastSeq = h.SequenceNumber
	t.candCount = 0
	t.hasBadSeq = false
	t.stats.PacketsReceived++
}

// probation counts in-order packets of a foreign SSRC and re-locks to it
// once it has sent MinSequential of them.
func (t *SequenceTracker) probation(h Header) (bool, error) {
	if t.candCount > 0 && h.SSRC == t.candSSRC && h.SequenceNumber == t.candSeq+1 {
		t.candCount++
	} else {
		t.candSSRC = h.SSRC
		t.candCount = 1
	}
	t.candSeq = h.SequenceNumber

	if t.candCount < MinSequential {
		t.stats.Rejected++
		return false, fmt.Errorf("%w: ssrc %#x, want %#x", ErrUnexpectedSource, h.SSRC, t.ssrc)
	}

	old := t.ssrc
	t.lock(h)
	t.stats.Restarts++
	logrus.WithFields(logrus.Fields{
		"function": "SequenceTracker.probation",
		"old_ssrc": old,
		"ssrc":     h.SSRC,
	}).Info("Sender restarted with new SSRC")
	return true, nil
}

// jump handles a sequence number outside the loss and reorder windows. The
// packet is dropped unless it is the successor of the previous jump, in which
// case the sender restarted its sequence and the tracker follows it.
func (t *SequenceTracker) jump(h Header) bool {
	if t.hasBadSeq && h.SequenceNumber == t.badSeq {
		t.hasBadSeq = false
		t.lastSeq = h.SequenceNumber
		t.stats.PacketsReceived++
		t.stats.Restarts++
		logrus.WithFields(logrus.Fields{
			"function": "SequenceTracker.jump",
			"sequence": h.SequenceNumber,
		}).Info("Sender restarted its sequence")
		return true
	}
	t.badSeq = h.SequenceNumber + 1
	t.hasBadSeq = true
	t.stats.Rejected++
	return false
}

// SSRC returns the locked synchronization source and whether one is locked.
func (t *SequenceTracker) SSRC() (uint32, bool) {
	return t.ssrc, t.hasSSRC
}

// Statistics returns a copy of the counters.
func (t *SequenceTracker) Statistics() Statistics {
	return t.stats
}

// Reset forgets the locked SSRC and sequence position but keeps the counters.
func (t *SequenceTracker) Reset() {
	t.hasSSRC = false
	t.candCount = 0
	t.hasBadSeq = false
}
