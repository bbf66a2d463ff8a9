package av

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opd-ai/aoip/ring"
)

// State is the lifecycle position of a transmit or receive engine.
type State uint32

const (
	// StateUninitialized is the zero state before construction completes.
	StateUninitialized State = iota
	// StateReady means the parameters are validated and the offload stream exists.
	StateReady
	// StateRunning means the pacing goroutine is active.
	StateRunning
	// StateStopped means the goroutine exited and the offload stream is destroyed.
	StateStopped
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Latency envelope accepted by the engines. A zero latency selects DefaultLatency.
const (
	MinLatency     = 125 * time.Microsecond
	MaxLatency     = 2 * time.Second
	DefaultLatency = 10 * time.Millisecond
)

// Engine defaults.
const (
	// DefaultTeardownRetries bounds Close attempts while the offload stream is busy.
	DefaultTeardownRetries = 10
	// DefaultBlockFrames is the receive callback block size in frames.
	DefaultBlockFrames = 64
	// DefaultMinPacketsPerWait and DefaultMaxPacketsPerWait clamp the receive chunk size.
	DefaultMinPacketsPerWait = 1
	DefaultMaxPacketsPerWait = 64
	// DefaultMaxPacketSize is the RTP packet budget (header included) for metadata fragments.
	DefaultMaxPacketSize = 1460
	// MinSendDepth and MaxSendDepth clamp the number of chunks queued in the offload layer.
	MinSendDepth = 4
	MaxSendDepth = 1024

	teardownRetryDelay = time.Millisecond
)

// AudioPull fills dst with one packet of interleaved samples for the packet
// stamped ts. Returning false stops the stream.
type AudioPull func(dst []int32, ts uint32) bool

// AudioPush receives one block of interleaved samples whose first frame
// carries ts. samples is only valid during the call. Returning false stops
// the stream.
type AudioPush func(samples []int32, ts uint32) bool

// MetadataPull returns the next metadata message. An empty message skips the
// period; more == false stops the stream.
type MetadataPull func() (message []byte, more bool)

// RingSource feeds a transmitter from one reader cursor of a SampleRing.
type RingSource struct {
	Ring   *ring.Ring
	Reader int
}

// Stats are the counters of one engine. Fields that do not apply to an
// engine's direction stay zero.
type Stats struct {
	Packets   uint64
	Bytes     uint64
	Resyncs   uint64
	Callbacks uint64
	Errors    uint64

	// Transmit side.
	Messages  uint64
	Underruns uint64
	Dropped   uint64

	// Receive side.
	SequenceGaps uint64
	Duplicates   uint64
	Reordered    uint64
	Rejected     uint64
	RingDropped  uint64
	// SourceRestarts counts re-locks to a restarted sender.
	SourceRestarts uint64
}

// counters is the lock-free backing store of Stats, written by the engine
// goroutine and read by Stats callers.
type counters struct {
	packets, bytes, resyncs, callbacks, errors atomic.Uint64
	messages, underruns, dropped               atomic.Uint64
	gaps, duplicates, reordered, rejected      atomic.Uint64
	ringDropped, restarts                      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Packets:      c.packets.Load(),
		Bytes:        c.bytes.Load(),
		Resyncs:      c.resyncs.Load(),
		Callbacks:    c.callbacks.Load(),
		Errors:       c.errors.Load(),
		Messages:     c.messages.Load(),
		Underruns:    c.underruns.Load(),
		Dropped:      c.dropped.Load(),
		SequenceGaps: c.gaps.Load(),
		Duplicates:   c.duplicates.Load(),
		Reordered:    c.reordered.Load(),
		Rejected:     c.rejected.Load(),
		RingDropped:  c.ringDropped.Load(),

		SourceRestarts: c.restarts.Load(),
	}
}

// Engine is the part of Transmitter and Receiver the stats aggregator and the
// node rely on.
type Engine interface {
	Name() string
	State() State
	Stats() Stats
}

// effectiveLatency applies the default and checks the envelope.
func effectiveLatency(l time.Duration) (time.Duration, error) {
	if l == 0 {
		return DefaultLatency, nil
	}
	if l < MinLatency || l > MaxLatency {
		return 0, fmt.Errorf("%w: %s outside [%s, %s]", ErrLatencyOutOfRange, l, MinLatency, MaxLatency)
	}
	return l, nil
}

// packetsPerWait rounds latency/period down to a power of two within [lo, hi].
func packetsPerWait(latency, period time.Duration, lo, hi int) int {
	n := 1
	if period > 0 {
		if q := int(latency / period); q > 1 {
			for n*2 <= q {
				n *= 2
			}
		}
	}
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return n
}
