// Package av runs the real-time transmit and receive engines.
//
// A Transmitter paces one stream onto the offload layer: every packet period
// it pulls samples (or a metadata message), converts them to the wire format,
// writes the RTP header and commits the chunk for transmission at its
// scheduled time. A Receiver waits for chunks of packets, validates and
// de-frames them and re-blocks the samples into fixed-size callback blocks.
//
// # Lifecycle
//
// Both engines move through the same states:
//
//	NewTransmitter/NewReceiver  -> Ready    (parameters valid, offload stream created)
//	Start                       -> Running  (goroutine locked to an OS thread)
//	Stop                        -> Stopped  (goroutine joined, offload stream destroyed)
//	Reconfigure                 -> Ready
//	Close                       -> Closed
//
// Configuration errors are returned by the constructors before any I/O.
// Scheduling anomalies (late wake-ups, partial chunks, ring overflow) are
// recovered in place and only show up in Stats and the log.
//
// # Pacing
//
// The transmit schedule advances by exactly one packet period per packet.
// When the goroutine falls behind, the schedule jumps to now plus one period
// and one resync is counted; the backlog is never burst out.
//
// # Sub-Packages
//
//   - av/audio: sample conversion (L16, L24, AM824), gain effects, WAV files
//   - av/rtp: RTP headers, ST2110-41 segment headers, sequence tracking
//   - av/fragment: metadata fragmentation
//
// # Metrics
//
// StatsAggregator samples engine counters on an interval and grades each
// stream as good, degraded, stalled or idle.
package av
