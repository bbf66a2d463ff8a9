// Package rtp frames and de-frames the RTP packets of AES67, ST2110-30/31
// and ST2110-41 streams.
//
// It uses the pion/rtp library for the 12-byte RFC 3550 fixed header and
// adds the pieces specific to professional media profiles:
//
//   - Sequencer: per-stream payload type, SSRC and wrapping sequence number
//   - ParseHeader: strict header validation for received packets
//   - SegmentHeader: the 8-byte ST2110-41 data item segment header
//   - FormatDescriptor: the small header carried by the first fragment of a
//     metadata message
//   - SequenceTracker: receive-side SSRC lock and gap/duplicate accounting
//
// # Header Building
//
//	seq := rtp.NewSequencer(98, ssrc)
//	n, err := seq.WriteHeader(buf, timestamp, false)
//	copy(buf[n:], payload)
//
// # Header Parsing
//
//	hdr, payload, err := rtp.ParseHeader(packet)
//	if errors.Is(err, rtp.ErrMalformedHeader) {
//	    // drop
//	}
//
// Headers with CSRC entries, extensions, padding or a version other than 2
// are rejected; the profiles carried here never use them.
package rtp
