// Package ring implements the multi-reader sample ring that decouples an
// audio producer with irregular timing (a capture callback or a network
// receive loop) from fixed-cadence consumers (transmit pacing loops).
//
// The ring holds Blocks input blocks of FramesPerBlock interleaved frames of
// native int32 samples. Each registered reader owns a channel window
// (StartChannel, Channels), a read cursor and a count of frames available to
// it. The producer never overwrites data a reader has not consumed: when the
// slowest reader still holds a full ring, Reserve reports full and Commit
// drops the block.
//
//	r, err := ring.New(ring.Config{
//	    Blocks:         8,
//	    FramesPerBlock: 48,
//	    Channels:       8,
//	    SampleWidth:    4,
//	    Readers:        []ring.ReaderSpec{{StartChannel: 0, Channels: 2}, {StartChannel: 2, Channels: 6}},
//	})
//
//	slot, ok := r.Reserve()
//	if ok {
//	    fill(slot)
//	    r.Commit(rtpTimestamp)
//	}
//
//	n, ts := r.Read(0, dst)
//
// # Thread Safety
//
// One producer goroutine and any number of reader goroutines (one per reader
// index) may use a Ring concurrently. A single mutex guards the cursors and
// counters; sample copies run outside the lock.
package ring
