// Package interfaces defines the NIC packet-offload contract the transmit and
// receive engines are written against.
//
// The engines never touch sockets. A send stream hands out packet buffers
// (chunks), the engine writes an RTP header and payload into them, and
// commits each chunk for transmission at an absolute time:
//
//	tx, err := provider.CreateSendStream(sdpText, interfaces.BufferLayout{
//	    HeaderSize:  12,
//	    PayloadSize: 288,
//	    Depth:       4,
//	})
//	chunk, err := tx.NextChunk()
//	// fill chunk.Header and chunk.Payload
//	err = tx.Commit(chunk, sendTime)
//
// A receive stream returns batches of packets, waiting up to a timeout for a
// minimum count:
//
//	rx, err := provider.CreateReceiveStream(sdpText, layout)
//	packets, err := rx.NextChunk(4, 4, 8*time.Millisecond)
//
// Teardown of either stream may report [ErrBusy] while chunks are still in
// flight; callers cancel unsent chunks and retry Close a bounded number of
// times.
//
// Implementations live in the testing package (an in-process loopback fabric)
// and the real package (kernel UDP sockets). The factory package selects one
// from an [OffloadConfig].
package interfaces
