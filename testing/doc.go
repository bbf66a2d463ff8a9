// Package testing provides an in-process offload fabric for deterministic
// testing of the transmit and receive engines and for relaying streams
// inside one process.
//
// # Overview
//
// Loopback implements interfaces.IStreamProvider without sockets. Send
// streams publish each committed packet to every receive stream bound to the
// same destination group and port, provided the receive stream has attached
// a flow for the sender's source address:
//
//	fabric := testing.NewLoopback(&interfaces.OffloadConfig{
//	    Driver:     interfaces.DriverLoopback,
//	    QueueDepth: 8,
//	})
//	tx, _ := fabric.CreateSendStream(txSDP, layout)
//	rx, _ := fabric.CreateReceiveStream(rxSDP, layout)
//	rx.AttachFlow(interfaces.Flow{Source: src, Destination: group, Port: 5004})
//
// The commit time passed to Commit is reported as the packet's arrival time,
// so tests driven by a manual clock see exact timing.
//
// # Sent Log
//
// Every published packet is recorded in a bounded log for verification:
//
//	for _, rec := range fabric.GetSentLog() {
//	    // rec.Data is the RTP packet, rec.At the commit time
//	}
//
// Use ClearSentLog to reset between test cases.
//
// # Teardown
//
// SetBusyOnClose makes new streams report interfaces.ErrBusy from their first
// Close calls, which exercises the engines' bounded teardown retries.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Receive queues are bounded by the
// layout depth times OffloadConfig.QueueDepth; packets beyond that are
// dropped and counted.
package testing
