// Package real provides the production offload provider on kernel UDP
// sockets.
//
// UDPProvider implements interfaces.IStreamProvider with
// golang.org/x/net/ipv4 packet connections:
//
//	┌─────────────────────────────────────────┐
//	│            udpSendStream                │
//	│  ┌─────────────┐  ┌─────────────────┐   │
//	│  │ chunk pool  │  │ commit queue    │   │
//	│  │ (Depth)     │→ │ paced sender    │   │
//	│  └─────────────┘  └────────┬────────┘   │
//	└────────────────────────────┼────────────┘
//	                             ▼
//	              ipv4.PacketConn.WriteBatch
//
// Send streams set the DSCP code point on every packet (Expedited Forwarding
// by default), and for multicast destinations the TTL, loopback and outgoing
// interface. A sender goroutine sleeps until each chunk's commit time and
// writes all chunks already due in one batch.
//
// Receive streams bind the SDP port with SO_REUSEADDR so several streams can
// share a multicast port. AttachFlow joins the source-specific group (IGMPv3)
// for multicast destinations; packets from sources without an attached flow
// are discarded. NextChunk reads with ReadBatch under a deadline.
//
// # Usage
//
//	provider, err := real.NewUDPProvider(&interfaces.OffloadConfig{
//	    Driver:    interfaces.DriverUDP,
//	    Interface: "eth1",
//	    TTL:       32,
//	    DSCP:      46,
//	})
//	tx, err := provider.CreateSendStream(sdpText, layout)
//
// # Teardown
//
// Close reports interfaces.ErrBusy while the sender still holds queued or
// in-flight chunks; callers cancel unsent chunks and retry.
package real
