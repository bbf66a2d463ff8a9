// Package limits provides centralized size constants and validation functions
// for the AoIP transport engine. This package ensures consistent size enforcement
// across the SDP codec, the metadata fragmenter and the offload implementations.
//
// # Size Hierarchy
//
// The package defines the limits that bound each stage of packet processing:
//
//   - MaxSDPSize (4096 bytes): The largest session description accepted by the
//     decoder. SDP is decoded continuously from untrusted network input, so the
//     document is rejected before tokenization when it exceeds this size.
//
//   - DefaultMTU (1500 bytes): The Ethernet MTU assumed by the engines when no
//     other value is configured. MaxDatagram is the UDP payload available within it.
//
//   - MaxRTPPayload: The RTP payload budget left after the IPv4, UDP and RTP
//     headers have been subtracted from the MTU.
//
//   - MaxMetadataMessage (64KiB): The largest metadata message a transmitter
//     accepts from its pull callback before fragmentation.
//
// # Validation Functions
//
// Each validation function checks for empty input and size limit violations:
//
//	if err := limits.ValidateSDP(text); err != nil {
//	    // ErrEmpty or ErrTooLarge
//	}
//
// For custom size limits, use the generic ValidateSize function:
//
//	err := limits.ValidateSize(len(data), 1400)
package limits
