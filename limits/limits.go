// Package limits provides centralized size limits for the AoIP transport engine.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultMTU is the Ethernet MTU assumed for professional AV networks.
	DefaultMTU = 1500

	// IPv4HeaderSize is the size of an IPv4 header without options.
	IPv4HeaderSize = 20

	// UDPHeaderSize is the size of a UDP header.
	UDPHeaderSize = 8

	// RTPHeaderSize is the size of the fixed RTP header (RFC 3550, no CSRC, no extension).
	RTPHeaderSize = 12

	// MaxDatagram is the UDP payload available within DefaultMTU.
	MaxDatagram = DefaultMTU - IPv4HeaderSize - UDPHeaderSize

	// MaxRTPPayload is the RTP payload budget within DefaultMTU.
	MaxRTPPayload = MaxDatagram - RTPHeaderSize

	// MaxSDPSize is the largest SDP document the codec will encode or decode.
	MaxSDPSize = 4096

	// MaxMetadataMessage is the largest metadata message accepted before fragmentation.
	MaxMetadataMessage = 64 * 1024
)

var (
	// ErrEmpty indicates an empty buffer or document was provided
	ErrEmpty = errors.New("empty input")

	// ErrTooLarge indicates the input exceeds the maximum size
	ErrTooLarge = errors.New("input too large")

	// ErrMTUTooSmall indicates an MTU that cannot carry a single RTP packet
	ErrMTUTooSmall = errors.New("mtu too small")
)

// ValidateSize validates a size against the specified maximum.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(size, maxSize int) error {
	if size == 0 {
		return ErrEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, size, maxSize)
	}
	return nil
}

// ValidateSDP validates an SDP document against MaxSDPSize.
func ValidateSDP(text string) error {
	if len(text) == 0 {
		return ErrEmpty
	}
	if len(text) > MaxSDPSize {
		return fmt.Errorf("%w: sdp size %d exceeds limit %d", ErrTooLarge, len(text), MaxSDPSize)
	}
	return nil
}

// ValidateMetadataMessage validates a metadata message against MaxMetadataMessage.
func ValidateMetadataMessage(message []byte) error {
	if len(message) == 0 {
		return ErrEmpty
	}
	if len(message) > MaxMetadataMessage {
		return fmt.Errorf("%w: metadata size %d exceeds limit %d", ErrTooLarge, len(message), MaxMetadataMessage)
	}
	return nil
}

// RTPPayloadBudget returns the RTP payload bytes available for the given MTU.
// Returns ErrMTUTooSmall when the MTU cannot hold the IPv4, UDP and RTP headers
// plus at least one 32-bit word.
func RTPPayloadBudget(mtu int) (int, error) {
	budget := mtu - IPv4HeaderSize - UDPHeaderSize - RTPHeaderSize
	if budget < 4 {
		return 0, fmt.Errorf("%w: %d", ErrMTUTooSmall, mtu)
	}
	return budget, nil
}
