package interfaces

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/opd-ai/aoip/clock"
)

// Offload errors
var (
	// ErrBusy is returned by Close while the stream still owns in-flight
	// chunks; the caller retries.
	ErrBusy = errors.New("offload stream busy")
	// ErrClosed is returned by any call on a closed stream or provider.
	ErrClosed = errors.New("offload stream closed")
	// ErrInvalidLayout indicates a buffer layout the provider cannot serve.
	ErrInvalidLayout = errors.New("invalid buffer layout")
	// ErrInvalidConfig indicates an offload configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid offload configuration")
	// ErrUnknownDriver indicates an offload driver name no provider implements.
	ErrUnknownDriver = errors.New("unknown offload driver")
	// ErrChunkSize indicates a dynamic chunk larger than the layout allows.
	ErrChunkSize = errors.New("chunk size exceeds layout")
)

// BufferLayout describes the packet buffers an engine asks the offload layer
// to allocate for one stream.
type BufferLayout struct {
	// HeaderSize is the number of bytes reserved in front of every payload.
	HeaderSize int
	// PayloadSize is the fixed payload size handed out by NextChunk.
	// Zero means the stream only uses NextDynamicChunk.
	PayloadSize int
	// MaxPayloadSize bounds NextDynamicChunk. Zero means PayloadSize.
	MaxPayloadSize int
	// Depth is the number of chunks that may be committed but not yet sent.
	Depth int
}

// Validate checks that the layout can be allocated.
func (l BufferLayout) Validate() error {
	if l.HeaderSize < 0 || l.PayloadSize < 0 || l.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidLayout)
	}
	if l.PayloadSize == 0 && l.MaxPayloadSize == 0 {
		return fmt.Errorf("%w: no payload size", ErrInvalidLayout)
	}
	if l.MaxPayloadSize != 0 && l.MaxPayloadSize < l.PayloadSize {
		return fmt.Errorf("%w: max payload %d below payload %d", ErrInvalidLayout, l.MaxPayloadSize, l.PayloadSize)
	}
	if l.Depth < 1 {
		return fmt.Errorf("%w: depth %d", ErrInvalidLayout, l.Depth)
	}
	return nil
}

// MaxPacketSize returns the largest packet a chunk of this layout holds.
func (l BufferLayout) MaxPacketSize() int {
	payload := l.MaxPayloadSize
	if payload == 0 {
		payload = l.PayloadSize
	}
	return l.HeaderSize + payload
}

// SendChunk is one packet buffer owned by a send stream. Header and Payload
// are adjacent views of the same buffer.
type SendChunk struct {
	Header  []byte
	Payload []byte
	buf     []byte
}

// NewSendChunk allocates a chunk able to hold headerSize+maxPayload bytes and
// sizes its payload view to payloadSize.
func NewSendChunk(headerSize, payloadSize, maxPayload int) *SendChunk {
	c := &SendChunk{buf: make([]byte, headerSize+maxPayload)}
	c.Header = c.buf[:headerSize:headerSize]
	c.Payload = c.buf[headerSize : headerSize+payloadSize]
	return c
}

// Resize changes the payload view length. It returns ErrChunkSize if the
// buffer is too small.
func (c *SendChunk) Resize(payloadSize int) error {
	h := len(c.Header)
	if payloadSize < 0 || h+payloadSize > len(c.buf) {
		return fmt.Errorf("%w: %d", ErrChunkSize, payloadSize)
	}
	c.Payload = c.buf[h : h+payloadSize]
	return nil
}

// Packet returns the header and payload as one contiguous packet.
func (c *SendChunk) Packet() []byte {
	return c.buf[:len(c.Header)+len(c.Payload)]
}

// Packet is one datagram handed up by a receive stream.
type Packet struct {
	Data    []byte
	Source  netip.AddrPort
	Arrival clock.Time
}

// Flow selects packets from one source to one destination group and port.
type Flow struct {
	Source      netip.Addr
	Destination netip.Addr
	Port        uint16
}

// String formats the flow as source->destination:port.
func (f Flow) String() string {
	return fmt.Sprintf("%s->%s:%d", f.Source, f.Destination, f.Port)
}

// ISendStream is the transmit half of the offload layer.
type ISendStream interface {
	// NextChunk returns a chunk with a PayloadSize payload. It blocks while
	// Depth chunks are committed and unsent.
	NextChunk() (*SendChunk, error)
	// NextDynamicChunk returns a chunk with the requested payload size.
	NextDynamicChunk(payloadSize int) (*SendChunk, error)
	// Commit queues the chunk for transmission at the absolute time at.
	Commit(c *SendChunk, at clock.Time) error
	// CancelUnsent discards every committed chunk not yet on the wire.
	CancelUnsent() error
	// Close destroys the stream. It returns ErrBusy while chunks are in flight.
	Close() error
}

// IReceiveStream is the receive half of the offload layer.
type IReceiveStream interface {
	// NextChunk waits up to timeout for at least minPackets packets and
	// returns at most maxPackets. Fewer are returned when the timeout expires.
	NextChunk(minPackets, maxPackets int, timeout time.Duration) ([]Packet, error)
	// AttachFlow starts delivering packets matching f.
	AttachFlow(f Flow) error
	// DetachFlow stops delivering packets matching f.
	DetachFlow(f Flow) error
	// Close destroys the stream. It returns ErrBusy while a NextChunk call is
	// in progress.
	Close() error
}

// IStreamProvider creates offload streams from SDP text.
type IStreamProvider interface {
	// CreateSendStream allocates a send stream for the stream described by sdp.
	CreateSendStream(sdp string, layout BufferLayout) (ISendStream, error)
	// CreateReceiveStream allocates a receive stream for the stream described by sdp.
	CreateReceiveStream(sdp string, layout BufferLayout) (IReceiveStream, error)
	// Name returns the driver name.
	Name() string
	// IsSimulation returns true if packets never leave the process.
	IsSimulation() bool
	// Close releases provider resources.
	Close() error
}

// Offload driver names.
const (
	DriverLoopback = "loopback"
	DriverUDP      = "udp"
)

// Default offload settings.
const (
	DefaultQueueDepth = 8
	DefaultTTL        = 32
	// DefaultDSCP is Expedited Forwarding, the AES67 class for media.
	DefaultDSCP = 46
)

// OffloadConfig holds configuration for offload providers.
type OffloadConfig struct {
	// Driver selects the provider: DriverLoopback or DriverUDP.
	Driver string
	// Interface names the network interface for multicast (udp only).
	Interface string
	// TTL is the multicast time-to-live (udp only).
	TTL int
	// DSCP is the differentiated services code point set on sent packets.
	DSCP int
	// MulticastLoopback delivers sent multicast back to local receivers.
	MulticastLoopback bool
	// QueueDepth bounds per-stream receive queues, in packets per layout depth.
	QueueDepth int
}

// Validate checks the configuration bounds.
func (c *OffloadConfig) Validate() error {
	switch c.Driver {
	case DriverLoopback, DriverUDP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.TTL < 0 || c.TTL > 255 {
		return fmt.Errorf("%w: ttl %d", ErrInvalidConfig, c.TTL)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("%w: dscp %d", ErrInvalidConfig, c.DSCP)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("%w: queue depth %d", ErrInvalidConfig, c.QueueDepth)
	}
	return nil
}
