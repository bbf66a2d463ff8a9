package stream

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/opd-ai/aoip/limits"
)

// Kind selects the RTP profile a stream uses.
type Kind uint8

const (
	// KindAES67 is linear PCM per AES67 / ST2110-30.
	KindAES67 Kind = iota
	// KindAM824 is AES3-transparent audio per ST2110-31.
	KindAM824
	// KindMetadata is ST2110-41 timed metadata.
	KindMetadata
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAES67:
		return "AES67"
	case KindAM824:
		return "AM824"
	case KindMetadata:
		return "ST2110-41"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsAudio reports whether the kind carries audio samples.
func (k Kind) IsAudio() bool {
	return k == KindAES67 || k == KindAM824
}

// Codec names as they appear in SDP rtpmap attributes.
const (
	CodecL16      = "L16"
	CodecL24      = "L24"
	CodecAM824    = "AM824"
	CodecMetadata = "ST2110-41"
)

// Stream limits.
const (
	MinPayloadType = 96
	MaxPayloadType = 127
	MaxChannels    = 64

	// MaxDataItemType is the largest value the 22-bit ST2110-41 data item type field holds.
	MaxDataItemType = 1<<22 - 1
)

// AudioParams are the audio-only stream parameters.
type AudioParams struct {
	Channels         int
	BytesPerSample   int
	SamplesPerPacket int

	// ChannelLabels optionally names each channel, e.g. "L", "R", "C".
	ChannelLabels []string
}

// MetadataParams are the metadata-only stream parameters.
type MetadataParams struct {
	// PeriodMs is the packet repetition period in milliseconds.
	PeriodMs       int
	MaxPayloadSize int
	DataItemTypes  []uint32
}

// Info describes one audio or metadata stream.
type Info struct {
	Name        string
	Kind        Kind
	PayloadType uint8
	Source      netip.Addr
	Destination netip.Addr
	Port        uint16
	SessionID   uint64
	SSRC        uint32
	SampleRate  uint32
	Latency     time.Duration

	Audio    *AudioParams
	Metadata *MetadataParams
}

// ClockDomain identifies the PTP clock a stream is referenced to.
type ClockDomain struct {
	GrandmasterID string
	Domain        uint8
}

// Service is a stream announced by a discovery collaborator, decoded from
// its SDP text.
type Service struct {
	Info  Info
	Clock ClockDomain
	SDP   string
}

// Validate checks every field the engines and the SDP encoder depend on.
func (i *Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStream)
	}
	if i.PayloadType < MinPayloadType || i.PayloadType > MaxPayloadType {
		return fmt.Errorf("%w: payload type %d outside [%d,%d]",
			ErrInvalidStream, i.PayloadType, MinPayloadType, MaxPayloadType)
	}
	if !i.Source.Is4() || !i.Destination.Is4() {
		return fmt.Errorf("%w: source and destination must be IPv4", ErrInvalidStream)
	}
	if i.Port == 0 {
		return fmt.Errorf("%w: port 0", ErrInvalidStream)
	}
	if i.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate 0", ErrInvalidStream)
	}
	if i.Latency < 0 {
		return fmt.Errorf("%w: negative latency %s", ErrInvalidStream, i.Latency)
	}

	switch {
	case i.Kind.IsAudio():
		if i.Audio == nil || i.Metadata != nil {
			return fmt.Errorf("%w: %s stream needs audio parameters only", ErrVariantMismatch, i.Kind)
		}
		return i.validateAudio()
	case i.Kind == KindMetadata:
		if i.Metadata == nil || i.Audio != nil {
			return fmt.Errorf("%w: %s stream needs metadata parameters only", ErrVariantMismatch, i.Kind)
		}
		return i.validateMetadata()
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidStream, i.Kind)
	}
}

func (i *Info) validateAudio() error {
	a := i.Audio
	if a.Channels < 1 || a.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels outside [1,%d]", ErrInvalidStream, a.Channels, MaxChannels)
	}
	if a.SamplesPerPacket < 1 {
		return fmt.Errorf("%w: %d samples per packet", ErrInvalidStream, a.SamplesPerPacket)
	}
	if len(a.ChannelLabels) != 0 && len(a.ChannelLabels) != a.Channels {
		return fmt.Errorf("%w: %d labels for %d channels", ErrInvalidStream, len(a.ChannelLabels), a.Channels)
	}
	if _, err := i.codec(); err != nil {
		return err
	}
	return nil
}

func (i *Info) validateMetadata() error {
	m := i.Metadata
	if m.PeriodMs < 1 {
		return fmt.Errorf("%w: period %d ms", ErrInvalidStream, m.PeriodMs)
	}
	if m.MaxPayloadSize < 1 || m.MaxPayloadSize > limits.MaxMetadataMessage {
		return fmt.Errorf("%w: max payload size %d outside [1,%d]", ErrInvalidStream, m.MaxPayloadSize, limits.MaxMetadataMessage)
	}
	if len(m.DataItemTypes) == 0 {
		return fmt.Errorf("%w: no data item types", ErrInvalidStream)
	}
	for _, dit := range m.DataItemTypes {
		if dit > MaxDataItemType {
			return fmt.Errorf("%w: data item type %#x exceeds 22 bits", ErrInvalidStream, dit)
		}
	}
	return nil
}

func (i *Info) codec() (string, error) {
	switch i.Kind {
	case KindAES67:
		switch i.Audio.BytesPerSample {
		case 2:
			return CodecL16, nil
		case 3:
			return CodecL24, nil
		}
	case KindAM824:
		if i.Audio.BytesPerSample == 4 {
			return CodecAM824, nil
		}
	case KindMetadata:
		return CodecMetadata, nil
	}
	bps := 0
	if i.Audio != nil {
		bps = i.Audio.BytesPerSample
	}
	return "", fmt.Errorf("%w: %s with %d bytes per sample", ErrUnsupportedFormat, i.Kind, bps)
}

// Codec returns the rtpmap encoding name of the stream.
func (i *Info) Codec() (string, error) {
	if i.Kind.IsAudio() && i.Audio == nil {
		return "", fmt.Errorf("%w: missing audio parameters", ErrVariantMismatch)
	}
	return i.codec()
}

// PacketTime returns the duration one RTP packet covers.
func (i *Info) PacketTime() time.Duration {
	switch {
	case i.Audio != nil && i.SampleRate > 0:
		return time.Duration(i.Audio.SamplesPerPacket) * time.Second / time.Duration(i.SampleRate)
	case i.Metadata != nil:
		return time.Duration(i.Metadata.PeriodMs) * time.Millisecond
	default:
		return 0
	}
}

// PayloadSize returns the RTP payload size of one audio packet in bytes.
func (i *Info) PayloadSize() int {
	if i.Audio == nil {
		return 0
	}
	return i.Audio.Channels * i.Audio.BytesPerSample * i.Audio.SamplesPerPacket
}

// Clone returns a deep copy so the caller may mutate the result freely.
func (i Info) Clone() Info {
	if i.Audio != nil {
		a := *i.Audio
		a.ChannelLabels = append([]string(nil), i.Audio.ChannelLabels...)
		if len(a.ChannelLabels) == 0 {
			a.ChannelLabels = nil
		}
		i.Audio = &a
	}
	if i.Metadata != nil {
		m := *i.Metadata
		m.DataItemTypes = append([]uint32(nil), i.Metadata.DataItemTypes...)
		i.Metadata = &m
	}
	return i
}
