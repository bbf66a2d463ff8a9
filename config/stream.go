package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/opd-ai/aoip/stream"
)

// Stream directions.
const (
	DirectionTransmit = "transmit"
	DirectionReceive  = "receive"
)

// StreamConfig describes one configured stream. Audio fields apply to aes67
// and am824 kinds; metadata fields apply to the metadata kind.
type StreamConfig struct {
	Name        string        `mapstructure:"name"`
	Direction   string        `mapstructure:"direction"` // transmit, receive
	Kind        string        `mapstructure:"kind"`      // aes67, am824, metadata
	PayloadType int           `mapstructure:"payload_type"`
	Source      string        `mapstructure:"source"`
	Destination string        `mapstructure:"destination"`
	Port        int           `mapstructure:"port"`
	SessionID   uint64        `mapstructure:"session_id"`
	SSRC        uint32        `mapstructure:"ssrc"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Latency     time.Duration `mapstructure:"latency"`

	Channels         int      `mapstructure:"channels"`
	BytesPerSample   int      `mapstructure:"bytes_per_sample"`
	SamplesPerPacket int      `mapstructure:"samples_per_packet"`
	ChannelLabels    []string `mapstructure:"channel_labels"`

	PeriodMs       int      `mapstructure:"period_ms"`
	MaxPayloadSize int      `mapstructure:"max_payload_size"`
	DataItemTypes  []uint32 `mapstructure:"data_item_types"`

	// File is a WAV file played by a transmitter or recorded by a receiver.
	File string `mapstructure:"file"`
	// Loop restarts a transmitted file at its end.
	Loop bool `mapstructure:"loop"`
}

// ParseKind maps a configuration kind name to a stream kind.
func ParseKind(name string) (stream.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aes67", "l16", "l24":
		return stream.KindAES67, nil
	case "am824", "st2110-31":
		return stream.KindAM824, nil
	case "metadata", "st2110-41":
		return stream.KindMetadata, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidStreamConfig, name)
	}
}

// IsTransmit reports whether the stream is sent by this node.
func (s *StreamConfig) IsTransmit() bool {
	return strings.EqualFold(s.Direction, DirectionTransmit)
}

// Info converts the entry to stream parameters. It checks field ranges and
// syntax only; Validate runs the full stream validation.
func (s *StreamConfig) Info() (stream.Info, error) {
	kind, err := ParseKind(s.Kind)
	if err != nil {
		return stream.Info{}, err
	}
	if s.PayloadType < 0 || s.PayloadType > 127 {
		return stream.Info{}, fmt.Errorf("%w: %s: payload type %d", ErrInvalidStreamConfig, s.Name, s.PayloadType)
	}
	if s.Port < 1 || s.Port > 65535 {
		return stream.Info{}, fmt.Errorf("%w: %s: port %d", ErrInvalidStreamConfig, s.Name, s.Port)
	}
	if s.SampleRate < 0 {
		return stream.Info{}, fmt.Errorf("%w: %s: sample rate %d", ErrInvalidStreamConfig, s.Name, s.SampleRate)
	}
	src, err := netip.ParseAddr(s.Source)
	if err != nil {
		return stream.Info{}, fmt.Errorf("%w: %s: source: %w", ErrInvalidStreamConfig, s.Name, err)
	}
	dst, err := netip.ParseAddr(s.Destination)
	if err != nil {
		return stream.Info{}, fmt.Errorf("%w: %s: destination: %w", ErrInvalidStreamConfig, s.Name, err)
	}

	info := stream.Info{
		Name:        s.Name,
		Kind:        kind,
		PayloadType: uint8(s.PayloadType),
		Source:      src,
		Destination: dst,
		Port:        uint16(s.Port),
		SessionID:   s.SessionID,
		SSRC:        s.SSRC,
		SampleRate:  uint32(s.SampleRate),
		Latency:     s.Latency,
	}
	if kind.IsAudio() {
		info.Audio = &stream.AudioParams{
			Channels:         s.Channels,
			BytesPerSample:   s.BytesPerSample,
			SamplesPerPacket: s.SamplesPerPacket,
			ChannelLabels:    append([]string(nil), s.ChannelLabels...),
		}
		if len(info.Audio.ChannelLabels) == 0 {
			info.Audio.ChannelLabels = nil
		}
	} else {
		info.Metadata = &stream.MetadataParams{
			PeriodMs:       s.PeriodMs,
			MaxPayloadSize: s.MaxPayloadSize,
			DataItemTypes:  append([]uint32(nil), s.DataItemTypes...),
		}
	}
	return info, nil
}

// Validate checks the direction and the stream parameters.
func (s *StreamConfig) Validate() error {
	switch strings.ToLower(s.Direction) {
	case DirectionTransmit, DirectionReceive:
	default:
		return fmt.Errorf("%w: %s: direction %q must be transmit or receive", ErrInvalidStreamConfig, s.Name, s.Direction)
	}
	info, err := s.Info()
	if err != nil {
		return err
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStreamConfig, err)
	}
	if info.Kind == stream.KindMetadata && !s.IsTransmit() {
		return fmt.Errorf("%w: %s: metadata streams are transmit only", ErrInvalidStreamConfig, s.Name)
	}
	return nil
}
