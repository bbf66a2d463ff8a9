package stream

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/aoip/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioInfo() Info {
	return Info{
		Name:        "mix",
		Kind:        KindAES67,
		PayloadType: 98,
		Source:      netip.MustParseAddr("192.168.10.4"),
		Destination: netip.MustParseAddr("239.1.2.1"),
		Port:        5004,
		SessionID:   1234,
		SSRC:        0xCAFE,
		SampleRate:  48000,
		Latency:     500 * time.Millisecond,
		Audio:       &AudioParams{Channels: 6, BytesPerSample: 3, SamplesPerPacket: 48},
	}
}

func metadataInfo() Info {
	info := audioInfo()
	info.Kind = KindMetadata
	info.Audio = nil
	info.Metadata = &MetadataParams{PeriodMs: 20, MaxPayloadSize: 1600, DataItemTypes: []uint32{0x1F1, 0x2A}}
	return info
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Info)
		wantErr error
	}{
		{name: "valid audio", mutate: func(*Info) {}},
		{name: "empty name", mutate: func(i *Info) { i.Name = "" }, wantErr: ErrInvalidStream},
		{name: "static payload type", mutate: func(i *Info) { i.PayloadType = 10 }, wantErr: ErrInvalidStream},
		{name: "payload type 128", mutate: func(i *Info) { i.PayloadType = 128 }, wantErr: ErrInvalidStream},
		{name: "ipv6 destination", mutate: func(i *Info) { i.Destination = netip.MustParseAddr("ff02::1") }, wantErr: ErrInvalidStream},
		{name: "zero port", mutate: func(i *Info) { i.Port = 0 }, wantErr: ErrInvalidStream},
		{name: "zero channels", mutate: func(i *Info) { i.Audio.Channels = 0 }, wantErr: ErrInvalidStream},
		{name: "too many channels", mutate: func(i *Info) { i.Audio.Channels = MaxChannels + 1 }, wantErr: ErrInvalidStream},
		{name: "label count mismatch", mutate: func(i *Info) { i.Audio.ChannelLabels = []string{"L", "R"} }, wantErr: ErrInvalidStream},
		{name: "32-bit linear pcm", mutate: func(i *Info) { i.Audio.BytesPerSample = 4 }, wantErr: ErrUnsupportedFormat},
		{name: "am824 needs 4 bytes", mutate: func(i *Info) { i.Kind = KindAM824 }, wantErr: ErrUnsupportedFormat},
		{name: "both variants", mutate: func(i *Info) { i.Metadata = &MetadataParams{} }, wantErr: ErrVariantMismatch},
		{name: "metadata kind with audio", mutate: func(i *Info) { i.Kind = KindMetadata }, wantErr: ErrVariantMismatch},
		{name: "unknown kind", mutate: func(i *Info) { i.Kind = 9 }, wantErr: ErrInvalidStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := audioInfo()
			tt.mutate(&info)
			err := info.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	info := metadataInfo()
	require.NoError(t, info.Validate())

	info.Metadata.DataItemTypes = []uint32{MaxDataItemType + 1}
	assert.ErrorIs(t, info.Validate(), ErrInvalidStream)

	info = metadataInfo()
	info.Metadata.DataItemTypes = nil
	assert.ErrorIs(t, info.Validate(), ErrInvalidStream)

	info = metadataInfo()
	info.Metadata.PeriodMs = 0
	assert.ErrorIs(t, info.Validate(), ErrInvalidStream)

	// The format descriptor counts payload words in 16 bits.
	info = metadataInfo()
	info.Metadata.MaxPayloadSize = limits.MaxMetadataMessage
	require.NoError(t, info.Validate())
	info.Metadata.MaxPayloadSize = 300000
	assert.ErrorIs(t, info.Validate(), ErrInvalidStream)
}

func TestCodec(t *testing.T) {
	info := audioInfo()
	codec, err := info.Codec()
	require.NoError(t, err)
	assert.Equal(t, CodecL24, codec)

	info.Audio.BytesPerSample = 2
	codec, _ = info.Codec()
	assert.Equal(t, CodecL16, codec)

	info.Kind = KindAM824
	info.Audio.BytesPerSample = 4
	codec, _ = info.Codec()
	assert.Equal(t, CodecAM824, codec)

	meta := metadataInfo()
	codec, _ = meta.Codec()
	assert.Equal(t, CodecMetadata, codec)
}

func TestPacketTime(t *testing.T) {
	info := audioInfo()
	assert.Equal(t, time.Millisecond, info.PacketTime())
	assert.Equal(t, 6*3*48, info.PayloadSize())

	info.Audio.SamplesPerPacket = 6
	assert.Equal(t, 125*time.Microsecond, info.PacketTime())

	meta := metadataInfo()
	assert.Equal(t, 20*time.Millisecond, meta.PacketTime())
	assert.Zero(t, meta.PayloadSize())
}

func TestCloneIsDeep(t *testing.T) {
	info := audioInfo()
	info.Audio.ChannelLabels = []string{"L", "R", "C", "LFE", "Ls", "Rs"}
	c := info.Clone()
	c.Audio.Channels = 2
	c.Audio.ChannelLabels[0] = "X"
	assert.Equal(t, 6, info.Audio.Channels)
	assert.Equal(t, "L", info.Audio.ChannelLabels[0])

	meta := metadataInfo()
	mc := meta.Clone()
	mc.Metadata.DataItemTypes[0] = 7
	assert.Equal(t, uint32(0x1F1), meta.Metadata.DataItemTypes[0])
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "AES67", KindAES67.String())
	assert.Equal(t, "AM824", KindAM824.String())
	assert.Equal(t, "ST2110-41", KindMetadata.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
	assert.True(t, KindAM824.IsAudio())
	assert.False(t, KindMetadata.IsAudio())
}
