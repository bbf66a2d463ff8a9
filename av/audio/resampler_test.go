package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResampler(t *testing.T) {
	tests := []struct {
		name    string
		config  ResamplerConfig
		wantErr error
	}{
		{name: "44.1k to 48k stereo", config: ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 2}},
		{name: "96k to 48k 8ch", config: ResamplerConfig{InputRate: 96000, OutputRate: 48000, Channels: 8}},
		{name: "zero input rate", config: ResamplerConfig{OutputRate: 48000, Channels: 2}, wantErr: ErrInvalidRate},
		{name: "zero output rate", config: ResamplerConfig{InputRate: 48000, Channels: 2}, wantErr: ErrInvalidRate},
		{name: "no channels", config: ResamplerConfig{InputRate: 48000, OutputRate: 48000}, wantErr: ErrInvalidChannels},
		{name: "too many channels", config: ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 65}, wantErr: ErrInvalidChannels},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.InputRate, r.GetInputRate())
			assert.Equal(t, tt.config.OutputRate, r.GetOutputRate())
			assert.Equal(t, tt.config.Channels, r.GetChannels())
		})
	}
}

func TestResamplerSameRate(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)

	input := []int32{1, 2, 3, 4}
	out, err := r.Resample(input)
	require.NoError(t, err)
	assert.Equal(t, input, out)

	out[0] = 99
	assert.Equal(t, int32(1), input[0])
}

func TestResamplerUpsampleInterpolates(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 24000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	out, err := r.Resample([]int32{0, 1000, 2000, 3000})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 500, 1000, 1500, 2000, 2500}, out)

	// The next block starts by interpolating from the previous last frame.
	out, err = r.Resample([]int32{4000, 5000})
	require.NoError(t, err)
	assert.Equal(t, []int32{3000, 3500, 4000, 4500}, out)
}

func TestResamplerDownsample(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 96000, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)

	input := make([]int32, 0, 16)
	for i := int32(0); i < 8; i++ {
		input = append(input, i*10, -i*10)
	}
	out, err := r.Resample(input)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 20, -20, 40, -40, 60, -60}, out)
}

func TestResamplerLongRunRatio(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)

	block := make([]int32, 441*2)
	total := 0
	for i := 0; i < 100; i++ {
		out, err := r.Resample(block)
		require.NoError(t, err)
		assert.Zero(t, len(out)%2)
		total += len(out) / 2
	}
	assert.InDelta(t, 48000, total, 2)
}

func TestResamplerRejectsPartialFrame(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 44100, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)
	_, err = r.Resample([]int32{1, 2, 3})
	assert.ErrorIs(t, err, ErrPartialFrame)
}

func TestResamplerReset(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 24000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	first, err := r.Resample([]int32{100, 200, 300})
	require.NoError(t, err)
	r.Reset()
	again, err := r.Resample([]int32{100, 200, 300})
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
