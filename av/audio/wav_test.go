package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, channels int, rate uint32, depth int, frames int) []int32 {
	t.Helper()
	sink, err := CreateWAVSink(WAVSinkConfig{Path: path, Channels: channels, SampleRate: rate, BitDepth: depth})
	require.NoError(t, err)

	samples := make([]int32, frames*channels)
	for i := range samples {
		samples[i] = int32((i%200)-100) << 24
	}
	// Two pushes exercise appending to the data chunk.
	half := (frames / 2) * channels
	require.True(t, sink.Push(samples[:half], 0))
	require.True(t, sink.Push(samples[half:], 0))
	assert.Equal(t, uint64(frames), sink.Frames())
	require.NoError(t, sink.Close())
	assert.False(t, sink.Push(samples[:channels], 0))
	return samples
}

func TestWAVRoundTrip(t *testing.T) {
	for _, depth := range []int{16, 24, 32} {
		path := filepath.Join(t.TempDir(), "tone.wav")
		want := writeTestWAV(t, path, 2, 48000, depth, 300)

		src, err := OpenWAVSource(WAVSourceConfig{Path: path, Channels: 2, SampleRate: 48000})
		require.NoError(t, err, "depth %d", depth)

		var got []int32
		block := make([]int32, 2*48)
		for src.Pull(block, 0) {
			got = append(got, block...)
		}
		require.NoError(t, src.Close())

		// 300 frames in 48-frame blocks: the last block is padded.
		require.Len(t, got, 7*48*2, "depth %d", depth)
		assert.Equal(t, want, got[:len(want)], "depth %d", depth)
		for _, s := range got[len(want):] {
			assert.Zero(t, s)
		}
	}
}

func TestWAVSourceChannelMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	want := writeTestWAV(t, path, 2, 48000, 24, 96)

	src, err := OpenWAVSource(WAVSourceConfig{Path: path, Channels: 3, SampleRate: 48000})
	require.NoError(t, err)
	defer src.Close()

	block := make([]int32, 3*96)
	require.True(t, src.Pull(block, 0))
	for f := 0; f < 96; f++ {
		assert.Equal(t, want[2*f], block[3*f])
		assert.Equal(t, want[2*f+1], block[3*f+1])
		assert.Zero(t, block[3*f+2])
	}

	mono, err := OpenWAVSource(WAVSourceConfig{Path: path, Channels: 1, SampleRate: 48000})
	require.NoError(t, err)
	defer mono.Close()
	one := make([]int32, 96)
	require.True(t, mono.Pull(one, 0))
	for f := 0; f < 96; f++ {
		assert.Equal(t, want[2*f], one[f])
	}
}

func TestWAVSourceLoops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	want := writeTestWAV(t, path, 1, 48000, 24, 10)

	src, err := OpenWAVSource(WAVSourceConfig{Path: path, Channels: 1, SampleRate: 48000, Loop: true})
	require.NoError(t, err)
	defer src.Close()

	block := make([]int32, 25)
	require.True(t, src.Pull(block, 0))
	assert.Equal(t, want, block[:10])
	assert.Equal(t, want, block[10:20])
	assert.Equal(t, want[:5], block[20:])
}

func TestWAVSourceResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cd.wav")
	writeTestWAV(t, path, 2, 44100, 16, 4410)

	src, err := OpenWAVSource(WAVSourceConfig{Path: path, Channels: 2, SampleRate: 48000})
	require.NoError(t, err)
	defer src.Close()

	frames := 0
	block := make([]int32, 2*48)
	for src.Pull(block, 0) {
		frames += 48
	}
	// 0.1 s of audio at 48 kHz, rounded up to whole blocks.
	assert.InDelta(t, 4800, frames, 48)
}

func TestOpenWAVSourceErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenWAVSource(WAVSourceConfig{Path: filepath.Join(dir, "missing.wav"), Channels: 2, SampleRate: 48000})
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a riff file"), 0o644))
	_, err = OpenWAVSource(WAVSourceConfig{Path: junk, Channels: 2, SampleRate: 48000})
	assert.ErrorIs(t, err, ErrInvalidWAV)

	_, err = OpenWAVSource(WAVSourceConfig{Path: junk, Channels: 0, SampleRate: 48000})
	assert.ErrorIs(t, err, ErrInvalidChannels)

	_, err = CreateWAVSink(WAVSinkConfig{Path: filepath.Join(dir, "x.wav"), Channels: 2, SampleRate: 48000, BitDepth: 8})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
