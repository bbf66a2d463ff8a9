package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hdr(seq uint16, ssrc uint32) Header {
	return Header{Version: 2, PayloadType: 98, SequenceNumber: seq, SSRC: ssrc}
}

func TestSequenceTracker(t *testing.T) {
	tr := NewSequenceTracker(98)

	steps := []struct {
		seq     uint16
		ssrc    uint32
		deliver bool
		err     error
	}{
		{seq: 65534, ssrc: 5, deliver: true},
		{seq: 65535, ssrc: 5, deliver: true},
		{seq: 0, ssrc: 5, deliver: true}, // wrap
		{seq: 0, ssrc: 5, deliver: false}, // duplicate
		{seq: 3, ssrc: 5, deliver: true},  // two lost
		{seq: 2, ssrc: 5, deliver: false}, // late
		{seq: 4, ssrc: 6, err: ErrUnexpectedSource},
		{seq: 4, ssrc: 5, deliver: true},
	}

	for i, s := range steps {
		ok, err := tr.Observe(hdr(s.seq, s.ssrc))
		if s.err != nil {
			assert.ErrorIs(t, err, s.err, "step %d", i)
			continue
		}
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.deliver, ok, "step %d", i)
	}

	assert.Equal(t, Statistics{
		PacketsReceived: 7,
		PacketsLost:     2,
		Duplicates:      1,
		Reordered:       1,
		Rejected:        1,
	}, tr.Statistics())

	ssrc, locked := tr.SSRC()
	assert.True(t, locked)
	assert.Equal(t, uint32(5), ssrc)
}

func TestSequenceTrackerPayloadType(t *testing.T) {
	tr := NewSequenceTracker(98)
	h := hdr(1, 1)
	h.PayloadType = 97
	ok, err := tr.Observe(h)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnexpectedSource)
	_, locked := tr.SSRC()
	assert.False(t, locked)
}

func TestSequenceTrackerReset(t *testing.T) {
	tr := NewSequenceTracker(98)
	_, err := tr.Observe(hdr(10, 1))
	require.NoError(t, err)
	tr.Reset()
	ok, err := tr.Observe(hdr(500, 2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), tr.Statistics().PacketsLost)
}

func TestSequenceTrackerRelocksToNewSSRC(t *testing.T) {
	tr := NewSequenceTracker(98)
	for seq := uint16(40000); seq < 40100; seq++ {
		ok, err := tr.Observe(hdr(seq, 1))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// The restarted sender's first packet is held on probation.
	ok, err := tr.Observe(hdr(7, 2))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnexpectedSource)

	delivered := 0
	for seq := uint16(8); seq < 1007; seq++ {
		ok, err := tr.Observe(hdr(seq, 2))
		require.NoError(t, err)
		if ok {
			delivered++
		}
	}
	assert.Equal(t, 999, delivered)

	ssrc, locked := tr.SSRC()
	assert.True(t, locked)
	assert.Equal(t, uint32(2), ssrc)
	stats := tr.Statistics()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Restarts)
	assert.Zero(t, stats.PacketsLost)
}

func TestSequenceTrackerForeignPacketsDoNotRelock(t *testing.T) {
	tr := NewSequenceTracker(98)
	_, err := tr.Observe(hdr(10, 1))
	require.NoError(t, err)

	// Interleaved stray packets never build a run of MinSequential.
	for i := uint16(0); i < 5; i++ {
		_, err = tr.Observe(hdr(500+2*i, 2))
		assert.ErrorIs(t, err, ErrUnexpectedSource)
		ok, err := tr.Observe(hdr(11+i, 1))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ssrc, _ := tr.SSRC()
	assert.Equal(t, uint32(1), ssrc)
	assert.Equal(t, uint64(5), tr.Statistics().Rejected)
}

func TestSequenceTrackerFollowsSequenceRestart(t *testing.T) {
	tests := []struct {
		name  string
		start uint16
	}{
		{"backward", 39000},
		{"forward", 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewSequenceTracker(98)
			for seq := uint16(40000); seq < 40100; seq++ {
				_, err := tr.Observe(hdr(seq, 1))
				require.NoError(t, err)
			}

			delivered := 0
			for i := uint16(0); i < 1000; i++ {
				ok, err := tr.Observe(hdr(tt.start+i, 1))
				require.NoError(t, err)
				if ok {
					delivered++
				}
			}
			assert.Equal(t, 999, delivered)
			stats := tr.Statistics()
			assert.Equal(t, uint64(1), stats.Restarts)
			assert.Equal(t, uint64(1), stats.Rejected)
			assert.Zero(t, stats.Reordered)
			assert.Zero(t, stats.PacketsLost)
		})
	}
}

func TestSequenceTrackerWindows(t *testing.T) {
	tr := NewSequenceTracker(98)
	_, err := tr.Observe(hdr(1000, 1))
	require.NoError(t, err)

	ok, _ := tr.Observe(hdr(1000+MaxDropout, 1))
	assert.True(t, ok, "largest gap is loss")
	assert.Equal(t, uint64(MaxDropout-1), tr.Statistics().PacketsLost)

	ok, _ = tr.Observe(hdr(1000+MaxDropout-MaxMisorder, 1))
	assert.False(t, ok, "late within the reorder window")
	assert.Equal(t, uint64(1), tr.Statistics().Reordered)

	ok, _ = tr.Observe(hdr(1000+MaxDropout-MaxMisorder-1, 1))
	assert.False(t, ok, "outside the window waits for a successor")
	assert.Equal(t, uint64(1), tr.Statistics().Rejected)
}
