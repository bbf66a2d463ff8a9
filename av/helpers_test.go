package av

import (
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	aoiptest "github.com/opd-ai/aoip/testing"
	"github.com/opd-ai/aoip/stream"
	"github.com/stretchr/testify/require"
)

var (
	testSource = netip.MustParseAddr("192.168.10.20")
	testGroup  = netip.MustParseAddr("239.69.10.1")
	testStart  = clock.Unix(1700000000, 0)
)

const testTAIOffset = 37

// surround51 is a 5.1 L24 stream with 1 ms packets.
func surround51() stream.Info {
	return stream.Info{
		Name:        "surround",
		Kind:        stream.KindAES67,
		PayloadType: 97,
		Source:      testSource,
		Destination: testGroup,
		Port:        5004,
		SessionID:   1,
		SampleRate:  48000,
		Latency:     4 * time.Millisecond,
		Audio: &stream.AudioParams{
			Channels:         6,
			BytesPerSample:   3,
			SamplesPerPacket: 48,
			ChannelLabels:    []string{"L", "R", "C", "LFE", "Ls", "Rs"},
		},
	}
}

func metadataInfo() stream.Info {
	return stream.Info{
		Name:        "captions",
		Kind:        stream.KindMetadata,
		PayloadType: 100,
		Source:      testSource,
		Destination: netip.MustParseAddr("239.69.10.9"),
		Port:        5010,
		SessionID:   2,
		SampleRate:  90000,
		Metadata: &stream.MetadataParams{
			PeriodMs:       20,
			MaxPayloadSize: 2000,
			DataItemTypes:  []uint32{0x1234},
		},
	}
}

func newTestBase(t *testing.T) (*clock.Base, *clock.Manual) {
	t.Helper()
	manual := clock.NewManual(testStart)
	base, err := clock.New(clock.WithTimeProvider(manual), clock.WithTAIOffset(testTAIOffset))
	require.NoError(t, err)
	return base, manual
}

func newFabric() *aoiptest.Loopback {
	return aoiptest.NewLoopback(&interfaces.OffloadConfig{
		Driver:     interfaces.DriverLoopback,
		QueueDepth: 64,
	})
}

// waitDone fails the test if the engine goroutine does not exit in time.
func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine goroutine did not exit")
	}
}

// countedPull returns a pull callback that fills every sample with its
// global frame and channel index and ends the stream after n packets.
func countedPull(channels, n int) AudioPull {
	calls, frame := 0, 0
	return func(dst []int32, ts uint32) bool {
		if calls == n {
			return false
		}
		calls++
		for i := range dst {
			f := frame + i/channels
			dst[i] = int32((f*8 + i%channels) << 8)
		}
		frame += len(dst) / channels
		return true
	}
}
