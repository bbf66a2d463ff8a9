package testing

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSource = netip.MustParseAddr("192.168.1.10")
	testGroup  = netip.MustParseAddr("239.69.1.1")
)

func newTestFabric() *Loopback {
	return NewLoopback(&interfaces.OffloadConfig{Driver: interfaces.DriverLoopback, QueueDepth: 2})
}

func testSDP(t *testing.T, source netip.Addr) string {
	t.Helper()
	info := stream.Info{
		Name:        "loop",
		Kind:        stream.KindAES67,
		PayloadType: 97,
		Source:      source,
		Destination: testGroup,
		Port:        5004,
		SessionID:   1,
		SampleRate:  48000,
		Audio:       &stream.AudioParams{Channels: 2, BytesPerSample: 3, SamplesPerPacket: 48},
	}
	text, err := sdp.Encode(info, stream.ClockDomain{}, sdp.VariantOffload)
	require.NoError(t, err)
	return text
}

var testLayout = interfaces.BufferLayout{HeaderSize: 12, PayloadSize: 288, Depth: 2}

func flowFrom(src netip.Addr) interfaces.Flow {
	return interfaces.Flow{Source: src, Destination: testGroup, Port: 5004}
}

func TestLoopbackDeliversToAttachedFlows(t *testing.T) {
	fabric := newTestFabric()
	tx, err := fabric.CreateSendStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	rx, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	other, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)

	assert.True(t, fabric.IsSimulation())
	assert.Equal(t, interfaces.DriverLoopback, fabric.Name())

	require.NoError(t, rx.AttachFlow(flowFrom(testSource)))
	// other attaches a different source and must see nothing.
	require.NoError(t, other.AttachFlow(flowFrom(netip.MustParseAddr("192.168.1.99"))))

	at := clock.Unix(1700000000, 500)
	chunk, err := tx.NextChunk()
	require.NoError(t, err)
	require.Len(t, chunk.Payload, 288)
	chunk.Header[0] = 0x80
	chunk.Payload[0] = 0xAB
	require.NoError(t, tx.Commit(chunk, at))

	pkts, err := rx.NextChunk(1, 4, time.Second)
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.Len(t, pkts[0].Data, 300)
	assert.Equal(t, byte(0xAB), pkts[0].Data[12])
	assert.Equal(t, at, pkts[0].Arrival)
	assert.Equal(t, netip.AddrPortFrom(testSource, 5004), pkts[0].Source)

	pkts, err = other.NextChunk(1, 4, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, pkts)

	log := fabric.GetSentLog()
	require.Len(t, log, 1)
	assert.Equal(t, 1, log[0].Receivers)
	fabric.ClearSentLog()
	assert.Empty(t, fabric.GetSentLog())
}

func TestLoopbackQueueBound(t *testing.T) {
	fabric := newTestFabric()
	tx, err := fabric.CreateSendStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	rx, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	require.NoError(t, rx.AttachFlow(flowFrom(testSource)))

	// Capacity is depth 2 times queue depth 2.
	for i := 0; i < 6; i++ {
		c, err := tx.NextChunk()
		require.NoError(t, err)
		c.Payload[0] = byte(i)
		require.NoError(t, tx.Commit(c, clock.Unix(int64(i), 0)))
	}
	stats := fabric.GetStats()
	assert.Equal(t, uint64(6), stats.Sent)
	assert.Equal(t, uint64(4), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Dropped)

	pkts, err := rx.NextChunk(2, 3, time.Second)
	require.NoError(t, err)
	require.Len(t, pkts, 3)
	for i, p := range pkts {
		assert.Equal(t, byte(i), p.Data[12])
	}
}

func TestLoopbackNextChunkWaitsForMinimum(t *testing.T) {
	fabric := newTestFabric()
	tx, err := fabric.CreateSendStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	rx, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	require.NoError(t, rx.AttachFlow(flowFrom(testSource)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			c, err := tx.NextChunk()
			if err != nil {
				return
			}
			_ = tx.Commit(c, clock.Unix(int64(i), 0))
			time.Sleep(time.Millisecond)
		}
	}()

	pkts, err := rx.NextChunk(3, 3, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, pkts, 3)
	wg.Wait()

	// Timeout with nothing queued returns an empty batch.
	start := time.Now()
	pkts, err = rx.NextChunk(1, 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, pkts)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLoopbackDynamicChunks(t *testing.T) {
	fabric := newTestFabric()
	layout := interfaces.BufferLayout{HeaderSize: 12, MaxPayloadSize: 1448, Depth: 2}
	tx, err := fabric.CreateSendStream(testSDP(t, testSource), layout)
	require.NoError(t, err)

	c, err := tx.NextDynamicChunk(1000)
	require.NoError(t, err)
	assert.Len(t, c.Packet(), 1012)
	require.NoError(t, tx.Commit(c, clock.Time{}))

	_, err = tx.NextDynamicChunk(1449)
	assert.ErrorIs(t, err, interfaces.ErrChunkSize)
}

func TestLoopbackBusyTeardown(t *testing.T) {
	fabric := newTestFabric()
	fabric.SetBusyOnClose(2)
	tx, err := fabric.CreateSendStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	rx, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)

	// An uncommitted chunk keeps the send stream busy until canceled.
	_, err = tx.NextChunk()
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Close(), interfaces.ErrBusy)
	assert.ErrorIs(t, tx.Close(), interfaces.ErrBusy)
	assert.ErrorIs(t, tx.Close(), interfaces.ErrBusy)
	require.NoError(t, tx.CancelUnsent())
	assert.Equal(t, uint64(1), fabric.GetStats().Canceled)
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())

	assert.ErrorIs(t, rx.Close(), interfaces.ErrBusy)
	assert.ErrorIs(t, rx.Close(), interfaces.ErrBusy)
	require.NoError(t, rx.Close())
	_, err = rx.NextChunk(1, 1, time.Millisecond)
	assert.ErrorIs(t, err, interfaces.ErrClosed)

	stats := fabric.GetStats()
	assert.Zero(t, stats.SendStreams)
	assert.Zero(t, stats.ReceiveStreams)
}

func TestLoopbackRejectsBadInput(t *testing.T) {
	fabric := newTestFabric()
	_, err := fabric.CreateSendStream("not sdp", testLayout)
	assert.Error(t, err)
	_, err = fabric.CreateReceiveStream(testSDP(t, testSource), interfaces.BufferLayout{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidLayout)

	rx, err := fabric.CreateReceiveStream(testSDP(t, testSource), testLayout)
	require.NoError(t, err)
	err = rx.AttachFlow(interfaces.Flow{Source: testSource, Destination: testGroup, Port: 6000})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)

	require.NoError(t, fabric.Close())
	_, err = fabric.CreateSendStream(testSDP(t, testSource), testLayout)
	assert.ErrorIs(t, err, interfaces.ErrClosed)
}
