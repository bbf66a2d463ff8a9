package real

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localhost = netip.MustParseAddr("127.0.0.1")

func freePort(t *testing.T) uint16 {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer c.Close()
	return uint16(c.LocalAddr().(*net.UDPAddr).Port)
}

func unicastSDP(t *testing.T, port uint16) string {
	t.Helper()
	info := stream.Info{
		Name:        "udp-test",
		Kind:        stream.KindAES67,
		PayloadType: 98,
		Source:      localhost,
		Destination: localhost,
		Port:        port,
		SessionID:   7,
		SampleRate:  48000,
		Audio:       &stream.AudioParams{Channels: 1, BytesPerSample: 3, SamplesPerPacket: 48},
	}
	text, err := sdp.Encode(info, stream.ClockDomain{}, sdp.VariantOffload)
	require.NoError(t, err)
	return text
}

func testConfig() *interfaces.OffloadConfig {
	return &interfaces.OffloadConfig{
		Driver:     interfaces.DriverUDP,
		TTL:        interfaces.DefaultTTL,
		DSCP:       interfaces.DefaultDSCP,
		QueueDepth: interfaces.DefaultQueueDepth,
	}
}

var layout = interfaces.BufferLayout{HeaderSize: 12, PayloadSize: 144, Depth: 4}

func TestUDPProviderIdentity(t *testing.T) {
	p, err := NewUDPProvider(testConfig())
	require.NoError(t, err)
	assert.Equal(t, interfaces.DriverUDP, p.Name())
	assert.False(t, p.IsSimulation())

	require.NoError(t, p.Close())
	_, err = p.CreateSendStream(unicastSDP(t, 5004), layout)
	assert.ErrorIs(t, err, interfaces.ErrClosed)
}

func TestUDPProviderUnknownInterface(t *testing.T) {
	cfg := testConfig()
	cfg.Interface = "does-not-exist0"
	_, err := NewUDPProvider(cfg)
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestUDPUnicastRoundTrip(t *testing.T) {
	port := freePort(t)
	text := unicastSDP(t, port)

	p, err := NewUDPProvider(testConfig())
	require.NoError(t, err)

	rx, err := p.CreateReceiveStream(text, layout)
	require.NoError(t, err)
	defer rx.Close()
	require.NoError(t, rx.AttachFlow(interfaces.Flow{Source: localhost, Destination: localhost, Port: port}))

	tx, err := p.CreateSendStream(text, layout)
	require.NoError(t, err)

	now := clock.SystemProvider{}.Now()
	for i := 0; i < 3; i++ {
		c, err := tx.NextChunk()
		require.NoError(t, err)
		c.Header[0] = 0x80
		c.Payload[0] = byte(i)
		require.NoError(t, tx.Commit(c, now))
	}

	var got []interfaces.Packet
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		pkts, err := rx.NextChunk(1, 3, 200*time.Millisecond)
		require.NoError(t, err)
		got = append(got, pkts...)
	}
	require.Len(t, got, 3)
	for i, pkt := range got {
		assert.Len(t, pkt.Data, 156)
		assert.Equal(t, byte(i), pkt.Data[12])
		assert.Equal(t, localhost, pkt.Source.Addr())
	}

	require.NoError(t, tx.CancelUnsent())
	require.Eventually(t, func() bool { return tx.Close() == nil }, time.Second, time.Millisecond)
}

func TestUDPReceiveTimeout(t *testing.T) {
	port := freePort(t)
	p, err := NewUDPProvider(testConfig())
	require.NoError(t, err)
	rx, err := p.CreateReceiveStream(unicastSDP(t, port), layout)
	require.NoError(t, err)

	start := time.Now()
	pkts, err := rx.NextChunk(1, 4, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, pkts)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	require.NoError(t, rx.Close())
	_, err = rx.NextChunk(1, 1, time.Millisecond)
	assert.ErrorIs(t, err, interfaces.ErrClosed)
}

func TestUDPAttachFlowRejectsOtherDestination(t *testing.T) {
	port := freePort(t)
	p, err := NewUDPProvider(testConfig())
	require.NoError(t, err)
	rx, err := p.CreateReceiveStream(unicastSDP(t, port), layout)
	require.NoError(t, err)
	defer rx.Close()

	err = rx.AttachFlow(interfaces.Flow{Source: localhost, Destination: netip.MustParseAddr("239.1.1.1"), Port: port})
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
	assert.NoError(t, rx.DetachFlow(interfaces.Flow{Source: localhost, Destination: localhost, Port: port}))
}

func TestUDPCancelUnsentDropsFutureChunks(t *testing.T) {
	port := freePort(t)
	text := unicastSDP(t, port)
	p, err := NewUDPProvider(testConfig())
	require.NoError(t, err)

	rx, err := p.CreateReceiveStream(text, layout)
	require.NoError(t, err)
	defer rx.Close()
	require.NoError(t, rx.AttachFlow(interfaces.Flow{Source: localhost, Destination: localhost, Port: port}))

	tx, err := p.CreateSendStream(text, layout)
	require.NoError(t, err)

	// Chunks scheduled far in the future are still queued when canceled.
	future := clock.SystemProvider{}.Now().Add(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		c, err := tx.NextChunk()
		require.NoError(t, err)
		require.NoError(t, tx.Commit(c, future))
	}
	require.NoError(t, tx.CancelUnsent())
	require.Eventually(t, func() bool { return tx.Close() == nil }, 2*time.Second, 5*time.Millisecond)

	pkts, err := rx.NextChunk(1, 4, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, pkts)
}
