package aoip

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/aoip/av"
	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/config"
	"github.com/opd-ai/aoip/discovery"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	aoiptest "github.com/opd-ai/aoip/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrandmaster = "00-1D-C1-FF-FE-12-34-56"

var testStart = clock.Unix(1700000000, 0)

func surround51() stream.Info {
	return stream.Info{
		Name:        "surround",
		Kind:        stream.KindAES67,
		PayloadType: 97,
		Source:      netip.MustParseAddr("192.168.10.20"),
		Destination: netip.MustParseAddr("239.69.10.1"),
		Port:        5004,
		SessionID:   1,
		SampleRate:  48000,
		Latency:     4 * time.Millisecond,
		Audio: &stream.AudioParams{
			Channels:         6,
			BytesPerSample:   3,
			SamplesPerPacket: 48,
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		ClockDomain: config.ClockDomainConfig{GrandmasterID: testGrandmaster},
	}
}

func newFabric() *aoiptest.Loopback {
	return aoiptest.NewLoopback(&interfaces.OffloadConfig{
		Driver:     interfaces.DriverLoopback,
		QueueDepth: 64,
	})
}

func newTestNode(t *testing.T, provider interfaces.IStreamProvider, backends ...discovery.Backend) *Node {
	t.Helper()
	base, err := clock.New(clock.WithTimeProvider(clock.NewManual(testStart)), clock.WithTAIOffset(37))
	require.NoError(t, err)
	n, err := NewNodeWithBase(testConfig(), base, provider, backends...)
	require.NoError(t, err)
	return n
}

// pullPackets ends the stream after n packets.
func pullPackets(n int) av.AudioPull {
	calls := 0
	return func(dst []int32, _ uint32) bool {
		if calls == n {
			return false
		}
		calls++
		for i := range dst {
			dst[i] = int32(i << 8)
		}
		return true
	}
}

func TestNewNodeWithBase_Validation(t *testing.T) {
	base, err := clock.New(clock.WithTimeProvider(clock.NewManual(testStart)), clock.WithTAIOffset(37))
	require.NoError(t, err)

	_, err = NewNodeWithBase(nil, base, newFabric())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewNodeWithBase(testConfig(), nil, newFabric())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewNodeWithBase(testConfig(), base, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewNode(nil, newFabric())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNode_AddTransmitterAnnounces(t *testing.T) {
	dir := discovery.NewDirectory(time.Minute)
	n := newTestNode(t, newFabric(), dir)
	defer n.Close()

	tx, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	require.NoError(t, err)
	assert.Equal(t, av.StateReady, tx.State())

	svc, ok := dir.Lookup("surround")
	require.True(t, ok)
	assert.Equal(t, tx.SDP(), svc.SDP)
	assert.Contains(t, svc.SDP, "L24/48000/6")
	assert.Equal(t, testGrandmaster, svc.Clock.GrandmasterID)

	_, err = n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	assert.ErrorIs(t, err, ErrStreamExists)

	// The node's own announcement is not a remote service.
	n.Iterate()
	assert.Empty(t, n.Services())

	got, ok := n.Transmitter("surround")
	require.True(t, ok)
	assert.Same(t, tx, got)
	_, ok = n.Receiver("surround")
	assert.False(t, ok)
	assert.Equal(t, []string{"surround"}, n.Streams())
}

func TestNode_RejectsInvalidTransmitter(t *testing.T) {
	fabric := newFabric()
	n := newTestNode(t, fabric)
	defer n.Close()

	info := surround51()
	info.PayloadType = 200
	_, err := n.AddTransmitter(av.TransmitterConfig{Info: info, AudioPull: pullPackets(1)})
	assert.Error(t, err)
	assert.Empty(t, n.Streams())
	assert.Zero(t, fabric.GetStats().SendStreams)
}

func TestNode_DiscoveryCallbacks(t *testing.T) {
	dir := discovery.NewDirectory(time.Minute)
	announcer := newTestNode(t, newFabric(), dir)
	defer announcer.Close()
	listener := newTestNode(t, newFabric(), dir)
	defer listener.Close()

	var added, updated, removed []string
	listener.OnServiceAdded(func(svc stream.Service) { added = append(added, svc.Info.Name) })
	listener.OnServiceUpdated(func(svc stream.Service) { updated = append(updated, svc.Info.Name) })
	listener.OnServiceRemoved(func(svc stream.Service) { removed = append(removed, svc.Info.Name) })

	_, err := announcer.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	require.NoError(t, err)

	listener.Iterate()
	assert.Equal(t, []string{"surround"}, added)
	services := listener.Services()
	require.Len(t, services, 1)
	assert.Equal(t, 48, services[0].Info.Audio.SamplesPerPacket)

	info := surround51()
	info.Audio.SamplesPerPacket = 6
	require.NoError(t, announcer.ReconfigureTransmitter("surround", info))

	listener.Iterate()
	assert.Equal(t, []string{"surround"}, updated)
	svc, ok := listener.Service("surround")
	require.True(t, ok)
	assert.Equal(t, 6, svc.Info.Audio.SamplesPerPacket)

	require.NoError(t, announcer.RemoveStream("surround"))
	listener.Iterate()
	assert.Equal(t, []string{"surround"}, removed)
	assert.Empty(t, listener.Services())

	assert.ErrorIs(t, announcer.RemoveStream("surround"), ErrStreamNotFound)
}

func TestNode_SharedDirectoryReachesEveryNode(t *testing.T) {
	dir := discovery.NewDirectory(time.Minute)
	announcer := newTestNode(t, newFabric(), dir)
	defer announcer.Close()
	listener := newTestNode(t, newFabric(), dir)
	defer listener.Close()

	_, err := announcer.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	require.NoError(t, err)

	// The announcer polls first and skips its own stream.
	announcer.Iterate()
	listener.Iterate()
	_, ok := listener.Service("surround")
	assert.True(t, ok)

	late := newTestNode(t, newFabric(), dir)
	defer late.Close()
	late.Iterate()
	_, ok = late.Service("surround")
	assert.True(t, ok, "a node created after the announcement still sees it")
}

func TestNode_RefreshKeepsAnnouncementAlive(t *testing.T) {
	const ttl = 150 * time.Millisecond
	dir := discovery.NewDirectory(ttl)
	cfg := testConfig()
	cfg.Discovery.TTL = ttl

	base, err := clock.New(clock.WithTimeProvider(clock.NewManual(testStart)), clock.WithTAIOffset(37))
	require.NoError(t, err)
	announcer, err := NewNodeWithBase(cfg, base, newFabric(), dir)
	require.NoError(t, err)
	defer announcer.Close()
	listener, err := NewNodeWithBase(cfg, base, newFabric(), dir)
	require.NoError(t, err)
	defer listener.Close()

	var added, updated, removed int
	listener.OnServiceAdded(func(stream.Service) { added++ })
	listener.OnServiceUpdated(func(stream.Service) { updated++ })
	listener.OnServiceRemoved(func(stream.Service) { removed++ })

	_, err = announcer.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	require.NoError(t, err)

	for deadline := time.Now().Add(4 * ttl); time.Now().Before(deadline); {
		announcer.Iterate()
		listener.Iterate()
		time.Sleep(10 * time.Millisecond)
	}
	_, ok := listener.Service("surround")
	assert.True(t, ok)
	assert.Equal(t, 1, added)
	assert.Zero(t, updated, "refreshing the same SDP is not an update")
	assert.Zero(t, removed)

	// An entry that disappeared anyway is announced again.
	require.NoError(t, dir.RemoveTxService("surround"))
	require.Eventually(t, func() bool {
		announcer.Iterate()
		_, ok := dir.Lookup("surround")
		return ok
	}, 2*ttl, 5*time.Millisecond)
}

func TestNode_ReconfigureTransmitterErrors(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	assert.ErrorIs(t, n.ReconfigureTransmitter("missing", surround51()), ErrStreamNotFound)

	_, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	require.NoError(t, err)
	renamed := surround51()
	renamed.Name = "other"
	assert.ErrorIs(t, n.ReconfigureTransmitter("surround", renamed), av.ErrInvalidStream)

	tx, _ := n.Transmitter("surround")
	svc, ok := sdp.DecodeService(tx.SDP())
	require.True(t, ok)
	svc.Info.Name = "monitor"
	_, err = n.AddReceiver(svc, av.ReceiverConfig{AudioPush: func([]int32, uint32) bool { return true }})
	require.NoError(t, err)
	assert.ErrorIs(t, n.ReconfigureTransmitter("monitor", svc.Info), ErrNotTransmitter)
}

func TestNode_StartStopDeliversAudio(t *testing.T) {
	fabric := newFabric()
	n := newTestNode(t, fabric)

	tx, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(16)})
	require.NoError(t, err)

	svc, ok := sdp.DecodeService(tx.SDP())
	require.True(t, ok)
	svc.Info.Name = "monitor"

	blocks := 0
	_, err = n.AddReceiver(svc, av.ReceiverConfig{
		AudioPush: func(samples []int32, _ uint32) bool {
			blocks++
			return true
		},
	})
	require.NoError(t, err)

	require.NoError(t, n.Start())
	assert.True(t, n.IsRunning())
	require.NoError(t, n.Start(), "start is idempotent")

	require.Eventually(t, func() bool {
		s, _ := n.Stats("monitor")
		return s.Callbacks == 12
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, n.Stop())
	assert.False(t, n.IsRunning())

	txStats, ok := n.Stats("surround")
	require.True(t, ok)
	assert.Equal(t, uint64(16), txStats.Packets)
	rxStats, _ := n.Stats("monitor")
	assert.Equal(t, uint64(16), rxStats.Packets)
	assert.Equal(t, 12, blocks)

	require.NoError(t, n.Close())
	stats := fabric.GetStats()
	assert.Zero(t, stats.SendStreams)
	assert.Zero(t, stats.ReceiveStreams)

	_, err = n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(1)})
	assert.ErrorIs(t, err, ErrNodeClosed)
	assert.ErrorIs(t, n.Start(), ErrNodeClosed)
	assert.NoError(t, n.Close())
}

func TestNode_AddWhileRunningStarts(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	require.NoError(t, n.Start())
	tx, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(3)})
	require.NoError(t, err)

	select {
	case <-tx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transmitter did not run")
	}
	assert.Equal(t, uint64(3), tx.Stats().Packets)
}

func TestNode_AddReceiverFromSDP(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	_, err := n.AddReceiverFromSDP("not sdp", av.ReceiverConfig{})
	assert.ErrorIs(t, err, av.ErrInvalidStream)

	text, err := sdp.Encode(surround51(), stream.ClockDomain{GrandmasterID: testGrandmaster}, sdp.VariantStandard)
	require.NoError(t, err)
	rx, err := n.AddReceiverFromSDP(text, av.ReceiverConfig{AudioPush: func([]int32, uint32) bool { return true }})
	require.NoError(t, err)
	assert.Equal(t, "surround", rx.Name())
	assert.Equal(t, 6, rx.Info().Audio.Channels)
}

func TestNode_RunStopsOnCancel(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	tx, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(2)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return tx.Stats().Packets == 2 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, n.IsRunning())
}

func TestNewNodeFromConfig(t *testing.T) {
	dir := t.TempDir()
	captions := filepath.Join(dir, "captions.bin")
	require.NoError(t, os.WriteFile(captions, []byte("caption text"), 0o600))
	recording := filepath.Join(dir, "monitor.wav")

	path := filepath.Join(dir, "aoip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
clock:
  tai_offset: 37
clock_domain:
  grandmaster_id: `+testGrandmaster+`
offload:
  driver: loopback
discovery:
  backends: [directory, log]
streams:
  - name: tone
    direction: transmit
    kind: aes67
    payload_type: 97
    source: 192.168.10.20
    destination: 239.69.10.1
    port: 5004
    sample_rate: 48000
    channels: 2
    bytes_per_sample: 3
    samples_per_packet: 48
  - name: captions
    direction: transmit
    kind: metadata
    payload_type: 100
    source: 192.168.10.20
    destination: 239.69.10.9
    port: 5010
    sample_rate: 90000
    period_ms: 20
    max_payload_size: 1400
    data_item_types: [4660]
    file: `+captions+`
  - name: monitor
    direction: receive
    kind: aes67
    payload_type: 97
    source: 192.168.10.20
    destination: 239.69.10.1
    port: 5004
    sample_rate: 48000
    channels: 2
    bytes_per_sample: 3
    samples_per_packet: 48
    file: `+recording+`
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	n, err := NewNodeFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"captions", "monitor", "tone"}, n.Streams())
	assert.Equal(t, testGrandmaster, n.ClockDomain().GrandmasterID)

	_, ok := n.Transmitter("captions")
	assert.True(t, ok)
	_, ok = n.Receiver("monitor")
	assert.True(t, ok)

	require.NoError(t, n.Close())
	_, err = os.Stat(recording)
	assert.NoError(t, err)
}

func TestNode_LoadStreamsRejectsInvalidEntry(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	err := n.LoadStreams([]config.StreamConfig{{Name: "bad", Direction: "sideways", Kind: "aes67"}})
	assert.ErrorIs(t, err, config.ErrInvalidStreamConfig)
	assert.Empty(t, n.Streams())
}

func TestNode_RestartAfterStop(t *testing.T) {
	n := newTestNode(t, newFabric())
	defer n.Close()

	tx, err := n.AddTransmitter(av.TransmitterConfig{Info: surround51(), AudioPull: pullPackets(2)})
	require.NoError(t, err)

	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
	assert.Equal(t, av.StateStopped, tx.State())

	require.NoError(t, n.Start())
	assert.Equal(t, av.StateRunning, tx.State())
	require.NoError(t, n.Stop())
}
