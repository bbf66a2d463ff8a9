package av

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/aoip/av/audio"
	"github.com/opd-ai/aoip/av/fragment"
	"github.com/opd-ai/aoip/av/rtp"
	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/limits"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// TransmitterConfig holds everything a transmitter needs. Base and Provider
// are required. Audio streams take exactly one of AudioPull and Ring;
// metadata streams take MetadataPull.
type TransmitterConfig struct {
	Info     stream.Info
	Clock    stream.ClockDomain
	Base     *clock.Base
	Provider interfaces.IStreamProvider

	AudioPull    AudioPull
	Ring         *RingSource
	MetadataPull MetadataPull

	// Effects, if set, processes every audio packet before encoding.
	Effects *audio.EffectChain

	// MaxPacketSize is the metadata RTP packet budget. Zero selects DefaultMaxPacketSize.
	MaxPacketSize int
	// TeardownRetries bounds busy retries on stop. Zero selects DefaultTeardownRetries.
	TeardownRetries int
	// RealtimePriority, when positive, is applied to the pacing thread.
	RealtimePriority int
}

// Transmitter paces one stream onto the offload layer. Its pacing goroutine
// is locked to an OS thread; the pull callbacks run on it.
type Transmitter struct {
	mu    sync.Mutex
	cfg   TransmitterConfig
	state State

	info    stream.Info
	latency time.Duration
	period  time.Duration
	tsStep  uint32
	sdpStd  string
	sdpOff  string
	layout  interfaces.BufferLayout
	send    interfaces.ISendStream
	seq     *rtp.Sequencer
	encoder audio.Encoder
	frag    *fragment.Assembler
	samples []int32
	scratch []byte

	active atomic.Bool
	done   chan struct{}
	runErr error
	stats  counters
}

// NewTransmitter validates cfg, encodes the stream's SDP and creates the
// offload send stream. The transmitter is returned Ready.
func NewTransmitter(cfg TransmitterConfig) (*Transmitter, error) {
	if cfg.Base == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("%w: clock base and provider are required", ErrInvalidConfig)
	}
	if cfg.TeardownRetries == 0 {
		cfg.TeardownRetries = DefaultTeardownRetries
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.TeardownRetries < 0 || cfg.MaxPacketSize > limits.MaxDatagram {
		return nil, fmt.Errorf("%w: retries %d, max packet %d", ErrInvalidConfig, cfg.TeardownRetries, cfg.MaxPacketSize)
	}

	t := &Transmitter{cfg: cfg}
	if err := t.prepare(cfg.Info); err != nil {
		return nil, err
	}
	t.state = StateReady

	logrus.WithFields(logrus.Fields{
		"function":    "NewTransmitter",
		"stream":      t.info.Name,
		"kind":        t.info.Kind.String(),
		"destination": t.info.Destination.String(),
		"port":        t.info.Port,
		"period":      t.period,
		"depth":       t.layout.Depth,
		"provider":    cfg.Provider.Name(),
	}).Info("Transmitter ready")
	return t, nil
}

// prepare validates info against the configured sources and creates the
// offload stream. On error the transmitter is unchanged.
func (t *Transmitter) prepare(in stream.Info) error {
	info := in.Clone()
	if err := validateInfo(&info); err != nil {
		return err
	}
	latency, err := effectiveLatency(info.Latency)
	if err != nil {
		return err
	}
	if info.SSRC == 0 {
		if info.SSRC, err = rtp.NewSSRC(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	p := preparedTx{info: info, latency: latency, period: info.PacketTime()}
	if info.Kind.IsAudio() {
		err = t.prepareAudio(&p)
	} else {
		err = t.prepareMetadata(&p)
	}
	if err != nil {
		return err
	}

	if p.sdpStd, err = sdp.Encode(info, t.cfg.Clock, sdp.VariantStandard); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStream, err)
	}
	if p.sdpOff, err = sdp.Encode(info, t.cfg.Clock, sdp.VariantOffload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStream, err)
	}
	send, err := t.cfg.Provider.CreateSendStream(p.sdpOff, p.layout)
	if err != nil {
		return fmt.Errorf("%w: create send stream: %w", ErrOffload, err)
	}

	t.info, t.latency, t.period = info, latency, p.period
	t.tsStep, t.sdpStd, t.sdpOff = p.tsStep, p.sdpStd, p.sdpOff
	t.layout, t.send = p.layout, send
	t.encoder, t.frag, t.samples, t.scratch = p.encoder, p.frag, p.samples, p.scratch
	t.seq = rtp.NewSequencer(info.PayloadType, info.SSRC)
	return nil
}

type preparedTx struct {
	info           stream.Info
	latency        time.Duration
	period         time.Duration
	tsStep         uint32
	sdpStd, sdpOff string
	layout         interfaces.BufferLayout
	encoder        audio.Encoder
	frag           *fragment.Assembler
	samples        []int32
	scratch        []byte
}

func sendDepth(latency, period time.Duration) int {
	d := MinSendDepth
	if period > 0 {
		if n := int((latency + period - 1) / period); n > d {
			d = n
		}
	}
	if d > MaxSendDepth {
		d = MaxSendDepth
	}
	return d
}

func (t *Transmitter) prepareAudio(p *preparedTx) error {
	if (t.cfg.AudioPull == nil) == (t.cfg.Ring == nil) || t.cfg.MetadataPull != nil {
		return fmt.Errorf("%w: audio stream needs exactly one of AudioPull and Ring", ErrNoSource)
	}
	a := p.info.Audio
	if rs := t.cfg.Ring; rs != nil {
		if rs.Ring == nil || rs.Reader < 0 || rs.Reader >= rs.Ring.Readers() {
			return fmt.Errorf("%w: no such ring reader", ErrSourceMismatch)
		}
		if ch := rs.Ring.Channels(rs.Reader); ch != a.Channels {
			return fmt.Errorf("%w: reader has %d channels, stream %d", ErrSourceMismatch, ch, a.Channels)
		}
	}
	enc, err := audio.NewEncoder(p.info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	payload := p.info.PayloadSize()
	if rtp.HeaderSize+payload > limits.MaxDatagram {
		return fmt.Errorf("%w: %d byte packets exceed the MTU", ErrInvalidStream, rtp.HeaderSize+payload)
	}
	p.encoder = enc
	p.samples = make([]int32, a.Channels*a.SamplesPerPacket)
	p.tsStep = uint32(a.SamplesPerPacket)
	p.layout = interfaces.BufferLayout{
		HeaderSize:  rtp.HeaderSize,
		PayloadSize: payload,
		Depth:       sendDepth(p.latency, p.period),
	}
	return nil
}

func (t *Transmitter) prepareMetadata(p *preparedTx) error {
	if t.cfg.MetadataPull == nil || t.cfg.AudioPull != nil || t.cfg.Ring != nil {
		return fmt.Errorf("%w: metadata stream needs MetadataPull only", ErrNoSource)
	}
	budget := t.cfg.MaxPacketSize - rtp.HeaderSize - rtp.SegmentHeaderSize
	frag, err := fragment.New(budget, fragment.DefaultAlignment)
	if err != nil {
		return fmt.Errorf("%w: max packet size %d: %w", ErrInvalidConfig, t.cfg.MaxPacketSize, err)
	}
	m := p.info.Metadata
	p.frag = frag
	p.tsStep = uint32(uint64(p.info.SampleRate) * uint64(m.PeriodMs) / 1000)
	p.scratch = make([]byte, rtp.SegmentHeaderSize+frag.MaxFragment())
	p.layout = interfaces.BufferLayout{
		HeaderSize:     rtp.HeaderSize,
		MaxPayloadSize: rtp.SegmentHeaderSize + frag.MaxFragment(),
		Depth:          sendDepth(p.latency, p.period) + m.MaxPayloadSize/frag.MaxFragment() + 1,
	}
	return nil
}

// Name returns the stream name.
func (t *Transmitter) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Name
}

// Info returns a copy of the stream parameters, SSRC included.
func (t *Transmitter) Info() stream.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Clone()
}

// State returns the lifecycle state.
func (t *Transmitter) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SDP returns the stream description for announcement to other devices.
func (t *Transmitter) SDP() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sdpStd
}

// OffloadSDP returns the description handed to the offload layer.
func (t *Transmitter) OffloadSDP() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sdpOff
}

// Stats returns a snapshot of the counters.
func (t *Transmitter) Stats() Stats {
	return t.stats.snapshot()
}

// Done is closed when the pacing goroutine exits, either after Stop or when
// a callback asked to stop. It is nil before the first Start.
func (t *Transmitter) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Err returns the error that ended the last run, if any.
func (t *Transmitter) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runErr
}

// Start launches the pacing goroutine. Only a Ready transmitter starts.
func (t *Transmitter) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateReady {
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, t.state)
	}
	t.state = StateRunning
	t.runErr = nil
	t.done = make(chan struct{})
	t.active.Store(true)
	go t.run(t.done)

	logrus.WithFields(logrus.Fields{
		"function": "Transmitter.Start",
		"stream":   t.info.Name,
	}).Info("Transmitter started")
	return nil
}

// Stop clears the active flag, waits for the pacing goroutine, cancels
// unsent chunks and destroys the offload stream. Stopping a transmitter that
// is not running is a no-op.
func (t *Transmitter) Stop() error {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return nil
	}
	done := t.done
	t.mu.Unlock()

	t.active.Store(false)
	<-done

	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.teardownLocked()
	t.state = StateStopped

	logrus.WithFields(logrus.Fields{
		"function": "Transmitter.Stop",
		"stream":   t.info.Name,
		"packets":  t.stats.packets.Load(),
		"resyncs":  t.stats.resyncs.Load(),
	}).Info("Transmitter stopped")
	return err
}

func (t *Transmitter) teardownLocked() error {
	if t.send == nil {
		return nil
	}
	if err := t.send.CancelUnsent(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transmitter.teardown",
			"stream":   t.info.Name,
			"error":    err.Error(),
		}).Warn("Failed to cancel unsent chunks")
	}
	err := destroyStream("Transmitter.teardown", t.info.Name, t.send, t.cfg.TeardownRetries)
	t.send = nil
	return err
}

// Reconfigure replaces the stream parameters. It is allowed in Ready and
// Stopped and leaves the transmitter Ready with a new offload stream.
func (t *Transmitter) Reconfigure(info stream.Info) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateReady && t.state != StateStopped {
		return fmt.Errorf("%w: reconfigure in state %s", ErrInvalidState, t.state)
	}
	if err := t.teardownLocked(); err != nil {
		return err
	}
	if err := t.prepare(info); err != nil {
		t.state = StateStopped
		return err
	}
	t.state = StateReady

	logrus.WithFields(logrus.Fields{
		"function": "Transmitter.Reconfigure",
		"stream":   t.info.Name,
		"period":   t.period,
	}).Info("Transmitter reconfigured")
	return nil
}

// Close stops the transmitter if needed and releases the offload stream.
func (t *Transmitter) Close() error {
	err := t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return nil
	}
	err = errors.Join(err, t.teardownLocked())
	t.state = StateClosed
	return err
}

// run is the pacing loop. The schedule advances by exactly one period per
// packet; when the loop falls behind it jumps to now+period rather than
// bursting the backlog.
func (t *Transmitter) run(done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	t.mu.Lock()
	name, period, step, rate := t.info.Name, t.period, t.tsStep, t.info.SampleRate
	isAudio := t.info.Kind.IsAudio()
	t.mu.Unlock()

	raisePriority("Transmitter.run", name, t.cfg.RealtimePriority)

	base := t.cfg.Base
	next := base.Now().Add(period)
	ts := base.ToRTP(next, rate)

	for t.active.Load() {
		base.SleepUntil(next)
		if !t.active.Load() {
			break
		}

		var more bool
		var err error
		if isAudio {
			more, err = t.sendAudio(next, ts)
		} else {
			more, err = t.sendMetadata(next, ts)
		}
		if errors.Is(err, ErrFragmentMismatch) {
			logrus.WithFields(logrus.Fields{
				"function": "Transmitter.run",
				"stream":   name,
				"error":    err.Error(),
			}).Error("Stopping stream")
			t.finish(err)
			return
		}
		if err != nil {
			t.stats.errors.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Transmitter.run",
				"stream":   name,
				"error":    err.Error(),
			}).Warn("Packet not sent")
			if errors.Is(err, interfaces.ErrClosed) {
				t.finish(err)
				return
			}
		}
		if !more {
			logrus.WithFields(logrus.Fields{
				"function": "Transmitter.run",
				"stream":   name,
			}).Info("Source ended stream")
			break
		}

		next = next.Add(period)
		ts += step
		if now := base.Now(); now.After(next) {
			late := now.Sub(next)
			next = now.Add(period)
			ts = base.ToRTP(next, rate)
			t.stats.resyncs.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Transmitter.run",
				"stream":   name,
				"late":     late,
			}).Warn("Pacing stalled, resynchronized schedule")
		}
	}
	t.finish(nil)
}

func (t *Transmitter) finish(err error) {
	t.active.Store(false)
	t.mu.Lock()
	t.runErr = err
	t.mu.Unlock()
}

// pullAudio fills t.samples from the configured source.
func (t *Transmitter) pullAudio(ts uint32) bool {
	if t.cfg.AudioPull != nil {
		return t.cfg.AudioPull(t.samples, ts)
	}
	rs := t.cfg.Ring
	n, _ := rs.Ring.Read(rs.Reader, t.samples)
	if n < len(t.samples) {
		clear(t.samples[n:])
		t.stats.underruns.Add(1)
	}
	return true
}

func (t *Transmitter) sendAudio(at clock.Time, ts uint32) (bool, error) {
	if !t.pullAudio(ts) {
		return false, nil
	}
	if t.cfg.Effects != nil {
		if err := t.cfg.Effects.Process(t.samples); err != nil {
			t.stats.errors.Add(1)
		}
	}

	chunk, err := t.send.NextChunk()
	if err != nil {
		return true, fmt.Errorf("%w: next chunk: %w", ErrOffload, err)
	}
	n, err := t.encoder.Encode(chunk.Payload, t.samples)
	if err != nil {
		return true, err
	}
	if _, err := t.seq.WriteHeader(chunk.Header, ts, false); err != nil {
		return true, err
	}
	if err := t.send.Commit(chunk, at); err != nil {
		return true, fmt.Errorf("%w: commit: %w", ErrOffload, err)
	}
	t.stats.packets.Add(1)
	t.stats.bytes.Add(uint64(rtp.HeaderSize + n))
	return true, nil
}

// sendMetadata fragments one message into consecutive RTP packets that share
// ts. The first fragment leads with the format descriptor; the last carries
// the marker and the segment's last flag.
func (t *Transmitter) sendMetadata(at clock.Time, ts uint32) (bool, error) {
	msg, more := t.cfg.MetadataPull()
	if len(msg) == 0 {
		return more, nil
	}
	m := t.info.Metadata
	err := limits.ValidateMetadataMessage(msg)
	if err == nil {
		err = limits.ValidateSize(len(msg), m.MaxPayloadSize)
	}
	if err != nil {
		t.stats.dropped.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Transmitter.sendMetadata",
			"stream":   t.info.Name,
			"size":     len(msg),
			"max":      m.MaxPayloadSize,
			"error":    err.Error(),
		}).Warn("Dropping oversized metadata message")
		return more, nil
	}

	a := t.frag
	a.Reset()
	a.AddPayload(msg)
	a.AlignPayload()
	words := a.PayloadRemaining() / fragment.DefaultAlignment
	desc := rtp.FormatDescriptor{ItemCount: 1, TotalWords: uint16(words)}
	if err := a.AddPayloadHeader(desc.Marshal()); err != nil {
		return more, err
	}

	count := a.NumFragments()
	offset := 0
	for i := 0; i < count; i++ {
		size := a.Fragment(0)
		last := i == count-1
		var seg [rtp.SegmentHeaderSize]byte
		hdr := rtp.SegmentHeader{
			DataItemType: m.DataItemTypes[0],
			Last:         last,
			LengthWords:  uint16(size / fragment.DefaultAlignment),
			OffsetWords:  uint32(offset / fragment.DefaultAlignment),
		}
		if _, err := hdr.MarshalTo(seg[:]); err != nil {
			return more, err
		}
		a.AddHeader(seg[:])

		chunk, err := t.send.NextDynamicChunk(a.FragmentSize())
		if err != nil {
			return more, fmt.Errorf("%w: next chunk: %w", ErrOffload, err)
		}
		n, err := a.TakeFragment(chunk.Payload)
		if err != nil {
			return more, err
		}
		if _, err := t.seq.WriteHeader(chunk.Header, ts, last); err != nil {
			return more, err
		}
		if err := t.send.Commit(chunk, at); err != nil {
			return more, fmt.Errorf("%w: commit: %w", ErrOffload, err)
		}
		offset += size
		t.stats.packets.Add(1)
		t.stats.bytes.Add(uint64(rtp.HeaderSize + n))
	}
	if rest := a.PayloadRemaining(); rest != 0 {
		return false, fmt.Errorf("%w: %d bytes left after %d fragments", ErrFragmentMismatch, rest, count)
	}
	t.stats.messages.Add(1)
	return more, nil
}
