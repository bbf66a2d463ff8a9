package av

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/aoip/av/audio"
	"github.com/opd-ai/aoip/av/rtp"
	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/ring"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// ReceiverConfig holds everything a receiver needs. Base and Provider are
// required, plus at least one of AudioPush and Ring.
type ReceiverConfig struct {
	Info     stream.Info
	Clock    stream.ClockDomain
	Base     *clock.Base
	Provider interfaces.IStreamProvider

	AudioPush AudioPush
	// Ring, if set, receives every block on its producer side. Its frames
	// per block and channel count must match the stream.
	Ring *ring.Ring

	// BlockFrames is the callback block size. Zero selects DefaultBlockFrames,
	// or the ring's block size when Ring is set.
	BlockFrames       int
	MinPacketsPerWait int
	MaxPacketsPerWait int
	TeardownRetries   int
	RealtimePriority  int
}

// Receiver pulls packet chunks from the offload layer and re-blocks them into
// fixed-size callback blocks.
type Receiver struct {
	mu    sync.Mutex
	cfg   ReceiverConfig
	state State

	info        stream.Info
	latency     time.Duration
	period      time.Duration
	perWait     int
	chunkPeriod time.Duration
	timeout     time.Duration
	offloadSDP  string
	recv        interfaces.IReceiveStream
	flow        interfaces.Flow
	decoder     audio.Decoder
	tracker     *rtp.SequenceTracker

	channels int
	scratch  []int32
	halves   [2][]int32
	cur      int
	fill     int // frames in the current half
	halfTS   uint32

	active atomic.Bool
	done   chan struct{}
	runErr error
	stats  counters
}

// NewReceiver validates cfg, creates the offload receive stream and attaches
// the stream's source flow. Metadata streams are rejected.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Info.Kind == stream.KindMetadata {
		return nil, fmt.Errorf("%w: %s", ErrMetadataReceiveUnsupported, cfg.Info.Name)
	}
	if cfg.Base == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("%w: clock base and provider are required", ErrInvalidConfig)
	}
	if cfg.AudioPush == nil && cfg.Ring == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSink, cfg.Info.Name)
	}
	if cfg.TeardownRetries == 0 {
		cfg.TeardownRetries = DefaultTeardownRetries
	}
	if cfg.MinPacketsPerWait == 0 {
		cfg.MinPacketsPerWait = DefaultMinPacketsPerWait
	}
	if cfg.MaxPacketsPerWait == 0 {
		cfg.MaxPacketsPerWait = DefaultMaxPacketsPerWait
	}
	if cfg.BlockFrames == 0 {
		cfg.BlockFrames = DefaultBlockFrames
		if cfg.Ring != nil {
			cfg.BlockFrames = cfg.Ring.FramesPerBlock()
		}
	}
	if cfg.MinPacketsPerWait < 1 || cfg.MaxPacketsPerWait < cfg.MinPacketsPerWait ||
		cfg.BlockFrames < 1 || cfg.TeardownRetries < 0 {
		return nil, fmt.Errorf("%w: packets per wait [%d,%d], block %d frames",
			ErrInvalidConfig, cfg.MinPacketsPerWait, cfg.MaxPacketsPerWait, cfg.BlockFrames)
	}

	r := &Receiver{cfg: cfg}
	if err := r.prepare(cfg.Info); err != nil {
		return nil, err
	}
	r.state = StateReady

	logrus.WithFields(logrus.Fields{
		"function":         "NewReceiver",
		"stream":           r.info.Name,
		"flow":             r.flow.String(),
		"packets_per_wait": r.perWait,
		"chunk_period":     r.chunkPeriod,
		"block_frames":     cfg.BlockFrames,
		"provider":         cfg.Provider.Name(),
	}).Info("Receiver ready")
	return r, nil
}

func (r *Receiver) prepare(in stream.Info) error {
	info := in.Clone()
	if info.Kind == stream.KindMetadata {
		return fmt.Errorf("%w: %s", ErrMetadataReceiveUnsupported, info.Name)
	}
	if err := validateInfo(&info); err != nil {
		return err
	}
	latency, err := effectiveLatency(info.Latency)
	if err != nil {
		return err
	}
	channels := info.Audio.Channels
	if rg := r.cfg.Ring; rg != nil {
		if rg.TotalChannels() != channels || rg.FramesPerBlock() != r.cfg.BlockFrames {
			return fmt.Errorf("%w: ring %d channels x %d frames, stream %d channels x %d frames",
				ErrSourceMismatch, rg.TotalChannels(), rg.FramesPerBlock(), channels, r.cfg.BlockFrames)
		}
	}
	dec, err := audio.NewDecoder(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	period := info.PacketTime()
	perWait := packetsPerWait(latency, period, r.cfg.MinPacketsPerWait, r.cfg.MaxPacketsPerWait)
	chunkPeriod := time.Duration(perWait) * period
	timeout := latency
	if timeout < 2*chunkPeriod {
		timeout = 2 * chunkPeriod
	}

	text, err := sdp.Encode(info, r.cfg.Clock, sdp.VariantOffload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStream, err)
	}
	layout := interfaces.BufferLayout{
		HeaderSize:  rtp.HeaderSize,
		PayloadSize: info.PayloadSize(),
		Depth:       perWait,
	}
	recv, err := r.cfg.Provider.CreateReceiveStream(text, layout)
	if err != nil {
		return fmt.Errorf("%w: create receive stream: %w", ErrOffload, err)
	}
	flow := interfaces.Flow{Source: info.Source, Destination: info.Destination, Port: info.Port}
	if err := recv.AttachFlow(flow); err != nil {
		closeErr := destroyStream("Receiver.prepare", info.Name, recv, r.cfg.TeardownRetries)
		return errors.Join(fmt.Errorf("%w: attach flow %s: %w", ErrOffload, flow, err), closeErr)
	}

	r.info, r.latency, r.period = info, latency, period
	r.perWait, r.chunkPeriod, r.timeout = perWait, chunkPeriod, timeout
	r.offloadSDP, r.recv, r.flow = text, recv, flow
	r.decoder = dec
	r.tracker = rtp.NewSequenceTracker(info.PayloadType)
	r.channels = channels
	r.scratch = make([]int32, channels*info.Audio.SamplesPerPacket)
	for i := range r.halves {
		r.halves[i] = make([]int32, channels*r.cfg.BlockFrames)
	}
	r.cur, r.fill = 0, 0
	return nil
}

// Name returns the stream name.
func (r *Receiver) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.Name
}

// Info returns a copy of the stream parameters.
func (r *Receiver) Info() stream.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info.Clone()
}

// State returns the lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PacketsPerWait returns the chunk size requested from the offload layer.
func (r *Receiver) PacketsPerWait() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perWait
}

// Stats returns a snapshot of the counters.
func (r *Receiver) Stats() Stats {
	return r.stats.snapshot()
}

// Done is closed when the receive goroutine exits.
func (r *Receiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error that ended the last run, if any.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Start launches the receive goroutine. Only a Ready receiver starts.
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady {
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, r.state)
	}
	r.state = StateRunning
	r.runErr = nil
	r.done = make(chan struct{})
	r.active.Store(true)
	go r.run(r.done)

	logrus.WithFields(logrus.Fields{
		"function": "Receiver.Start",
		"stream":   r.info.Name,
	}).Info("Receiver started")
	return nil
}

// Stop clears the active flag, waits for the goroutine to return from its
// current wait and destroys the offload stream.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	done := r.done
	r.mu.Unlock()

	r.active.Store(false)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.teardownLocked()
	r.state = StateStopped

	logrus.WithFields(logrus.Fields{
		"function":  "Receiver.Stop",
		"stream":    r.info.Name,
		"packets":   r.stats.packets.Load(),
		"callbacks": r.stats.callbacks.Load(),
	}).Info("Receiver stopped")
	return err
}

func (r *Receiver) teardownLocked() error {
	if r.recv == nil {
		return nil
	}
	if err := r.recv.DetachFlow(r.flow); err != nil && !errors.Is(err, interfaces.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.teardown",
			"stream":   r.info.Name,
			"error":    err.Error(),
		}).Warn("Failed to detach flow")
	}
	err := destroyStream("Receiver.teardown", r.info.Name, r.recv, r.cfg.TeardownRetries)
	r.recv = nil
	return err
}

// Reconfigure replaces the stream parameters in Ready or Stopped.
func (r *Receiver) Reconfigure(info stream.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady && r.state != StateStopped {
		return fmt.Errorf("%w: reconfigure in state %s", ErrInvalidState, r.state)
	}
	if err := r.teardownLocked(); err != nil {
		return err
	}
	if err := r.prepare(info); err != nil {
		r.state = StateStopped
		return err
	}
	r.state = StateReady
	return nil
}

// Close stops the receiver if needed and releases the offload stream.
func (r *Receiver) Close() error {
	err := r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return nil
	}
	err = errors.Join(err, r.teardownLocked())
	r.state = StateClosed
	return err
}

// run is the wake loop. Full chunks advance the wake time by exactly one
// chunk period; a partial chunk or the first wake restarts the schedule from
// the last arrival.
func (r *Receiver) run(done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	r.mu.Lock()
	name, perWait, chunkPeriod, timeout, recv := r.info.Name, r.perWait, r.chunkPeriod, r.timeout, r.recv
	r.mu.Unlock()

	raisePriority("Receiver.run", name, r.cfg.RealtimePriority)

	base := r.cfg.Base
	next := base.Now()
	first := true

	for r.active.Load() {
		base.SleepUntil(next)
		if !r.active.Load() {
			break
		}

		pkts, err := recv.NextChunk(perWait, perWait, timeout)
		if err != nil {
			if errors.Is(err, interfaces.ErrClosed) {
				r.finish(err)
				return
			}
			r.stats.errors.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.run",
				"stream":   name,
				"error":    err.Error(),
			}).Warn("Receive chunk failed")
			next = base.Now().Add(chunkPeriod)
			continue
		}

		for i := range pkts {
			if !r.handle(pkts[i].Data) {
				logrus.WithFields(logrus.Fields{
					"function": "Receiver.run",
					"stream":   name,
				}).Info("Sink ended stream")
				r.finish(nil)
				return
			}
		}

		if first || len(pkts) < perWait {
			lastRx := base.Now()
			if len(pkts) > 0 {
				lastRx = pkts[len(pkts)-1].Arrival
			} else {
				// Silence: accept whichever sender appears next.
				r.tracker.Reset()
			}
			next = lastRx.Add(chunkPeriod)
			r.stats.resyncs.Add(1)
			entry := logrus.WithFields(logrus.Fields{
				"function": "Receiver.run",
				"stream":   name,
				"received": len(pkts),
				"expected": perWait,
				"first":    first,
			})
			if first || len(pkts) == 0 {
				entry.Debug("Receive schedule resynchronized")
			} else {
				entry.Warn("Partial chunk, receive schedule resynchronized")
			}
			first = false
			continue
		}
		next = next.Add(chunkPeriod)
	}
	r.finish(nil)
}

func (r *Receiver) finish(err error) {
	r.active.Store(false)
	r.mu.Lock()
	r.runErr = err
	r.mu.Unlock()
}

// handle de-frames one packet into the double buffer. It returns false when
// the sink asks to stop.
func (r *Receiver) handle(data []byte) bool {
	h, payload, err := rtp.ParseHeader(data)
	if err != nil {
		r.stats.rejected.Add(1)
		return true
	}
	before := r.tracker.Statistics()
	deliver, err := r.tracker.Observe(h)
	after := r.tracker.Statistics()
	r.stats.gaps.Add(after.PacketsLost - before.PacketsLost)
	r.stats.duplicates.Add(after.Duplicates - before.Duplicates)
	r.stats.reordered.Add(after.Reordered - before.Reordered)
	r.stats.rejected.Add(after.Rejected - before.Rejected)
	r.stats.restarts.Add(after.Restarts - before.Restarts)
	if err != nil || !deliver {
		return true
	}

	n, err := r.decoder.Decode(r.scratch, payload)
	if err != nil {
		r.stats.rejected.Add(1)
		return true
	}
	r.stats.packets.Add(1)
	r.stats.bytes.Add(uint64(len(data)))
	return r.accumulate(r.scratch[:n], h.Timestamp)
}

// accumulate appends the frames of one packet to the current half, emitting
// every half that fills.
func (r *Receiver) accumulate(samples []int32, ts uint32) bool {
	block := r.cfg.BlockFrames
	frames := len(samples) / r.channels
	for off := 0; off < frames; {
		if r.fill == 0 {
			r.halfTS = ts + uint32(off)
		}
		n := block - r.fill
		if n > frames-off {
			n = frames - off
		}
		copy(r.halves[r.cur][r.fill*r.channels:], samples[off*r.channels:(off+n)*r.channels])
		r.fill += n
		off += n
		if r.fill == block {
			if !r.emit(r.halves[r.cur], r.halfTS) {
				return false
			}
			r.cur ^= 1
			r.fill = 0
		}
	}
	return true
}

func (r *Receiver) emit(samples []int32, ts uint32) bool {
	if rg := r.cfg.Ring; rg != nil {
		if slot, ok := rg.Reserve(); ok {
			copy(slot, samples)
			if !rg.Commit(ts) {
				r.stats.ringDropped.Add(1)
			}
		} else {
			r.stats.ringDropped.Add(1)
		}
	}
	r.stats.callbacks.Add(1)
	if r.cfg.AudioPush != nil {
		return r.cfg.AudioPush(samples, ts)
	}
	return true
}
