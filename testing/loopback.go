package testing

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/sdp"
	"github.com/sirupsen/logrus"
)

// maxSentLog bounds the number of SentRecords kept for inspection.
const maxSentLog = 4096

// SentRecord is one packet published on the fabric, kept for test verification.
type SentRecord struct {
	Source      netip.AddrPort
	Destination netip.AddrPort
	At          clock.Time
	Data        []byte
	Receivers   int
}

// LoopbackStats counts fabric activity.
type LoopbackStats struct {
	SendStreams    int
	ReceiveStreams int
	Sent           uint64
	Delivered      uint64
	Dropped        uint64
	Canceled       uint64
}

// Loopback is an in-process offload fabric. Committed packets are delivered
// to every receive stream bound to the packet's destination group and port
// whose attached flows match the sender's address. Delivery happens inside
// Commit; the commit time is reported as the arrival time.
type Loopback struct {
	mu          sync.Mutex
	config      *interfaces.OffloadConfig
	receivers   map[netip.AddrPort][]*receiveStream
	senders     map[*sendStream]struct{}
	sentLog     []SentRecord
	stats       LoopbackStats
	busyOnClose int
	closed      bool
}

// NewLoopback creates an empty fabric.
func NewLoopback(config *interfaces.OffloadConfig) *Loopback {
	logrus.WithFields(logrus.Fields{
		"function":    "NewLoopback",
		"queue_depth": config.QueueDepth,
	}).Info("Creating loopback offload fabric")

	return &Loopback{
		config:    config,
		receivers: make(map[netip.AddrPort][]*receiveStream),
		senders:   make(map[*sendStream]struct{}),
	}
}

// Name implements IStreamProvider.
func (l *Loopback) Name() string { return interfaces.DriverLoopback }

// IsSimulation implements IStreamProvider.
func (l *Loopback) IsSimulation() bool { return true }

// SetBusyOnClose makes the first n Close calls of every stream created
// afterwards report ErrBusy.
func (l *Loopback) SetBusyOnClose(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busyOnClose = n
}

// CreateSendStream implements IStreamProvider.
func (l *Loopback) CreateSendStream(sdpText string, layout interfaces.BufferLayout) (interfaces.ISendStream, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	info, _, err := sdp.DecodeDetailed(sdpText)
	if err != nil {
		return nil, fmt.Errorf("loopback send stream: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, interfaces.ErrClosed
	}

	s := &sendStream{
		fabric:   l,
		name:     info.Name,
		source:   netip.AddrPortFrom(info.Source, info.Port),
		dest:     netip.AddrPortFrom(info.Destination, info.Port),
		layout:   layout,
		free:     make(chan *interfaces.SendChunk, layout.Depth),
		done:     make(chan struct{}),
		busyLeft: l.busyOnClose,
	}
	s.fill()
	l.senders[s] = struct{}{}
	l.stats.SendStreams++

	logrus.WithFields(logrus.Fields{
		"function":    "Loopback.CreateSendStream",
		"stream":      info.Name,
		"destination": s.dest.String(),
		"depth":       layout.Depth,
	}).Info("Loopback send stream created")
	return s, nil
}

// CreateReceiveStream implements IStreamProvider. The stream is bound to the
// SDP destination and receives nothing until a flow is attached.
func (l *Loopback) CreateReceiveStream(sdpText string, layout interfaces.BufferLayout) (interfaces.IReceiveStream, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	info, _, err := sdp.DecodeDetailed(sdpText)
	if err != nil {
		return nil, fmt.Errorf("loopback receive stream: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, interfaces.ErrClosed
	}

	r := &receiveStream{
		fabric:   l,
		name:     info.Name,
		dest:     netip.AddrPortFrom(info.Destination, info.Port),
		capacity: layout.Depth * l.config.QueueDepth,
		flows:    make(map[netip.Addr]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		busyLeft: l.busyOnClose,
	}
	l.receivers[r.dest] = append(l.receivers[r.dest], r)
	l.stats.ReceiveStreams++

	logrus.WithFields(logrus.Fields{
		"function":    "Loopback.CreateReceiveStream",
		"stream":      info.Name,
		"destination": r.dest.String(),
		"capacity":    r.capacity,
	}).Info("Loopback receive stream created")
	return r, nil
}

// publish copies pkt into the queue of every matching receiver.
func (l *Loopback) publish(src, dst netip.AddrPort, pkt []byte, at clock.Time) {
	l.mu.Lock()
	receivers := append([]*receiveStream(nil), l.receivers[dst]...)
	l.stats.Sent++
	l.mu.Unlock()

	delivered := 0
	for _, r := range receivers {
		data := append([]byte(nil), pkt...)
		ok, matched := r.deliver(interfaces.Packet{Data: data, Source: src, Arrival: at})
		if !matched {
			continue
		}
		if ok {
			delivered++
		} else {
			l.mu.Lock()
			l.stats.Dropped++
			l.mu.Unlock()
		}
	}

	l.mu.Lock()
	l.stats.Delivered += uint64(delivered)
	if len(l.sentLog) < maxSentLog {
		l.sentLog = append(l.sentLog, SentRecord{
			Source:      src,
			Destination: dst,
			At:          at,
			Data:        append([]byte(nil), pkt...),
			Receivers:   delivered,
		})
	}
	l.mu.Unlock()
}

func (l *Loopback) removeReceiver(r *receiveStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.receivers[r.dest]
	for i, x := range list {
		if x == r {
			l.receivers[r.dest] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(l.receivers[r.dest]) == 0 {
		delete(l.receivers, r.dest)
	}
	l.stats.ReceiveStreams--
}

func (l *Loopback) removeSender(s *sendStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.senders, s)
	l.stats.SendStreams--
}

// GetSentLog returns a copy of the published packets.
func (l *Loopback) GetSentLog() []SentRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	log := make([]SentRecord, len(l.sentLog))
	copy(log, l.sentLog)
	return log
}

// ClearSentLog empties the published packet log.
func (l *Loopback) ClearSentLog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sentLog = nil
}

// GetStats returns the fabric counters.
func (l *Loopback) GetStats() LoopbackStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close closes the fabric. Streams still open keep working until closed, but
// no new streams can be created.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	logrus.WithFields(logrus.Fields{
		"function":        "Loopback.Close",
		"send_streams":    l.stats.SendStreams,
		"receive_streams": l.stats.ReceiveStreams,
	}).Info("Loopback fabric closed")
	return nil
}

type sendStream struct {
	fabric *Loopback
	name   string
	source netip.AddrPort
	dest   netip.AddrPort
	layout interfaces.BufferLayout
	free   chan *interfaces.SendChunk
	done   chan struct{}

	mu       sync.Mutex
	out      int
	busyLeft int
	closed   bool
}

// fill tops the free list up to Depth fresh chunks.
func (s *sendStream) fill() {
	maxPayload := s.layout.MaxPayloadSize
	if maxPayload == 0 {
		maxPayload = s.layout.PayloadSize
	}
	for len(s.free) < cap(s.free) {
		s.free <- interfaces.NewSendChunk(s.layout.HeaderSize, s.layout.PayloadSize, maxPayload)
	}
}

func (s *sendStream) take() (*interfaces.SendChunk, error) {
	select {
	case c := <-s.free:
		s.mu.Lock()
		s.out++
		s.mu.Unlock()
		return c, nil
	case <-s.done:
		return nil, interfaces.ErrClosed
	}
}

func (s *sendStream) NextChunk() (*interfaces.SendChunk, error) {
	c, err := s.take()
	if err != nil {
		return nil, err
	}
	if err := c.Resize(s.layout.PayloadSize); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sendStream) NextDynamicChunk(payloadSize int) (*interfaces.SendChunk, error) {
	if payloadSize > s.layout.MaxPacketSize()-s.layout.HeaderSize {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrChunkSize, payloadSize)
	}
	c, err := s.take()
	if err != nil {
		return nil, err
	}
	if err := c.Resize(payloadSize); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sendStream) Commit(c *interfaces.SendChunk, at clock.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return interfaces.ErrClosed
	}
	s.mu.Unlock()

	s.fabric.publish(s.source, s.dest, c.Packet(), at)

	s.mu.Lock()
	if s.out > 0 {
		s.out--
	}
	s.mu.Unlock()
	select {
	case s.free <- c:
	default:
	}
	return nil
}

// CancelUnsent forgets every chunk handed out but not committed.
func (s *sendStream) CancelUnsent() error {
	s.mu.Lock()
	canceled := s.out
	s.out = 0
	s.mu.Unlock()

	s.fill()
	if canceled > 0 {
		s.fabric.mu.Lock()
		s.fabric.stats.Canceled += uint64(canceled)
		s.fabric.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "sendStream.CancelUnsent",
			"stream":   s.name,
			"canceled": canceled,
		}).Debug("Canceled unsent chunks")
	}
	return nil
}

func (s *sendStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.busyLeft > 0 || s.out > 0 {
		if s.busyLeft > 0 {
			s.busyLeft--
		}
		return interfaces.ErrBusy
	}
	s.closed = true
	close(s.done)
	s.fabric.removeSender(s)
	return nil
}

type receiveStream struct {
	fabric   *Loopback
	name     string
	dest     netip.AddrPort
	capacity int
	notify   chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	flows    map[netip.Addr]struct{}
	queue    []interfaces.Packet
	busyLeft int
	closed   bool
}

// deliver queues p if its source matches an attached flow. ok is false when
// the queue was full.
func (r *receiveStream) deliver(p interfaces.Packet) (ok, matched bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, false
	}
	if _, found := r.flows[p.Source.Addr()]; !found {
		r.mu.Unlock()
		return false, false
	}
	if len(r.queue) >= r.capacity {
		r.mu.Unlock()
		return false, true
	}
	r.queue = append(r.queue, p)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true, true
}

func (r *receiveStream) NextChunk(minPackets, maxPackets int, timeout time.Duration) ([]interfaces.Packet, error) {
	if maxPackets < 1 {
		return nil, fmt.Errorf("%w: max packets %d", interfaces.ErrInvalidLayout, maxPackets)
	}
	var timer *time.Timer
	expired := false
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, interfaces.ErrClosed
		}
		if len(r.queue) >= minPackets || expired {
			n := len(r.queue)
			if n > maxPackets {
				n = maxPackets
			}
			out := make([]interfaces.Packet, n)
			copy(out, r.queue)
			r.queue = append(r.queue[:0], r.queue[n:]...)
			r.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return out, nil
		}
		r.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-r.notify:
		case <-timer.C:
			expired = true
		case <-r.done:
		}
	}
}

func (r *receiveStream) AttachFlow(f interfaces.Flow) error {
	if netip.AddrPortFrom(f.Destination, f.Port) != r.dest {
		return fmt.Errorf("%w: flow %s does not match %s", interfaces.ErrInvalidConfig, f, r.dest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return interfaces.ErrClosed
	}
	r.flows[f.Source] = struct{}{}
	logrus.WithFields(logrus.Fields{
		"function": "receiveStream.AttachFlow",
		"stream":   r.name,
		"flow":     f.String(),
	}).Debug("Flow attached")
	return nil
}

func (r *receiveStream) DetachFlow(f interfaces.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return interfaces.ErrClosed
	}
	delete(r.flows, f.Source)
	return nil
}

func (r *receiveStream) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if r.busyLeft > 0 {
		r.busyLeft--
		r.mu.Unlock()
		return interfaces.ErrBusy
	}
	r.closed = true
	r.queue = nil
	close(r.done)
	r.mu.Unlock()

	r.fabric.removeReceiver(r)
	return nil
}
