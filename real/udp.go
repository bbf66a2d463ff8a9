package real

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/limits"
	"github.com/opd-ai/aoip/sdp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// batchSize is the number of datagrams moved per WriteBatch/ReadBatch call.
const batchSize = 8

// UDPProvider implements interfaces.IStreamProvider on kernel UDP sockets.
// Send streams pace packets to their commit times on a sender goroutine;
// receive streams read directly in NextChunk.
type UDPProvider struct {
	mu     sync.Mutex
	config *interfaces.OffloadConfig
	clock  clock.TimeProvider
	ifi    *net.Interface
	closed bool
}

// NewUDPProvider creates a provider. The configured interface, if any, must
// exist.
func NewUDPProvider(config *interfaces.OffloadConfig) (*UDPProvider, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "NewUDPProvider",
		"interface": config.Interface,
		"ttl":       config.TTL,
		"dscp":      config.DSCP,
	}).Info("Creating UDP offload provider")

	p := &UDPProvider{config: config, clock: clock.SystemProvider{}}
	if config.Interface != "" {
		ifi, err := net.InterfaceByName(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %q: %v", interfaces.ErrInvalidConfig, config.Interface, err)
		}
		p.ifi = ifi
	}
	return p, nil
}

// SetTimeProvider replaces the clock used for pacing and arrival stamps
// (primarily for testing).
func (p *UDPProvider) SetTimeProvider(tp clock.TimeProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = tp
}

// Name implements IStreamProvider.
func (p *UDPProvider) Name() string { return interfaces.DriverUDP }

// IsSimulation implements IStreamProvider.
func (p *UDPProvider) IsSimulation() bool { return false }

// Close implements IStreamProvider. Open streams are unaffected.
func (p *UDPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *UDPProvider) snapshot() (clock.TimeProvider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, interfaces.ErrClosed
	}
	return p.clock, nil
}

// CreateSendStream implements IStreamProvider.
func (p *UDPProvider) CreateSendStream(sdpText string, layout interfaces.BufferLayout) (interfaces.ISendStream, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	info, _, err := sdp.DecodeDetailed(sdpText)
	if err != nil {
		return nil, fmt.Errorf("udp send stream: %w", err)
	}
	tp, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	c, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("udp send stream: %w", err)
	}
	conn := ipv4.NewPacketConn(c)
	if err := p.configureSender(conn, info.Destination); err != nil {
		conn.Close()
		return nil, err
	}

	s := &udpSendStream{
		name:   info.Name,
		conn:   conn,
		dest:   net.UDPAddrFromAddrPort(netip.AddrPortFrom(info.Destination, info.Port)),
		layout: layout,
		clock:  tp,
		free:   make(chan *interfaces.SendChunk, layout.Depth),
		queue:  make(chan pending, layout.Depth),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.fill()
	go s.run()

	logrus.WithFields(logrus.Fields{
		"function":    "UDPProvider.CreateSendStream",
		"stream":      info.Name,
		"destination": s.dest.String(),
		"depth":       layout.Depth,
	}).Info("UDP send stream created")
	return s, nil
}

func (p *UDPProvider) configureSender(conn *ipv4.PacketConn, dest netip.Addr) error {
	if err := conn.SetTOS(p.config.DSCP << 2); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPProvider.configureSender",
			"dscp":     p.config.DSCP,
			"error":    err.Error(),
		}).Warn("Failed to set DSCP")
	}
	if !dest.IsMulticast() {
		return nil
	}
	if err := conn.SetMulticastTTL(p.config.TTL); err != nil {
		return fmt.Errorf("udp send stream: multicast ttl: %w", err)
	}
	if err := conn.SetMulticastLoopback(p.config.MulticastLoopback); err != nil {
		return fmt.Errorf("udp send stream: multicast loopback: %w", err)
	}
	if p.ifi != nil {
		if err := conn.SetMulticastInterface(p.ifi); err != nil {
			return fmt.Errorf("udp send stream: multicast interface: %w", err)
		}
	}
	return nil
}

// CreateReceiveStream implements IStreamProvider. The socket is bound to the
// SDP port; AttachFlow joins the source-specific group.
func (p *UDPProvider) CreateReceiveStream(sdpText string, layout interfaces.BufferLayout) (interfaces.IReceiveStream, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	info, _, err := sdp.DecodeDetailed(sdpText)
	if err != nil {
		return nil, fmt.Errorf("udp receive stream: %w", err)
	}
	tp, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: reuseAddr}
	c, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", info.Port))
	if err != nil {
		return nil, fmt.Errorf("udp receive stream: %w", err)
	}
	conn := ipv4.NewPacketConn(c)

	bufSize := layout.MaxPacketSize()
	if bufSize < limits.MaxDatagram {
		bufSize = limits.MaxDatagram
	}
	r := &udpReceiveStream{
		name:  info.Name,
		conn:  conn,
		ifi:   p.ifi,
		dest:  info.Destination,
		port:  info.Port,
		clock: tp,
		flows: make(map[netip.Addr]struct{}),
		msgs:  make([]ipv4.Message, batchSize),
	}
	for i := range r.msgs {
		r.msgs[i].Buffers = [][]byte{make([]byte, bufSize)}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "UDPProvider.CreateReceiveStream",
		"stream":      info.Name,
		"destination": netip.AddrPortFrom(info.Destination, info.Port).String(),
	}).Info("UDP receive stream created")
	return r, nil
}

type pending struct {
	chunk *interfaces.SendChunk
	at    clock.Time
	gen   uint64
}

type udpSendStream struct {
	name   string
	conn   *ipv4.PacketConn
	dest   *net.UDPAddr
	layout interfaces.BufferLayout
	clock  clock.TimeProvider
	free   chan *interfaces.SendChunk
	queue  chan pending
	done   chan struct{}
	exited chan struct{}

	mu       sync.Mutex
	gen      uint64
	out      int
	inFlight int
	closed   bool
	sent     uint64
	errors   uint64
}

func (s *udpSendStream) fill() {
	maxPayload := s.layout.MaxPayloadSize
	if maxPayload == 0 {
		maxPayload = s.layout.PayloadSize
	}
	for len(s.free) < cap(s.free) {
		s.free <- interfaces.NewSendChunk(s.layout.HeaderSize, s.layout.PayloadSize, maxPayload)
	}
}

func (s *udpSendStream) release(c *interfaces.SendChunk) {
	select {
	case s.free <- c:
	default:
	}
}

func (s *udpSendStream) take() (*interfaces.SendChunk, error) {
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

func (s *udpSendStream) NextChunk() (*interfaces.SendChunk, error) {
	c, err := s.take()
	if err != nil {
		return nil, err
	}
	return c, c.Resize(s.layout.PayloadSize)
}

func (s *udpSendStream) NextDynamicChunk(payloadSize int) (*interfaces.SendChunk, error) {
	if payloadSize > s.layout.MaxPacketSize()-s.layout.HeaderSize {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrChunkSize, payloadSize)
	}
	c, err := s.take()
	if err != nil {
		return nil, err
	}
	return c, c.Resize(payloadSize)
}

func (s *udpSendStream) Commit(c *interfaces.SendChunk, at clock.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return interfaces.ErrClosed
	}
	if s.out > 0 {
		s.out--
	}
	gen := s.gen
	s.mu.Unlock()

	select {
	case s.queue <- pending{chunk: c, at: at, gen: gen}:
		return nil
	case <-s.done:
		return interfaces.ErrClosed
	}
}

// run sends queued chunks at their commit times, batching chunks that are
// already due.
func (s *udpSendStream) run() {
	defer close(s.exited)
	batch := make([]pending, 0, batchSize)
	msgs := make([]ipv4.Message, batchSize)
	for {
		var first pending
		select {
		case first = <-s.queue:
		case <-s.done:
			return
		}
		s.mu.Lock()
		s.inFlight++
		s.mu.Unlock()

		s.clock.SleepUntil(first.at)
		batch = append(batch[:0], first)
		now := s.clock.Now()
	gather:
		for len(batch) < batchSize {
			select {
			case p := <-s.queue:
				s.mu.Lock()
				s.inFlight++
				s.mu.Unlock()
				batch = append(batch, p)
				if p.at.After(now) {
					break gather
				}
			default:
				break gather
			}
		}
		s.send(batch, msgs)
	}
}

func (s *udpSendStream) send(batch []pending, msgs []ipv4.Message) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	n := 0
	for _, p := range batch {
		// A due-later chunk picked up while gathering waits here.
		s.clock.SleepUntil(p.at)
		if p.gen != gen {
			continue
		}
		msgs[n] = ipv4.Message{Buffers: [][]byte{p.chunk.Packet()}, Addr: s.dest}
		n++
	}
	var err error
	written := 0
	for written < n && err == nil {
		var w int
		w, err = s.conn.WriteBatch(msgs[written:n], 0)
		written += w
	}

	s.mu.Lock()
	s.sent += uint64(written)
	if err != nil {
		s.errors++
	}
	s.inFlight -= len(batch)
	s.mu.Unlock()
	for _, p := range batch {
		s.release(p.chunk)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "udpSendStream.send",
			"stream":   s.name,
			"written":  written,
			"batch":    n,
			"error":    err.Error(),
		}).Warn("UDP batch write failed")
	}
}

// CancelUnsent discards queued chunks and forgets chunks handed out but not
// committed.
func (s *udpSendStream) CancelUnsent() error {
	s.mu.Lock()
	s.gen++
	canceled := s.out
	s.out = 0
	s.mu.Unlock()

drain:
	for {
		select {
		case p := <-s.queue:
			canceled++
			s.release(p.chunk)
		default:
			break drain
		}
	}
	s.fill()
	logrus.WithFields(logrus.Fields{
		"function": "udpSendStream.CancelUnsent",
		"stream":   s.name,
		"canceled": canceled,
	}).Debug("Canceled unsent chunks")
	return nil
}

func (s *udpSendStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight > 0 || len(s.queue) > 0 {
		s.mu.Unlock()
		return interfaces.ErrBusy
	}
	s.closed = true
	close(s.done)
	sent, errs := s.sent, s.errors
	s.mu.Unlock()

	<-s.exited
	err := s.conn.Close()
	logrus.WithFields(logrus.Fields{
		"function": "udpSendStream.Close",
		"stream":   s.name,
		"sent":     sent,
		"errors":   errs,
	}).Info("UDP send stream closed")
	return err
}

type udpReceiveStream struct {
	name  string
	conn  *ipv4.PacketConn
	ifi   *net.Interface
	dest  netip.Addr
	port  uint16
	clock clock.TimeProvider
	msgs  []ipv4.Message

	mu      sync.Mutex
	flows   map[netip.Addr]struct{}
	reading bool
	closed  bool
}

func (r *udpReceiveStream) NextChunk(minPackets, maxPackets int, timeout time.Duration) ([]interfaces.Packet, error) {
	if maxPackets < 1 {
		return nil, fmt.Errorf("%w: max packets %d", interfaces.ErrInvalidLayout, maxPackets)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, interfaces.ErrClosed
	}
	r.reading = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.reading = false
		r.mu.Unlock()
	}()

	deadline := time.Now().Add(timeout)
	out := make([]interfaces.Packet, 0, maxPackets)
	for len(out) < maxPackets {
		if len(out) >= minPackets && len(out) > 0 {
			// Take whatever is already queued without waiting.
			deadline = time.Now()
		}
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			return out, err
		}
		want := maxPackets - len(out)
		if want > len(r.msgs) {
			want = len(r.msgs)
		}
		n, err := r.conn.ReadBatch(r.msgs[:want], 0)
		now := r.clock.Now()
		for i := 0; i < n; i++ {
			if p, ok := r.accept(&r.msgs[i], now); ok {
				out = append(out, p)
			}
		}
		if err != nil {
			if isTimeout(err) {
				return out, nil
			}
			return out, err
		}
		if len(out) >= minPackets && !time.Now().Before(deadline) {
			return out, nil
		}
	}
	return out, nil
}

// accept copies a datagram out of the batch buffer if its source is attached.
func (r *udpReceiveStream) accept(m *ipv4.Message, now clock.Time) (interfaces.Packet, bool) {
	ua, ok := m.Addr.(*net.UDPAddr)
	if !ok {
		return interfaces.Packet{}, false
	}
	src := ua.AddrPort()
	addr := src.Addr().Unmap()
	r.mu.Lock()
	_, attached := r.flows[addr]
	r.mu.Unlock()
	if !attached {
		return interfaces.Packet{}, false
	}
	data := append([]byte(nil), m.Buffers[0][:m.N]...)
	return interfaces.Packet{Data: data, Source: netip.AddrPortFrom(addr, src.Port()), Arrival: now}, true
}

func (r *udpReceiveStream) AttachFlow(f interfaces.Flow) error {
	if f.Destination != r.dest || f.Port != r.port {
		return fmt.Errorf("%w: flow %s does not match %s:%d", interfaces.ErrInvalidConfig, f, r.dest, r.port)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return interfaces.ErrClosed
	}
	if f.Destination.IsMulticast() {
		group := &net.UDPAddr{IP: f.Destination.AsSlice()}
		source := &net.UDPAddr{IP: f.Source.AsSlice()}
		if err := r.conn.JoinSourceSpecificGroup(r.ifi, group, source); err != nil {
			return fmt.Errorf("join %s: %w", f, err)
		}
	}
	r.flows[f.Source] = struct{}{}
	logrus.WithFields(logrus.Fields{
		"function": "udpReceiveStream.AttachFlow",
		"stream":   r.name,
		"flow":     f.String(),
	}).Info("Flow attached")
	return nil
}

func (r *udpReceiveStream) DetachFlow(f interfaces.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return interfaces.ErrClosed
	}
	if _, ok := r.flows[f.Source]; !ok {
		return nil
	}
	delete(r.flows, f.Source)
	if f.Destination.IsMulticast() {
		group := &net.UDPAddr{IP: f.Destination.AsSlice()}
		source := &net.UDPAddr{IP: f.Source.AsSlice()}
		if err := r.conn.LeaveSourceSpecificGroup(r.ifi, group, source); err != nil {
			return fmt.Errorf("leave %s: %w", f, err)
		}
	}
	return nil
}

func (r *udpReceiveStream) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if r.reading {
		r.mu.Unlock()
		return interfaces.ErrBusy
	}
	r.closed = true
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "udpReceiveStream.Close",
		"stream":   r.name,
	}).Info("UDP receive stream closed")
	return r.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
