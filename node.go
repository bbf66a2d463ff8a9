package aoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/aoip/av"
	"github.com/opd-ai/aoip/clock"
	"github.com/opd-ai/aoip/config"
	"github.com/opd-ai/aoip/discovery"
	"github.com/opd-ai/aoip/interfaces"
	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// IterationInterval is how often Run polls the discovery backends.
const IterationInterval = 50 * time.Millisecond

// DefaultRefreshInterval is how often Iterate re-announces local
// transmitters when the configured discovery TTL is zero.
const DefaultRefreshInterval = 10 * time.Second

// engine is what the node needs from a Transmitter or Receiver.
type engine interface {
	av.Engine
	Info() stream.Info
	Reconfigure(info stream.Info) error
	Start() error
	Stop() error
	Close() error
	Done() <-chan struct{}
	Err() error
}

type entry struct {
	eng    engine
	tx     *av.Transmitter
	rx     *av.Receiver
	closer io.Closer
}

// ServiceCallback is called for discovery changes of remote services.
type ServiceCallback func(svc stream.Service)

// Node owns the time base, the clock domain and every engine of one device.
// It announces its transmitters to the discovery backends and collects the
// services other devices announce.
type Node struct {
	mu       sync.RWMutex
	cfg      config.Config
	base     *clock.Base
	domain   stream.ClockDomain
	provider interfaces.IStreamProvider
	backends []discovery.Backend
	stats    *av.StatsAggregator

	streams  map[string]*entry
	services map[string]stream.Service

	onServiceAdded   ServiceCallback
	onServiceRemoved ServiceCallback
	onServiceUpdated ServiceCallback

	refreshEvery time.Duration
	lastRefresh  time.Time

	running bool
	closed  bool
}

// NewNode creates a node on the system clock. The clock section of cfg
// selects the TAI offset; the node takes ownership of provider.
func NewNode(cfg *config.Config, provider interfaces.IStreamProvider, backends ...discovery.Backend) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	base, err := clock.New(cfg.Clock.Options()...)
	if err != nil {
		return nil, fmt.Errorf("%w: time base: %w", ErrInvalidConfig, err)
	}
	return NewNodeWithBase(cfg, base, provider, backends...)
}

// NewNodeWithBase creates a node on an existing time base.
func NewNodeWithBase(cfg *config.Config, base *clock.Base, provider interfaces.IStreamProvider, backends ...discovery.Backend) (*Node, error) {
	if cfg == nil || base == nil || provider == nil {
		return nil, fmt.Errorf("%w: config, time base and provider are required", ErrInvalidConfig)
	}

	// Each node polls its own view so nodes sharing a backend all see every
	// event.
	views := make([]discovery.Backend, len(backends))
	for i, b := range backends {
		views[i] = discovery.Subscribe(b)
	}

	n := &Node{
		cfg:          *cfg,
		base:         base,
		domain:       stream.ClockDomain{GrandmasterID: cfg.ClockDomain.GrandmasterID, Domain: uint8(cfg.ClockDomain.Domain)},
		provider:     provider,
		backends:     views,
		streams:      make(map[string]*entry),
		services:     make(map[string]stream.Service),
		refreshEvery: refreshInterval(cfg.Discovery.TTL),
		lastRefresh:  time.Now(),
	}
	if cfg.Engine.StatsInterval > 0 {
		n.stats = av.NewStatsAggregator(cfg.Engine.StatsInterval)
		n.stats.OnReport(n.logReport)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewNodeWithBase",
		"provider":    provider.Name(),
		"simulation":  provider.IsSimulation(),
		"backends":    len(backends),
		"grandmaster": n.domain.GrandmasterID,
		"domain":      n.domain.Domain,
	}).Info("Node created")
	return n, nil
}

// Base returns the node's time base.
func (n *Node) Base() *clock.Base {
	return n.base
}

// ClockDomain returns the PTP domain announced in every transmitter's SDP.
func (n *Node) ClockDomain() stream.ClockDomain {
	return n.domain
}

// OnServiceAdded registers a callback for newly discovered remote services.
func (n *Node) OnServiceAdded(cb ServiceCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onServiceAdded = cb
}

// OnServiceRemoved registers a callback for withdrawn or expired services.
func (n *Node) OnServiceRemoved(cb ServiceCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onServiceRemoved = cb
}

// OnServiceUpdated registers a callback for services whose SDP changed.
func (n *Node) OnServiceUpdated(cb ServiceCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onServiceUpdated = cb
}

// AddTransmitter creates a transmitter and announces its SDP. Base, Provider
// and Clock are filled in by the node; zero engine tunables take the node's
// configured values. If the node is running the transmitter starts at once.
func (n *Node) AddTransmitter(tc av.TransmitterConfig) (*av.Transmitter, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	if _, exists := n.streams[tc.Info.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, tc.Info.Name)
	}

	tc.Base, tc.Provider, tc.Clock = n.base, n.provider, n.domain
	if tc.TeardownRetries == 0 {
		tc.TeardownRetries = n.cfg.Engine.TeardownRetries
	}
	if tc.MaxPacketSize == 0 {
		tc.MaxPacketSize = n.cfg.Engine.MaxPacketSize
	}
	if tc.RealtimePriority == 0 {
		tc.RealtimePriority = n.cfg.Clock.RealtimePriority
	}

	tx, err := av.NewTransmitter(tc)
	if err != nil {
		return nil, err
	}
	e := &entry{eng: tx, tx: tx}
	if err := n.addLocked(e); err != nil {
		return nil, errors.Join(err, tx.Close())
	}

	info := tx.Info()
	for _, b := range n.backends {
		if err := b.AddTxService(info, tx.SDP()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.AddTransmitter",
				"stream":   info.Name,
				"error":    err.Error(),
			}).Warn("Failed to announce transmitter")
		}
	}
	return tx, nil
}

// AddReceiver creates a receiver for a discovered service. The service's
// stream parameters and clock domain override rc.Info and rc.Clock.
func (n *Node) AddReceiver(svc stream.Service, rc av.ReceiverConfig) (*av.Receiver, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	if _, exists := n.streams[svc.Info.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, svc.Info.Name)
	}

	rc.Info, rc.Clock = svc.Info.Clone(), svc.Clock
	rc.Base, rc.Provider = n.base, n.provider
	e := n.cfg.Engine
	if rc.TeardownRetries == 0 {
		rc.TeardownRetries = e.TeardownRetries
	}
	if rc.BlockFrames == 0 && rc.Ring == nil {
		rc.BlockFrames = e.ReceiveBlockFrames
	}
	if rc.MinPacketsPerWait == 0 {
		rc.MinPacketsPerWait = e.MinPacketsPerWait
	}
	if rc.MaxPacketsPerWait == 0 {
		rc.MaxPacketsPerWait = e.MaxPacketsPerWait
	}
	if rc.RealtimePriority == 0 {
		rc.RealtimePriority = n.cfg.Clock.RealtimePriority
	}

	rx, err := av.NewReceiver(rc)
	if err != nil {
		return nil, err
	}
	if err := n.addLocked(&entry{eng: rx, rx: rx}); err != nil {
		return nil, errors.Join(err, rx.Close())
	}
	return rx, nil
}

// AddReceiverFromSDP decodes text and adds a receiver for it.
func (n *Node) AddReceiverFromSDP(text string, rc av.ReceiverConfig) (*av.Receiver, error) {
	svc, ok := sdp.DecodeService(text)
	if !ok {
		return nil, fmt.Errorf("%w: undecodable SDP", av.ErrInvalidStream)
	}
	return n.AddReceiver(svc, rc)
}

// addLocked registers e and starts it if the node is running.
func (n *Node) addLocked(e *entry) error {
	name := e.eng.Name()
	if n.running {
		if err := startEngine(e.eng); err != nil {
			return err
		}
	}
	n.streams[name] = e
	if n.stats != nil {
		n.stats.Track(e.eng)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Node.addLocked",
		"stream":      name,
		"transmitter": e.tx != nil,
		"running":     n.running,
	}).Info("Stream added")
	return nil
}

// attachCloser ties c to the named stream; it is closed after the engine.
func (n *Node) attachCloser(name string, c io.Closer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.streams[name]; ok {
		e.closer = c
	}
}

// RemoveStream closes the named engine and withdraws its announcement.
func (n *Node) RemoveStream(name string) error {
	n.mu.Lock()
	e, ok := n.streams[name]
	if !ok {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	delete(n.streams, name)
	if n.stats != nil {
		n.stats.Untrack(name)
	}
	n.mu.Unlock()

	return n.closeEntry(name, e)
}

func (n *Node) closeEntry(name string, e *entry) error {
	err := e.eng.Close()
	if e.tx != nil {
		for _, b := range n.backends {
			if rerr := b.RemoveTxService(name); rerr != nil && !errors.Is(rerr, discovery.ErrServiceNotFound) {
				err = errors.Join(err, rerr)
			}
		}
	}
	if e.closer != nil {
		err = errors.Join(err, e.closer.Close())
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.closeEntry",
		"stream":   name,
	}).Info("Stream removed")
	return err
}

// ReconfigureTransmitter stops the named transmitter, applies info and
// re-announces it. A running node restarts it.
func (n *Node) ReconfigureTransmitter(name string, info stream.Info) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.streams[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}
	if e.tx == nil {
		return fmt.Errorf("%w: %s", ErrNotTransmitter, name)
	}
	if info.Name != name {
		return fmt.Errorf("%w: cannot rename %s to %s", av.ErrInvalidStream, name, info.Name)
	}
	if err := e.tx.Stop(); err != nil {
		return err
	}
	if err := e.tx.Reconfigure(info); err != nil {
		return err
	}
	for _, b := range n.backends {
		if err := b.UpdateTxService(e.tx.Info(), e.tx.SDP()); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.ReconfigureTransmitter",
				"stream":   name,
				"error":    err.Error(),
			}).Warn("Failed to update announcement")
		}
	}
	if n.running {
		return e.tx.Start()
	}
	return nil
}

// Transmitter returns the named transmitter.
func (n *Node) Transmitter(name string) (*av.Transmitter, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.streams[name]
	if !ok || e.tx == nil {
		return nil, false
	}
	return e.tx, true
}

// Receiver returns the named receiver.
func (n *Node) Receiver(name string) (*av.Receiver, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.streams[name]
	if !ok || e.rx == nil {
		return nil, false
	}
	return e.rx, true
}

// Streams returns the names of the node's engines in sorted order.
func (n *Node) Streams() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.streams))
	for name := range n.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the counters of the named stream.
func (n *Node) Stats(name string) (av.Stats, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.streams[name]
	if !ok {
		return av.Stats{}, false
	}
	return e.eng.Stats(), true
}

// Start starts every engine concurrently. Engines left Stopped by an earlier
// Stop are prepared again first. If any engine fails to start, the ones that
// did start are stopped again and the error is returned.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.running {
		return nil
	}

	var g errgroup.Group
	for _, e := range n.streams {
		eng := e.eng
		g.Go(func() error { return startEngine(eng) })
	}
	if err := g.Wait(); err != nil {
		stopErr := n.stopEnginesLocked()
		logrus.WithFields(logrus.Fields{
			"function": "Node.Start",
			"error":    err.Error(),
		}).Error("Failed to start node")
		return errors.Join(err, stopErr)
	}
	if n.stats != nil {
		if err := n.stats.Start(); err != nil && !errors.Is(err, av.ErrAlreadyRunning) {
			return err
		}
	}
	n.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Node.Start",
		"streams":  len(n.streams),
	}).Info("Node started")
	return nil
}

func startEngine(eng engine) error {
	if eng.State() == av.StateStopped {
		if err := eng.Reconfigure(eng.Info()); err != nil {
			return fmt.Errorf("stream %s: %w", eng.Name(), err)
		}
	}
	return eng.Start()
}

func (n *Node) stopEnginesLocked() error {
	var g errgroup.Group
	errs := make([]error, 0, len(n.streams))
	var mu sync.Mutex
	for _, e := range n.streams {
		eng := e.eng
		g.Go(func() error {
			if err := eng.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop stops every engine concurrently and waits for all of them.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	err := n.stopEnginesLocked()
	if n.stats != nil {
		n.stats.Stop()
	}
	n.running = false

	logrus.WithFields(logrus.Fields{
		"function": "Node.Stop",
		"streams":  len(n.streams),
	}).Info("Node stopped")
	return err
}

// IsRunning reports whether Start has been called without a matching Stop.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Close stops the node, closes every engine, withdraws announcements and
// closes the provider.
func (n *Node) Close() error {
	err := n.Stop()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return err
	}
	n.closed = true
	streams := n.streams
	n.streams = make(map[string]*entry)
	n.mu.Unlock()

	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err = errors.Join(err, n.closeEntry(name, streams[name]))
	}
	for _, b := range n.backends {
		if c, ok := b.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	}
	err = errors.Join(err, n.provider.Close())

	logrus.WithFields(logrus.Fields{
		"function": "Node.Close",
		"streams":  len(names),
	}).Info("Node closed")
	return err
}

// Services returns the remote services seen so far, sorted by name.
// Announcements of the node's own transmitters are not included.
func (n *Node) Services() []stream.Service {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]stream.Service, 0, len(n.services))
	for _, svc := range n.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}

// Service returns the remote service announced under name.
func (n *Node) Service(name string) (stream.Service, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	svc, ok := n.services[name]
	return svc, ok
}

// refreshInterval re-announces three times per TTL so one missed refresh
// does not expire the entry.
func refreshInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultRefreshInterval
	}
	return ttl / 3
}

// Iterate re-announces local transmitters when their refresh is due, polls
// every discovery backend once and dispatches the changes to the registered
// callbacks.
func (n *Node) Iterate() {
	n.refreshAnnouncements()

	var events []discovery.Event
	for _, b := range n.backends {
		events = append(events, b.Poll()...)
	}
	if len(events) == 0 {
		return
	}

	type dispatch struct {
		cb  ServiceCallback
		svc stream.Service
	}
	var pending []dispatch

	n.mu.Lock()
	for _, ev := range events {
		name := ev.Service.Info.Name
		if e, local := n.streams[name]; local && e.tx != nil {
			continue
		}
		switch ev.Kind {
		case discovery.ServiceAdded:
			n.services[name] = ev.Service
			pending = append(pending, dispatch{n.onServiceAdded, ev.Service})
		case discovery.ServiceUpdated:
			n.services[name] = ev.Service
			pending = append(pending, dispatch{n.onServiceUpdated, ev.Service})
		case discovery.ServiceRemoved:
			svc, known := n.services[name]
			if !known {
				continue
			}
			delete(n.services, name)
			pending = append(pending, dispatch{n.onServiceRemoved, svc})
		}
	}
	n.mu.Unlock()

	for _, d := range pending {
		if d.cb != nil {
			d.cb(d.svc)
		}
	}
}

// refreshAnnouncements renews the TTL of every local transmitter's
// announcement, re-adding entries that already expired.
func (n *Node) refreshAnnouncements() {
	now := time.Now()
	n.mu.Lock()
	if now.Sub(n.lastRefresh) < n.refreshEvery {
		n.mu.Unlock()
		return
	}
	n.lastRefresh = now
	var txs []*av.Transmitter
	for _, e := range n.streams {
		if e.tx != nil {
			txs = append(txs, e.tx)
		}
	}
	n.mu.Unlock()

	for _, tx := range txs {
		info, text := tx.Info(), tx.SDP()
		for _, b := range n.backends {
			err := b.UpdateTxService(info, text)
			if errors.Is(err, discovery.ErrServiceNotFound) {
				err = b.AddTxService(info, text)
			}
			if err != nil && !errors.Is(err, discovery.ErrServiceExists) {
				logrus.WithFields(logrus.Fields{
					"function": "Node.refreshAnnouncements",
					"stream":   info.Name,
					"error":    err.Error(),
				}).Warn("Failed to refresh announcement")
			}
		}
	}
}

// Run starts the node and supervises it until ctx is canceled or an engine
// ends with an error. Discovery is polled every IterationInterval. The node
// is stopped, not closed, on return.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(IterationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n.Iterate()
			}
		}
	})

	n.mu.RLock()
	for name, e := range n.streams {
		name, eng := name, e.eng
		done := eng.Done()
		if done == nil {
			continue
		}
		g.Go(func() error {
			select {
			case <-done:
				if err := eng.Err(); err != nil {
					return fmt.Errorf("stream %s: %w", name, err)
				}
				return nil
			case <-gctx.Done():
				return nil
			}
		})
	}
	n.mu.RUnlock()

	err := g.Wait()
	return errors.Join(err, n.Stop())
}

func (n *Node) logReport(report av.AggregatedReport) {
	fields := logrus.Fields{
		"function": "Node.logReport",
		"streams":  report.System.ActiveStreams,
		"packets":  report.System.Packets,
		"resyncs":  report.System.Resyncs,
		"errors":   report.System.Errors,
		"overall":  report.Overall.String(),
	}
	if report.Overall == av.HealthGood || report.Overall == av.HealthIdle {
		logrus.WithFields(fields).Debug("Node statistics")
		return
	}
	logrus.WithFields(fields).Warn("Node statistics")
}
