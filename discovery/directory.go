package discovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/aoip/sdp"
	"github.com/opd-ai/aoip/stream"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// maxPendingEvents bounds every event queue; the oldest events are dropped
// when a consumer stops polling.
const maxPendingEvents = 1024

// Directory is an in-process service registry. Announced SDP is decoded
// before it is stored, and entries expire after the TTL unless refreshed by
// UpdateTxService. Several nodes in one process may share a Directory, each
// through its own Subscription so that every node sees every event.
type Directory struct {
	mu     sync.Mutex
	cache  *cache.Cache
	ttl    time.Duration
	events eventQueue
	subs   map[*Subscription]struct{}
}

// NewDirectory creates a directory. A ttl of zero or less disables expiry.
// Expired entries are reaped on Poll and Services.
func NewDirectory(ttl time.Duration) *Directory {
	exp := ttl
	if ttl <= 0 {
		exp = cache.NoExpiration
	}
	d := &Directory{cache: cache.New(exp, 0), ttl: ttl, subs: make(map[*Subscription]struct{})}
	d.cache.OnEvicted(d.evicted)
	return d
}

func (d *Directory) decode(info stream.Info, text string) (stream.Service, error) {
	svc, ok := sdp.DecodeService(text)
	if !ok {
		return stream.Service{}, fmt.Errorf("%w: %s", ErrInvalidSDP, info.Name)
	}
	if svc.Info.Name != info.Name {
		return stream.Service{}, fmt.Errorf("%w: %q vs %q", ErrNameMismatch, svc.Info.Name, info.Name)
	}
	return svc, nil
}

// AddTxService decodes and stores a new service.
func (d *Directory) AddTxService(info stream.Info, text string) error {
	svc, err := d.decode(info, text)
	if err != nil {
		return err
	}
	if err := d.cache.Add(info.Name, svc, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrServiceExists, info.Name)
	}
	d.push(Event{Kind: ServiceAdded, Service: svc})

	logrus.WithFields(logrus.Fields{
		"function": "Directory.AddTxService",
		"name":     info.Name,
		"kind":     svc.Info.Kind.String(),
	}).Debug("Service added to directory")
	return nil
}

// UpdateTxService replaces a stored service and refreshes its TTL. An
// unchanged SDP only refreshes the TTL and emits no event.
func (d *Directory) UpdateTxService(info stream.Info, text string) error {
	svc, err := d.decode(info, text)
	if err != nil {
		return err
	}
	prev, found := d.Lookup(info.Name)
	if err := d.cache.Replace(info.Name, svc, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, info.Name)
	}
	if found && prev.SDP == svc.SDP {
		return nil
	}
	d.push(Event{Kind: ServiceUpdated, Service: svc})
	return nil
}

// RemoveTxService withdraws a service. The removal event is emitted by the
// eviction hook.
func (d *Directory) RemoveTxService(name string) error {
	if _, ok := d.cache.Get(name); !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	d.cache.Delete(name)
	return nil
}

// Lookup returns the service announced under name.
func (d *Directory) Lookup(name string) (stream.Service, bool) {
	v, ok := d.cache.Get(name)
	if !ok {
		return stream.Service{}, false
	}
	return v.(stream.Service), true
}

// Services returns the live services sorted by name.
func (d *Directory) Services() []stream.Service {
	d.cache.DeleteExpired()
	return d.snapshot()
}

func (d *Directory) snapshot() []stream.Service {
	items := d.cache.Items()
	out := make([]stream.Service, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(stream.Service))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}

// Poll reaps expired entries and drains the directory's own event queue.
// Consumers sharing the directory should poll a Subscription instead.
func (d *Directory) Poll() []Event {
	d.cache.DeleteExpired()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events.drain()
}

// Subscribe returns a view of the directory with a private event queue. The
// queue starts with a ServiceAdded event for every live entry.
func (d *Directory) Subscribe() *Subscription {
	s := &Subscription{dir: d}
	d.cache.DeleteExpired()

	// Holding mu orders the snapshot before any later push.
	d.mu.Lock()
	current := d.snapshot()
	for _, svc := range current {
		s.events.push(Event{Kind: ServiceAdded, Service: svc})
	}
	d.subs[s] = struct{}{}
	subscribers := len(d.subs)
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Directory.Subscribe",
		"services":    len(current),
		"subscribers": subscribers,
	}).Debug("Directory subscription opened")
	return s
}

func (d *Directory) push(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events.push(ev)
	for s := range d.subs {
		if s.events.push(ev) {
			logrus.WithFields(logrus.Fields{
				"function": "Directory.push",
				"name":     ev.Service.Info.Name,
				"kind":     ev.Kind.String(),
			}).Warn("Subscription queue full, dropped oldest event")
		}
	}
}

func (d *Directory) evicted(name string, v interface{}) {
	svc, _ := v.(stream.Service)
	d.push(Event{Kind: ServiceRemoved, Service: svc})

	logrus.WithFields(logrus.Fields{
		"function": "Directory.evicted",
		"name":     name,
	}).Debug("Service removed from directory")
}

// Subscription is one consumer's view of a shared Directory. Announcements go
// to the directory; Poll drains only this subscription's queue.
type Subscription struct {
	dir    *Directory
	events eventQueue
}

// AddTxService announces on the underlying directory.
func (s *Subscription) AddTxService(info stream.Info, text string) error {
	return s.dir.AddTxService(info, text)
}

// UpdateTxService updates the underlying directory.
func (s *Subscription) UpdateTxService(info stream.Info, text string) error {
	return s.dir.UpdateTxService(info, text)
}

// RemoveTxService withdraws from the underlying directory.
func (s *Subscription) RemoveTxService(name string) error {
	return s.dir.RemoveTxService(name)
}

// Poll reaps expired directory entries and drains this subscription's
// events.
func (s *Subscription) Poll() []Event {
	s.dir.cache.DeleteExpired()

	s.dir.mu.Lock()
	defer s.dir.mu.Unlock()
	return s.events.drain()
}

// Close detaches the subscription. Later events are not queued.
func (s *Subscription) Close() error {
	s.dir.mu.Lock()
	delete(s.dir.subs, s)
	s.events.drain()
	s.dir.mu.Unlock()
	return nil
}

// eventQueue is a bounded FIFO. The owner provides locking.
type eventQueue struct {
	items []Event
}

// push appends ev and reports whether the oldest event was dropped.
func (q *eventQueue) push(ev Event) bool {
	dropped := false
	if len(q.items) >= maxPendingEvents {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, ev)
	return dropped
}

func (q *eventQueue) drain() []Event {
	out := q.items
	q.items = nil
	return out
}
