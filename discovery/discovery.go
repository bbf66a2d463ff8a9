package discovery

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// EventKind distinguishes directory changes.
type EventKind uint8

const (
	// ServiceAdded reports a newly announced service.
	ServiceAdded EventKind = iota
	// ServiceRemoved reports a withdrawn or expired service.
	ServiceRemoved
	// ServiceUpdated reports a service whose SDP was replaced.
	ServiceUpdated
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case ServiceAdded:
		return "added"
	case ServiceRemoved:
		return "removed"
	case ServiceUpdated:
		return "updated"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one change observed by a backend.
type Event struct {
	Kind    EventKind
	Service stream.Service
}

// Backend announces local transmitters and reports remote services.
type Backend interface {
	AddTxService(info stream.Info, sdp string) error
	UpdateTxService(info stream.Info, sdp string) error
	RemoveTxService(name string) error
	// Poll drains the changes seen since the previous call.
	Poll() []Event
}

// Backend names accepted by New.
const (
	BackendDirectory = "directory"
	BackendLog       = "log"
)

// New builds the backends named in names. A single name yields that backend
// directly; several are wrapped in a Multi. ttl applies to directory entries.
func New(names []string, ttl time.Duration) (Backend, error) {
	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case BackendDirectory:
			backends = append(backends, NewDirectory(ttl))
		case BackendLog:
			backends = append(backends, Logger{})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"backends": names,
		"ttl":      ttl,
	}).Info("Created discovery backends")

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMulti(backends...), nil
}

// Subscribe gives a consumer its own view of b. A Directory yields a
// Subscription, a Multi yields a Multi of its subscribed children, and any
// other backend is returned unchanged. Close the result when done if it
// implements io.Closer.
func Subscribe(b Backend) Backend {
	switch v := b.(type) {
	case *Directory:
		return v.Subscribe()
	case *Multi:
		children := make([]Backend, len(v.backends))
		for i, child := range v.backends {
			children[i] = Subscribe(child)
		}
		return NewMulti(children...)
	default:
		return b
	}
}

// Multi fans announcements out to several backends and merges their events.
type Multi struct {
	backends []Backend
}

// NewMulti composes backends. Calls visit them in order.
func NewMulti(backends ...Backend) *Multi {
	return &Multi{backends: backends}
}

// AddTxService announces on every backend and joins their errors.
func (m *Multi) AddTxService(info stream.Info, sdp string) error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.AddTxService(info, sdp))
	}
	return errors.Join(errs...)
}

// UpdateTxService updates every backend and joins their errors.
func (m *Multi) UpdateTxService(info stream.Info, sdp string) error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.UpdateTxService(info, sdp))
	}
	return errors.Join(errs...)
}

// RemoveTxService withdraws from every backend and joins their errors.
func (m *Multi) RemoveTxService(name string) error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.RemoveTxService(name))
	}
	return errors.Join(errs...)
}

// Poll concatenates the events of all backends.
func (m *Multi) Poll() []Event {
	var events []Event
	for _, b := range m.backends {
		events = append(events, b.Poll()...)
	}
	return events
}

// Close closes every backend that implements io.Closer and joins their
// errors.
func (m *Multi) Close() error {
	var errs []error
	for _, b := range m.backends {
		if c, ok := b.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Logger is a backend that only logs announcements. It never reports
// remote services.
type Logger struct{}

// AddTxService logs the announcement.
func (Logger) AddTxService(info stream.Info, sdp string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Logger.AddTxService",
		"name":     info.Name,
		"kind":     info.Kind.String(),
		"group":    info.Destination.String(),
		"port":     info.Port,
	}).Info("Announcing transmitter")
	logrus.WithFields(logrus.Fields{
		"function": "Logger.AddTxService",
		"name":     info.Name,
		"sdp":      sdp,
	}).Debug("Transmitter SDP")
	return nil
}

// UpdateTxService logs the update.
func (Logger) UpdateTxService(info stream.Info, sdp string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Logger.UpdateTxService",
		"name":     info.Name,
	}).Debug("Updating transmitter announcement")
	return nil
}

// RemoveTxService logs the withdrawal.
func (Logger) RemoveTxService(name string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Logger.RemoveTxService",
		"name":     name,
	}).Info("Withdrawing transmitter")
	return nil
}

// Poll returns nothing.
func (Logger) Poll() []Event { return nil }
