package av

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when trying to start an already running service.
var ErrAlreadyRunning = errors.New("service is already running")

// Health grades one stream over the last sample interval.
type Health uint8

const (
	// HealthGood means packets flowed without resyncs, gaps or errors.
	HealthGood Health = iota
	// HealthDegraded means the stream recovered from anomalies in the interval.
	HealthDegraded
	// HealthStalled means a running stream moved no packets in the interval.
	HealthStalled
	// HealthIdle means the engine is not running.
	HealthIdle
)

// String returns the health name.
func (h Health) String() string {
	switch h {
	case HealthGood:
		return "good"
	case HealthDegraded:
		return "degraded"
	case HealthStalled:
		return "stalled"
	case HealthIdle:
		return "idle"
	default:
		return fmt.Sprintf("Health(%d)", uint8(h))
	}
}

// Sub returns the field-wise difference s - o.
func (s Stats) Sub(o Stats) Stats {
	return Stats{
		Packets:      s.Packets - o.Packets,
		Bytes:        s.Bytes - o.Bytes,
		Resyncs:      s.Resyncs - o.Resyncs,
		Callbacks:    s.Callbacks - o.Callbacks,
		Errors:       s.Errors - o.Errors,
		Messages:     s.Messages - o.Messages,
		Underruns:    s.Underruns - o.Underruns,
		Dropped:      s.Dropped - o.Dropped,
		SequenceGaps: s.SequenceGaps - o.SequenceGaps,
		Duplicates:   s.Duplicates - o.Duplicates,
		Reordered:    s.Reordered - o.Reordered,
		Rejected:     s.Rejected - o.Rejected,
		RingDropped:  s.RingDropped - o.RingDropped,

		SourceRestarts: s.SourceRestarts - o.SourceRestarts,
	}
}

// StreamReport is one sample of one engine.
type StreamReport struct {
	Name      string
	State     State
	Stats     Stats
	Delta     Stats
	Health    Health
	Timestamp time.Time
}

// StreamHistory keeps a rolling window of samples for one stream.
type StreamHistory struct {
	Name       string
	Current    StreamReport
	History    []StreamReport
	MaxHistory int
}

// SystemStats are node-wide totals over the tracked engines.
type SystemStats struct {
	ActiveStreams int
	TotalStreams  uint64

	Packets uint64
	Bytes   uint64
	Resyncs uint64
	Errors  uint64

	Degraded int
	Stalled  int

	LastUpdate time.Time
}

// AggregatedReport contains aggregated metrics for periodic reporting.
type AggregatedReport struct {
	System         SystemStats
	Streams        map[string]StreamReport
	Overall        Health
	Timestamp      time.Time
	ReportDuration time.Duration
}

// StatsAggregator samples the counters of tracked engines on an interval,
// grades each stream and reports node-wide totals.
//
// Example usage:
//
//	aggregator := NewStatsAggregator(5 * time.Second)
//	aggregator.Track(tx)
//	aggregator.OnReport(func(report AggregatedReport) {
//	    fmt.Printf("%d streams, overall %s\n", report.System.ActiveStreams, report.Overall)
//	})
//	aggregator.Start()
//	defer aggregator.Stop()
type StatsAggregator struct {
	reportInterval time.Duration

	mu      sync.RWMutex
	running bool

	engines map[string]Engine
	history map[string]*StreamHistory
	system  SystemStats

	reportCallback func(report AggregatedReport)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const defaultMaxHistory = 60

// NewStatsAggregator creates an aggregator reporting every reportInterval.
func NewStatsAggregator(reportInterval time.Duration) *StatsAggregator {
	logrus.WithFields(logrus.Fields{
		"function":        "NewStatsAggregator",
		"report_interval": reportInterval,
	}).Info("Creating stats aggregator")

	return &StatsAggregator{
		reportInterval: reportInterval,
		engines:        make(map[string]Engine),
		history:        make(map[string]*StreamHistory),
	}
}

// Start begins periodic sampling.
func (sa *StatsAggregator) Start() error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.running {
		return ErrAlreadyRunning
	}
	if sa.reportInterval <= 0 {
		return fmt.Errorf("%w: report interval %s", ErrInvalidConfig, sa.reportInterval)
	}
	sa.running = true
	sa.ctx, sa.cancel = context.WithCancel(context.Background())
	sa.wg.Add(1)
	go sa.reportLoop(sa.ctx)

	logrus.WithFields(logrus.Fields{
		"function": "StatsAggregator.Start",
		"interval": sa.reportInterval,
	}).Info("Stats aggregator started")
	return nil
}

// Stop halts sampling and waits for the report loop to exit.
func (sa *StatsAggregator) Stop() {
	sa.mu.Lock()
	if !sa.running {
		sa.mu.Unlock()
		return
	}
	sa.running = false
	sa.cancel()
	sa.mu.Unlock()

	sa.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "StatsAggregator.Stop",
	}).Info("Stats aggregator stopped")
}

// IsRunning returns whether the aggregator is currently active.
func (sa *StatsAggregator) IsRunning() bool {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.running
}

// OnReport registers a callback for periodic aggregated reports. The
// callback runs on the report goroutine.
func (sa *StatsAggregator) OnReport(callback func(report AggregatedReport)) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.reportCallback = callback
}

// Track starts sampling e. A second engine with the same name replaces the first.
func (sa *StatsAggregator) Track(e Engine) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	name := e.Name()
	sa.engines[name] = e
	if _, exists := sa.history[name]; !exists {
		sa.history[name] = &StreamHistory{
			Name:       name,
			History:    make([]StreamReport, 0, defaultMaxHistory),
			MaxHistory: defaultMaxHistory,
		}
		sa.history[name].Current.Stats = e.Stats()
	}
	sa.system.TotalStreams++
	sa.system.ActiveStreams = len(sa.engines)

	logrus.WithFields(logrus.Fields{
		"function": "StatsAggregator.Track",
		"stream":   name,
	}).Debug("Tracking stream")
}

// Untrack stops sampling the named engine and drops its history.
func (sa *StatsAggregator) Untrack(name string) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	delete(sa.engines, name)
	delete(sa.history, name)
	sa.system.ActiveStreams = len(sa.engines)
}

// Sample takes one sample of every tracked engine now and returns the report.
func (sa *StatsAggregator) Sample() AggregatedReport {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	now := time.Now()
	report := AggregatedReport{
		Streams:        make(map[string]StreamReport, len(sa.engines)),
		Timestamp:      now,
		ReportDuration: sa.reportInterval,
	}

	sys := SystemStats{TotalStreams: sa.system.TotalStreams, ActiveStreams: len(sa.engines), LastUpdate: now}
	for name, e := range sa.engines {
		h := sa.history[name]
		cur := StreamReport{Name: name, State: e.State(), Stats: e.Stats(), Timestamp: now}
		cur.Delta = cur.Stats.Sub(h.Current.Stats)
		cur.Health = grade(cur)

		h.Current = cur
		h.History = append(h.History, cur)
		if len(h.History) > h.MaxHistory {
			h.History = h.History[1:]
		}

		sys.Packets += cur.Stats.Packets
		sys.Bytes += cur.Stats.Bytes
		sys.Resyncs += cur.Stats.Resyncs
		sys.Errors += cur.Stats.Errors
		switch cur.Health {
		case HealthDegraded:
			sys.Degraded++
		case HealthStalled:
			sys.Stalled++
		}
		report.Streams[name] = cur
	}
	sa.system = sys
	report.System = sys
	report.Overall = overall(sys)
	return report
}

func grade(r StreamReport) Health {
	if r.State != StateRunning {
		return HealthIdle
	}
	d := r.Delta
	if d.Packets == 0 {
		return HealthStalled
	}
	if d.Resyncs+d.SequenceGaps+d.Errors+d.Underruns+d.Dropped+d.RingDropped > 0 {
		return HealthDegraded
	}
	return HealthGood
}

func overall(s SystemStats) Health {
	switch {
	case s.ActiveStreams == 0:
		return HealthIdle
	case s.Stalled > 0:
		return HealthStalled
	case s.Degraded > 0:
		return HealthDegraded
	default:
		return HealthGood
	}
}

// GetSystemStats returns the totals of the last sample.
func (sa *StatsAggregator) GetSystemStats() SystemStats {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.system
}

// GetHistory returns a copy of the samples kept for name, or nil.
func (sa *StatsAggregator) GetHistory(name string) []StreamReport {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	h, exists := sa.history[name]
	if !exists {
		return nil
	}
	out := make([]StreamReport, len(h.History))
	copy(out, h.History)
	return out
}

// GetActiveStreamCount returns the number of tracked engines.
func (sa *StatsAggregator) GetActiveStreamCount() int {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return len(sa.engines)
}

// GetTotalStreamCount returns the number of Track calls since creation.
func (sa *StatsAggregator) GetTotalStreamCount() uint64 {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return sa.system.TotalStreams
}

func (sa *StatsAggregator) reportLoop(ctx context.Context) {
	defer sa.wg.Done()
	ticker := time.NewTicker(sa.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := sa.Sample()
			sa.mu.RLock()
			callback := sa.reportCallback
			sa.mu.RUnlock()
			if callback != nil {
				callback(report)
			}
			logrus.WithFields(logrus.Fields{
				"function": "StatsAggregator.reportLoop",
				"streams":  report.System.ActiveStreams,
				"overall":  report.Overall.String(),
			}).Debug("Generated stats report")
		}
	}
}
