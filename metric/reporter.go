package metric

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the terminal result of processing one delivery. Transient
// failures that will be redelivered are not outcomes; they are recorded
// nowhere until the delivery terminates.
type Outcome int

const (
	// OutcomeProcessed means the record was decoded and applied to the
	// graph store.
	OutcomeProcessed Outcome = iota + 1
	// OutcomeFailed means the delivery was permanently rejected.
	OutcomeFailed
)

// String returns the label value used for Prometheus and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// KindCounts holds terminal outcome counts for one record kind.
type KindCounts struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Snapshot is a point-in-time view of the reporter's counters. The
// counters obey processed+failed <= received: a delivery is counted as
// received when it enters processing and reaches exactly one terminal
// outcome afterwards.
type Snapshot struct {
	Received             int64                 `json:"received"`
	Processed            int64                 `json:"processed"`
	Failed               int64                 `json:"failed"`
	Pending              int64                 `json:"pending"`
	RelationshipsCreated int64                 `json:"relationships_created"`
	ByKind               map[string]KindCounts `json:"by_kind"`
	ThroughputPerSec     float64               `json:"throughput_per_sec"`
	AvgProcessingMs      float64               `json:"avg_processing_ms"`
	WindowSeconds        int                   `json:"window_seconds"`
	UptimeSeconds        float64               `json:"uptime_seconds"`
}

// DefaultWindow is the sliding window used for throughput when no
// option overrides it.
const DefaultWindow = 60 * time.Second

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithWindow sets the throughput sliding window. Durations under one
// second are raised to one second.
func WithWindow(window time.Duration) ReporterOption {
	return func(r *Reporter) {
		if window < time.Second {
			window = time.Second
		}
		r.window = newSlidingWindow(int(window / time.Second))
	}
}

// WithClock overrides the time source. Tests use this to drive the
// sliding window deterministically.
func WithClock(clock func() time.Time) ReporterOption {
	return func(r *Reporter) {
		r.clock = clock
	}
}

// WithCoreMetrics mirrors every recorded event into the shared
// Prometheus metrics.
func WithCoreMetrics(core *Metrics) ReporterOption {
	return func(r *Reporter) {
		r.core = core
	}
}

// Reporter tracks ingest counters in memory and serves consistent
// snapshots. All methods are safe for concurrent use.
type Reporter struct {
	received      atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64
	relationships atomic.Int64
	totalNanos    atomic.Int64

	mu     sync.RWMutex
	byKind map[string]*KindCounts

	window *slidingWindow
	clock  func() time.Time
	start  time.Time

	core *Metrics
}

// NewReporter creates a reporter with a 60-second throughput window
// unless options say otherwise.
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		byKind: make(map[string]*KindCounts),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.window == nil {
		r.window = newSlidingWindow(int(DefaultWindow / time.Second))
	}
	r.start = r.clock()
	return r
}

// RecordReceived counts one delivery entering processing. Call it
// before any parsing or store work so the received counter always
// leads the terminal counters.
func (r *Reporter) RecordReceived(transport string) {
	r.received.Add(1)
	if r.core != nil {
		r.core.RecordMessageReceived(transport)
	}
}

// RecordOutcome counts one terminal outcome for a delivery. kind is
// the record kind when known and "unknown" for undecodable payloads.
func (r *Reporter) RecordOutcome(kind string, outcome Outcome, elapsed time.Duration) {
	switch outcome {
	case OutcomeProcessed:
		r.processed.Add(1)
	case OutcomeFailed:
		r.failed.Add(1)
	default:
		return
	}
	r.totalNanos.Add(int64(elapsed))
	r.window.record(r.clock())

	r.mu.Lock()
	counts, ok := r.byKind[kind]
	if !ok {
		counts = &KindCounts{}
		r.byKind[kind] = counts
	}
	if outcome == OutcomeProcessed {
		counts.Processed++
	} else {
		counts.Failed++
	}
	r.mu.Unlock()

	if r.core != nil {
		r.core.RecordMessageProcessed(kind, outcome)
		r.core.RecordProcessingDuration(kind, elapsed)
	}
}

// RecordRelationships adds n to the relationships-created counter.
func (r *Reporter) RecordRelationships(n int) {
	if n <= 0 {
		return
	}
	r.relationships.Add(int64(n))
	if r.core != nil {
		r.core.RecordRelationshipsCreated(n)
	}
}

// Snapshot returns the current counters. Terminal counters are read
// before the received counter so processed+failed never exceeds
// received even while deliveries land concurrently.
func (r *Reporter) Snapshot() Snapshot {
	processed := r.processed.Load()
	failed := r.failed.Load()
	received := r.received.Load()

	now := r.clock()
	uptime := now.Sub(r.start).Seconds()

	r.mu.RLock()
	byKind := make(map[string]KindCounts, len(r.byKind))
	for kind, counts := range r.byKind {
		byKind[kind] = *counts
	}
	r.mu.RUnlock()

	terminal := processed + failed
	var avgMs float64
	if terminal > 0 {
		avgMs = float64(r.totalNanos.Load()) / float64(terminal) / float64(time.Millisecond)
	}

	return Snapshot{
		Received:             received,
		Processed:            processed,
		Failed:               failed,
		Pending:              received - terminal,
		RelationshipsCreated: r.relationships.Load(),
		ByKind:               byKind,
		ThroughputPerSec:     r.window.rate(now, uptime),
		AvgProcessingMs:      avgMs,
		WindowSeconds:        r.window.size(),
		UptimeSeconds:        uptime,
	}
}

// slidingWindow counts events in one-second buckets over a fixed span.
// Buckets are addressed by unix second modulo the span, so a bucket is
// reset the first time a new second lands on it.
type slidingWindow struct {
	mu      sync.Mutex
	buckets []windowBucket
}

type windowBucket struct {
	sec   int64
	count int64
}

func newSlidingWindow(seconds int) *slidingWindow {
	if seconds < 1 {
		seconds = 1
	}
	return &slidingWindow{buckets: make([]windowBucket, seconds)}
}

func (w *slidingWindow) size() int {
	return len(w.buckets)
}

func (w *slidingWindow) record(now time.Time) {
	sec := now.Unix()
	idx := sec % int64(len(w.buckets))

	w.mu.Lock()
	bucket := &w.buckets[idx]
	if bucket.sec != sec {
		bucket.sec = sec
		bucket.count = 0
	}
	bucket.count++
	w.mu.Unlock()
}

// rate returns events per second across the window. While uptime is
// shorter than the window the denominator is the uptime, so early
// readings are not diluted by seconds that never happened.
func (w *slidingWindow) rate(now time.Time, uptimeSeconds float64) float64 {
	sec := now.Unix()
	oldest := sec - int64(len(w.buckets)) + 1

	var total int64
	w.mu.Lock()
	for i := range w.buckets {
		if w.buckets[i].sec >= oldest && w.buckets[i].sec <= sec {
			total += w.buckets[i].count
		}
	}
	w.mu.Unlock()

	span := float64(len(w.buckets))
	if uptimeSeconds > 0 && uptimeSeconds < span {
		span = uptimeSeconds
	}
	if span <= 0 {
		span = 1
	}
	return float64(total) / span
}
