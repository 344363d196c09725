package processor

import (
	"sort"
	"sync"
	"time"

	"github.com/nimasrn/number-market/pkg/prom"
)

// StreamStats is a point-in-time view of one stream's handling.
type StreamStats struct {
	Stream      string
	Processed   int64
	Failed      int64
	AvgDuration time.Duration
	MaxDuration time.Duration
}

type streamCounters struct {
	processed int64
	failed    int64
	total     time.Duration
	max       time.Duration
}

// ServiceMetrics keeps per-stream counters for the periodic log line and
// mirrors every outcome into prometheus.
type ServiceMetrics struct {
	mu      sync.Mutex
	started time.Time
	streams map[string]*streamCounters
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{started: time.Now(), streams: make(map[string]*streamCounters)}
}

func (m *ServiceMetrics) counters(stream string) *streamCounters {
	c, ok := m.streams[stream]
	if !ok {
		c = &streamCounters{}
		m.streams[stream] = c
	}
	return c
}

func (m *ServiceMetrics) RecordSuccess(stream string, d time.Duration) {
	m.mu.Lock()
	c := m.counters(stream)
	c.processed++
	c.total += d
	if d > c.max {
		c.max = d
	}
	m.mu.Unlock()
	prom.IncQueueProcessed(stream, "ok")
}

func (m *ServiceMetrics) RecordFailure(stream string) {
	m.mu.Lock()
	m.counters(stream).failed++
	m.mu.Unlock()
	prom.IncQueueProcessed(stream, "error")
}

// Snapshot returns the counters of every stream seen so far, sorted by name.
func (m *ServiceMetrics) Snapshot() []StreamStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamStats, 0, len(m.streams))
	for name, c := range m.streams {
		s := StreamStats{Stream: name, Processed: c.processed, Failed: c.failed, MaxDuration: c.max}
		if c.processed > 0 {
			s.AvgDuration = c.total / time.Duration(c.processed)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func (m *ServiceMetrics) Uptime() time.Duration {
	return time.Since(m.started)
}
