package observability

import (
	"sync"
	"time"
)

type OperationSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec      int64                        `json:"uptime_sec"`
	TotalRequests  int64                        `json:"total_requests"`
	TotalErrors    int64                        `json:"total_errors"`
	InFlight       int64                        `json:"in_flight"`
	RateLimited    int64                        `json:"rate_limited"`
	EventsConsumed map[string]int64             `json:"events_consumed,omitempty"`
	EventsDropped  int64                        `json:"events_dropped"`
	Lifecycle      *LifecycleSnapshot           `json:"lifecycle,omitempty"`
	Operations     map[string]OperationSnapshot `json:"operations"`
}

type operationStats struct {
	count        int64
	errors       int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	operations     map[string]*operationStats
	inFlight       int64
	rateLimited    int64
	eventsConsumed map[string]int64
	eventsDropped  int64
	lifecycle      lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:          time.Now(),
		operations:     make(map[string]*operationStats),
		eventsConsumed: make(map[string]int64),
	}
}

// Start opens a span and raises the in-flight gauge. The operation name is
// supplied at End: HTTP spans key on the route pattern, which routing only
// resolves while the request is being served.
func (m *Metrics) Start() *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		start:   time.Now(),
	}
}

// End attributes the span to operation. The key must come from a bounded
// set, never from raw request input.
func (s *CallSpan) End(operation string, err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(operation, dur, err != nil)
}

// AddRateLimited counts a request rejected by the HTTP rate limiter.
func (m *Metrics) AddRateLimited() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rateLimited++
	m.mu.Unlock()
}

// AddEventConsumed counts a successfully handled bus delivery per routing key.
func (m *Metrics) AddEventConsumed(routingKey string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.eventsConsumed[routingKey]++
	m.mu.Unlock()
}

// AddEventDropped counts a delivery that was dead-lettered or discarded.
func (m *Metrics) AddEventDropped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.eventsDropped++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:     int64(now.Sub(m.start).Seconds()),
		Operations:    make(map[string]OperationSnapshot),
		InFlight:      m.inFlight,
		RateLimited:   m.rateLimited,
		EventsDropped: m.eventsDropped,
	}

	if len(m.eventsConsumed) > 0 {
		snap.EventsConsumed = make(map[string]int64, len(m.eventsConsumed))
		for key, n := range m.eventsConsumed {
			snap.EventsConsumed[key] = n
		}
	}

	for operation, stats := range m.operations {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Operations[operation] = OperationSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureOperation(operation string) *operationStats {
	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	return stats
}

func (m *Metrics) finish(operation string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.inFlight--
	stats := m.ensureOperation(operation)
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
