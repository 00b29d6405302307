package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is an in-process metrics collector exposed on the API for
// operational visibility
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	gauges    map[string]*int64
	timers    map[string]*timer
	health    map[string]*int64
	startTime time.Time
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
		timers:    make(map[string]*timer),
		health:    make(map[string]*int64),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

// SetGauge sets a point-in-time value
func (m *Metrics) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.gauge(name), value)
}

// RecordTime records a duration measurement
func (m *Metrics) RecordTime(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.Lock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{minTimeMs: ms, maxTimeMs: ms}
		m.timers[name] = t
	}
	t.count++
	t.totalTimeMs += ms
	if ms < t.minTimeMs {
		t.minTimeMs = ms
	}
	if ms > t.maxTimeMs {
		t.maxTimeMs = ms
	}
	m.mu.Unlock()
}

// SetHealthCheck records a named health status
func (m *Metrics) SetHealthCheck(name string, healthy bool) {
	var v int64
	if healthy {
		v = 1
	}

	m.mu.Lock()
	h, ok := m.health[name]
	if !ok {
		h = new(int64)
		m.health[name] = h
	}
	m.mu.Unlock()

	atomic.StoreInt64(h, v)
}

// GetHealthChecks returns all health statuses
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, v := range m.health {
		out[name] = atomic.LoadInt64(v) == 1
	}
	return out
}

// GetAllMetrics returns a snapshot of every metric
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	timers := make(map[string]map[string]int64, len(m.timers))
	for name, t := range m.timers {
		avg := int64(0)
		if t.count > 0 {
			avg = t.totalTimeMs / t.count
		}
		timers[name] = map[string]int64{
			"count":           t.count,
			"total_time_ms":   t.totalTimeMs,
			"average_time_ms": avg,
			"min_time_ms":     t.minTimeMs,
			"max_time_ms":     t.maxTimeMs,
		}
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.counters[name]
	if !ok {
		v = new(int64)
		m.counters[name] = v
	}
	return v
}

func (m *Metrics) gauge(name string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.gauges[name]
	if !ok {
		v = new(int64)
		m.gauges[name] = v
	}
	return v
}
