package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics counts job runs of one processor since start or the last
// Reset. Safe for concurrent use by the workers.
type ServiceMetrics struct {
	inFlight      atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64
	busyNs        atomic.Int64
	slowestNs     atomic.Int64
	lastFailureNs atomic.Int64
	sinceNs       atomic.Int64
}

type Stats struct {
	InFlight      int64
	Processed     int64
	Failed        int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Slowest       time.Duration
	LastFailure   time.Time
	Uptime        time.Duration
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.sinceNs.Store(time.Now().UnixNano())
	return m
}

// Begin marks a job as running. The returned func records how it ended.
func (m *ServiceMetrics) Begin() func(err error) {
	m.inFlight.Add(1)
	start := time.Now()
	return func(err error) {
		m.inFlight.Add(-1)
		if err != nil {
			m.failed.Add(1)
			m.lastFailureNs.Store(time.Now().UnixNano())
			return
		}
		d := int64(time.Since(start))
		m.processed.Add(1)
		m.busyNs.Add(d)
		for {
			cur := m.slowestNs.Load()
			if d <= cur || m.slowestNs.CompareAndSwap(cur, d) {
				break
			}
		}
	}
}

func (m *ServiceMetrics) GetStats() Stats {
	processed := m.processed.Load()
	uptime := time.Since(time.Unix(0, m.sinceNs.Load()))

	st := Stats{
		InFlight:  m.inFlight.Load(),
		Processed: processed,
		Failed:    m.failed.Load(),
		Slowest:   time.Duration(m.slowestNs.Load()),
		Uptime:    uptime,
	}
	if ns := m.lastFailureNs.Load(); ns > 0 {
		st.LastFailure = time.Unix(0, ns)
	}
	if secs := uptime.Seconds(); secs > 0 {
		st.RatePerSecond = float64(processed) / secs
	}
	if processed > 0 {
		st.AvgDuration = time.Duration(m.busyNs.Load() / processed)
	}
	return st
}

// Reset zeroes the counters. Jobs still running stay counted as in flight.
func (m *ServiceMetrics) Reset() {
	m.processed.Store(0)
	m.failed.Store(0)
	m.busyNs.Store(0)
	m.slowestNs.Store(0)
	m.lastFailureNs.Store(0)
	m.sinceNs.Store(time.Now().UnixNano())
}
