package providers

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type CarrierState int32

const (
	CarrierHealthy CarrierState = iota
	CarrierDegraded
	CarrierUnhealthy
	CarrierCircuitOpen
)

func (s CarrierState) String() string {
	switch s {
	case CarrierHealthy:
		return "HEALTHY"
	case CarrierDegraded:
		return "DEGRADED"
	case CarrierUnhealthy:
		return "UNHEALTHY"
	case CarrierCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CarrierMetrics tracks request outcomes for one carrier gateway.
type CarrierMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewCarrierMetrics() *CarrierMetrics {
	return &CarrierMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *CarrierMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *CarrierMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

// AvgLatencyMs averages over successful requests only.
func (m *CarrierMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *CarrierMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *CarrierMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	sorted := append([]int64(nil), m.latencyHistory...)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Carrier is one gateway in an Operator pool.
type Carrier struct {
	name             string
	url              string
	client           HTTPDoer
	metrics          *CarrierMetrics
	state            atomic.Int32
	weight           int32
	circuitOpenUntil atomic.Int64
}

func NewCarrier(name, url string, weight int, client HTTPDoer) *Carrier {
	c := &Carrier{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewCarrierMetrics(),
		weight:  int32(weight),
	}
	c.state.Store(int32(CarrierHealthy))
	return c
}

func (c *Carrier) GetState() CarrierState {
	return CarrierState(c.state.Load())
}

func (c *Carrier) SetState(s CarrierState) {
	c.state.Store(int32(s))
}

// IsAvailable half-opens an expired circuit by moving it to degraded.
func (c *Carrier) IsAvailable() bool {
	switch c.GetState() {
	case CarrierCircuitOpen:
		if time.Now().Unix() > c.circuitOpenUntil.Load() {
			c.metrics.ConsecutiveFails.Store(0)
			c.SetState(CarrierDegraded)
			return true
		}
		return false
	case CarrierUnhealthy:
		return false
	}
	return true
}

// CalculateScore ranks carriers by success rate, latency and configured
// weight; higher is better and unavailable carriers score 0.
func (c *Carrier) CalculateScore() float64 {
	if !c.IsAvailable() {
		return 0
	}

	successScore := c.metrics.SuccessRate() * 100

	latencyScore := 100.0
	if avg := c.metrics.AvgLatencyMs(); avg > 0 {
		// 5s or slower scores nothing
		latencyScore = 100.0 * (1.0 - float64(avg)/5000.0)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - float64(c.metrics.ConsecutiveFails.Load())*0.1
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	if c.GetState() == CarrierDegraded {
		statePenalty = 0.5
	}

	return (successScore*0.4 + latencyScore*0.4 + float64(c.weight)*0.2) * recentPenalty * statePenalty
}
