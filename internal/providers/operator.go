package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/logger"
)

var ErrNoAvailableCarriers = errors.New("no available carriers")

// Operator sends SMS through a pool of regional carrier gateways. Each send
// goes to the best scoring carrier and fails over to the next one on
// transient errors.
type Operator struct {
	cfg      *model.ProviderConfig
	opts     OperatorOptions
	carriers []*Carrier

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type OperatorOptions struct {
	// Doer replaces the per-carrier fasthttp clients.
	Doer                    HTTPDoer
	HealthCheckInterval     time.Duration
	EvaluateInterval        time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

func (o *OperatorOptions) setDefaults() {
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 30 * time.Second
	}
	if o.EvaluateInterval <= 0 {
		o.EvaluateInterval = 30 * time.Second
	}
	if o.CircuitBreakerThreshold <= 0 {
		o.CircuitBreakerThreshold = 5
	}
	if o.CircuitBreakerTimeout <= 0 {
		o.CircuitBreakerTimeout = 30 * time.Second
	}
}

type operatorStatus string

const (
	operatorDelivered operatorStatus = "DELIVERED"
	operatorFailed    operatorStatus = "FAILED"
	operatorPending   operatorStatus = "PENDING"
)

type operatorRequest struct {
	MessageID   string `json:"message_id"`
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"content"`
	SenderID    string `json:"sender_id,omitempty"`
	Priority    string `json:"priority"`
}

type operatorResponse struct {
	MessageID   string         `json:"message_id"`
	Status      operatorStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	OperatorID  string         `json:"operator_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Carrier error codes that are worth another attempt.
var transientCarrierCodes = map[string]bool{
	"NETWORK_ERROR": true,
	"TIMEOUT":       true,
}

func NewOperator(cfg *model.ProviderConfig, opts OperatorOptions) (*Operator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one carrier endpoint is required")
	}
	opts.setDefaults()

	o := &Operator{
		cfg:      cfg,
		opts:     opts,
		carriers: make([]*Carrier, 0, len(cfg.Endpoints)),
		stopCh:   make(chan struct{}),
	}
	for _, raw := range cfg.Endpoints {
		name, base, weight, err := parseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		client := opts.Doer
		if client == nil {
			client = newHTTPClient(cfg.Timeout())
		}
		o.carriers = append(o.carriers, NewCarrier(name, base, weight, client))
		logger.Debug("carrier initialized", "name", name, "url", base, "weight", weight)
	}

	o.wg.Add(2)
	go o.healthChecker()
	go o.metricsCollector()
	return o, nil
}

// parseEndpoint reads "url" or "url;weight=N". The carrier is named after
// the host.
func parseEndpoint(raw string) (name, base string, weight int, err error) {
	weight = 50
	parts := strings.Split(raw, ";")
	base = strings.TrimRight(strings.TrimSpace(parts[0]), "/")
	u, perr := url.Parse(base)
	if perr != nil || u.Host == "" {
		return "", "", 0, fmt.Errorf("invalid carrier endpoint %q", raw)
	}
	for _, opt := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(opt), "=")
		if k != "weight" {
			continue
		}
		w, perr := strconv.Atoi(v)
		if perr != nil || w < 1 || w > 100 {
			return "", "", 0, fmt.Errorf("invalid carrier weight in %q", raw)
		}
		weight = w
	}
	return u.Host, base, weight, nil
}

func (o *Operator) Kind() model.ProviderKind { return model.ProviderOperator }
func (o *Operator) Channel() model.Channel   { return model.ChannelSMS }

func (o *Operator) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikePhone(msg.To) {
		return nil, Permanent("invalid_address", "invalid phone number %q", msg.To)
	}

	req := operatorRequest{
		MessageID:   formatID(msg.RecordID),
		PhoneNumber: msg.To,
		Content:     msg.Body,
		SenderID:    o.cfg.SenderID,
		Priority:    priority(msg.Category),
	}

	tried := make(map[*Carrier]bool, len(o.carriers))
	var lastErr error
	for range o.carriers {
		carrier, err := o.selectBest(tried)
		if err != nil {
			break
		}
		tried[carrier] = true

		start := time.Now()
		res, err := do(ctx, carrier.client, o.cfg.Timeout(), httpCall{
			URL:  carrier.url + "/api/v1/sms/send",
			JSON: req,
		})
		latency := time.Since(start).Milliseconds()

		if err != nil {
			if IsPermanent(err) {
				// the carrier answered; the message itself was refused
				carrier.metrics.RecordSuccess(latency)
				return nil, err
			}
			carrier.metrics.RecordFailure()
			o.checkCircuitBreaker(carrier)
			logger.Warn("carrier request failed", "carrier", carrier.name, "record_id", msg.RecordID, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		carrier.metrics.RecordSuccess(latency)

		var resp operatorResponse
		if err := json.Unmarshal(res.Body, &resp); err != nil {
			return nil, Transient("decode", "failed to unmarshal response: %v", err)
		}
		return resp.result()
	}

	if lastErr == nil {
		return nil, Transient("no_carrier", "%v", ErrNoAvailableCarriers)
	}
	return nil, lastErr
}

func (r *operatorResponse) result() (*Result, error) {
	switch r.Status {
	case operatorDelivered:
		return &Result{ProviderMessageID: r.MessageID, Status: model.DeliveryDelivered}, nil
	case operatorFailed:
		code := strings.ToLower(r.ErrorCode)
		if transientCarrierCodes[r.ErrorCode] {
			if r.ErrorCode == "TIMEOUT" {
				return nil, ErrTimeout
			}
			return nil, Transient(code, "carrier %s: %s", r.OperatorID, r.ErrorMsg)
		}
		return nil, Permanent(code, "carrier %s rejected message: %s", r.OperatorID, r.ErrorMsg)
	default:
		return sent(r.MessageID), nil
	}
}

func priority(c model.Category) string {
	switch c {
	case model.CategoryEmergency, model.CategoryAttendance:
		return "high"
	case model.CategoryNewsletter, model.CategoryEvents:
		return "low"
	}
	return "normal"
}

// selectBest returns the highest scoring available carrier not in skip.
func (o *Operator) selectBest(skip map[*Carrier]bool) (*Carrier, error) {
	var best *Carrier
	var bestScore float64
	for _, c := range o.carriers {
		if skip[c] || !c.IsAvailable() {
			continue
		}
		if score := c.CalculateScore(); score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableCarriers
	}
	return best, nil
}

func (o *Operator) checkCircuitBreaker(c *Carrier) {
	fails := c.metrics.ConsecutiveFails.Load()
	if fails >= int32(o.opts.CircuitBreakerThreshold) {
		c.SetState(CarrierCircuitOpen)
		c.circuitOpenUntil.Store(time.Now().Add(o.opts.CircuitBreakerTimeout).Unix())
		logger.Warn("carrier circuit opened", "carrier", c.name, "consecutive_fails", fails, "timeout", o.opts.CircuitBreakerTimeout)
	}
}

func (o *Operator) healthChecker() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.performHealthChecks()
		case <-o.stopCh:
			return
		}
	}
}

func (o *Operator) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout())
	defer cancel()

	for _, c := range o.carriers {
		if c.GetState() == CarrierCircuitOpen {
			continue
		}
		healthy := o.checkHealth(ctx, c)
		old := c.GetState()
		next := old
		switch {
		case !healthy:
			next = CarrierUnhealthy
		case old == CarrierUnhealthy:
			next = CarrierDegraded
		}
		if next != old {
			c.SetState(next)
			logger.Info("carrier state changed", "carrier", c.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (o *Operator) checkHealth(ctx context.Context, c *Carrier) bool {
	res, err := do(ctx, c.client, o.cfg.Timeout(), httpCall{Method: "GET", URL: c.url + "/health"})
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	return json.Unmarshal(res.Body, &health) == nil && health.Status == "healthy"
}

func (o *Operator) metricsCollector() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.EvaluateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.evaluateCarriers()
			logger.Debug("carrier stats", "carriers", o.stats())
		case <-o.stopCh:
			return
		}
	}
}

// evaluateCarriers demotes carriers with a poor record and promotes ones
// that recovered. Unhealthy and open circuits are left to the health checks.
func (o *Operator) evaluateCarriers() {
	for _, c := range o.carriers {
		state := c.GetState()
		if state == CarrierCircuitOpen || state == CarrierUnhealthy {
			continue
		}
		successRate := c.metrics.SuccessRate()
		avgLatency := c.metrics.AvgLatencyMs()
		if successRate < 0.8 || avgLatency > 5000 {
			if state != CarrierDegraded {
				c.SetState(CarrierDegraded)
				logger.Warn("carrier degraded", "carrier", c.name, "success_rate", successRate, "avg_latency_ms", avgLatency)
			}
		} else if successRate > 0.95 && avgLatency < 2000 && state != CarrierHealthy {
			c.SetState(CarrierHealthy)
			logger.Info("carrier recovered", "carrier", c.name)
		}
	}
}

// stats returns per-carrier statistics, best score first.
func (o *Operator) stats() []carrierStats {
	stats := make([]carrierStats, 0, len(o.carriers))
	for _, c := range o.carriers {
		stats = append(stats, carrierStats{
			Name:             c.name,
			URL:              c.url,
			State:            c.GetState().String(),
			Score:            c.CalculateScore(),
			TotalRequests:    c.metrics.TotalRequests.Load(),
			SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
			FailedReqs:       c.metrics.FailedReqs.Load(),
			SuccessRate:      c.metrics.SuccessRate(),
			AvgLatencyMs:     c.metrics.AvgLatencyMs(),
			P95LatencyMs:     c.metrics.P95LatencyMs(),
			ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (o *Operator) Close() error {
	o.closeOnce.Do(func() {
		close(o.stopCh)
		o.wg.Wait()
	})
	return nil
}

type carrierStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulReqs   int64   `json:"successful_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}
