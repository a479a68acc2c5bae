package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const callbackTimeout = 5 * time.Second

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

type SendSMSRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Content     string `json:"content" binding:"required"`
	SenderID    string `json:"sender_id"`
	// Priority is high, normal or low.
	Priority string `json:"priority"`
}

type SendSMSResponse struct {
	MessageID   string         `json:"message_id"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	OperatorID  string         `json:"operator_id"`
	ProcessedAt time.Time      `json:"processed_at"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	OperatorID   string    `json:"operator_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// statusEvent is what the gateway's delivery callback endpoint accepts.
type statusEvent struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	OccurredAt        time.Time `json:"occurred_at"`
	Detail            string    `json:"detail,omitempty"`
}

type Options struct {
	DeliveryRate float64
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Downtime     float64
	// Async answers PENDING right away and reports the outcome to
	// CallbackURL later.
	Async       bool
	CallbackURL string
}

// MockOperator simulates a regional SMS carrier gateway.
type MockOperator struct {
	opts       Options
	operatorID string
	client     *fasthttp.Client

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup
}

func NewMockOperator(opts Options) *MockOperator {
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &MockOperator{
		opts:       opts,
		operatorID: "MOCK_OPERATOR_" + uuid.New().String()[:8],
		client:     &fasthttp.Client{ReadTimeout: callbackTimeout, WriteTimeout: callbackTimeout},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockOperator) float() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *MockOperator) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// rates returns the delivery rate and downtime, which UpdateConfig may change.
func (m *MockOperator) rates() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.DeliveryRate, m.opts.Downtime
}

func (m *MockOperator) delay(priority string) time.Duration {
	d := m.opts.MinDelay
	if span := m.opts.MaxDelay - m.opts.MinDelay; span > 0 {
		d += time.Duration(m.float() * float64(span))
	}
	switch priority {
	case "high":
		d /= 2
	case "low":
		d += d / 2
	}
	return d
}

var errorCodes = []string{
	"INVALID_NUMBER",
	"NETWORK_ERROR",
	"TIMEOUT",
	"BLOCKED",
	"INVALID_CONTENT",
	"OPERATOR_REJECTED",
}

var errorMessages = map[string]string{
	"INVALID_NUMBER":    "The phone number is invalid or not in service",
	"NETWORK_ERROR":     "Network connectivity issue with operator",
	"TIMEOUT":           "SMS delivery timed out",
	"BLOCKED":           "The recipient has blocked messages",
	"INVALID_CONTENT":   "SMS content violates operator policies",
	"OPERATOR_REJECTED": "Operator rejected the message",
}

// outcome decides the final state of one message.
func (m *MockOperator) outcome(req *SendSMSRequest) *SendSMSResponse {
	resp := &SendSMSResponse{
		MessageID:   req.MessageID,
		OperatorID:  m.operatorID,
		ProcessedAt: time.Now(),
	}
	rate, _ := m.rates()
	if m.float() < rate {
		now := time.Now()
		resp.Status = StatusDelivered
		resp.DeliveredAt = &now
		return resp
	}
	resp.Status = StatusFailed
	resp.ErrorCode = errorCodes[m.intn(len(errorCodes))]
	resp.ErrorMsg = errorMessages[resp.ErrorCode]
	return resp
}

func (m *MockOperator) send(req *SendSMSRequest) *SendSMSResponse {
	if m.opts.Async {
		pending := &SendSMSResponse{
			MessageID:   req.MessageID,
			Status:      StatusPending,
			OperatorID:  m.operatorID,
			ProcessedAt: time.Now(),
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			time.Sleep(m.delay(req.Priority))
			m.report(m.outcome(req))
		}()
		return pending
	}
	time.Sleep(m.delay(req.Priority))
	return m.outcome(req)
}

// report posts a final status to the callback url, if one is configured.
func (m *MockOperator) report(resp *SendSMSResponse) {
	l := log.With().Str("message_id", resp.MessageID).Str("status", string(resp.Status)).Logger()
	if m.opts.CallbackURL == "" {
		l.Info().Msg("final status not reported, no callback url")
		return
	}

	ev := statusEvent{ProviderMessageID: resp.MessageID, OccurredAt: resp.ProcessedAt.UTC()}
	if resp.Status == StatusDelivered {
		ev.Status = "delivered"
	} else {
		ev.Status = "failed"
		ev.Detail = resp.ErrorCode + ": " + resp.ErrorMsg
	}
	body, _ := json.Marshal(ev)

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(m.opts.CallbackURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)
	if err := m.client.DoTimeout(req, res, callbackTimeout); err != nil {
		l.Warn().Err(err).Msg("callback failed")
		return
	}
	if res.StatusCode() >= fasthttp.StatusBadRequest {
		l.Warn().Int("callback_status", res.StatusCode()).Msg("callback rejected")
		return
	}
	l.Info().Int("callback_status", res.StatusCode()).Msg("final status reported")
}

// Wait blocks until every pending callback has been attempted.
func (m *MockOperator) Wait() {
	m.wg.Wait()
}

type Handler struct {
	operator *MockOperator
}

func NewHandler(operator *MockOperator) *Handler {
	return &Handler{operator: operator}
}

func (h *Handler) SendSMS(c *gin.Context) {
	var req SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	resp := h.operator.send(&req)
	ev := log.Info()
	if resp.Status == StatusFailed {
		ev = log.Warn().Str("error_code", resp.ErrorCode)
	}
	ev.Str("message_id", req.MessageID).
		Str("phone", req.PhoneNumber).
		Str("priority", req.Priority).
		Str("status", string(resp.Status)).
		Msg("sms handled")

	// a refused message is still a well-formed answer
	status := http.StatusOK
	if resp.Status != StatusDelivered {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	rate, down := h.operator.rates()
	if h.operator.float() < down {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "Operator temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		OperatorID:   h.operator.operatorID,
		Timestamp:    time.Now(),
		DeliveryRate: rate,
	})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var body struct {
		DeliveryRate *float64 `json:"delivery_rate"`
		Downtime     *float64 `json:"downtime"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.operator.mu.Lock()
	if body.DeliveryRate != nil && *body.DeliveryRate >= 0 && *body.DeliveryRate <= 1 {
		h.operator.opts.DeliveryRate = *body.DeliveryRate
	}
	if body.Downtime != nil && *body.Downtime >= 0 && *body.Downtime <= 1 {
		h.operator.opts.Downtime = *body.Downtime
	}
	rate, down := h.operator.opts.DeliveryRate, h.operator.opts.Downtime
	h.operator.mu.Unlock()

	log.Info().Float64("delivery_rate", rate).Float64("downtime", down).Msg("configuration updated")
	c.JSON(http.StatusOK, gin.H{"delivery_rate": rate, "downtime": down})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	v1.POST("/sms/send", handler.SendSMS)
	v1.GET("/health", handler.HealthCheck)
	v1.PUT("/config", handler.UpdateConfig)

	// the gateway's carrier health probe
	router.GET("/health", handler.HealthCheck)
	return router
}
