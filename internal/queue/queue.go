package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/redis"
)

type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Attempts counts earlier deliveries of this message to any consumer.
	Attempts int
}

// MessageHandler processes one message. A nil return acks it; an error
// leaves it pending so it is reclaimed after the visibility timeout.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue is a Redis stream with one consumer group.
type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	processing map[string]struct{}
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	ConsumerCount   int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		adapter:    adapter,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]struct{}),
	}

	err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().Unix(),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, q.config.MaxLen, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// Consume starts the polling loop. Messages are handled one at a time; the
// handler is expected to fan out itself.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}
	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

func (q *Queue) processMessages() {
	// negative block: return immediately when the stream is empty
	messages, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize, -1)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Error("failed to read from queue", "queue", q.config.Name, "error", err)
		}
		return
	}
	for _, sm := range messages {
		q.handleMessage(streamMessageToMessage(sm))
	}
}

// claimStuckMessages takes over messages another consumer (or an earlier
// run of this one) read but never acked.
func (q *Queue) claimStuckMessages() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, 100)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var ids []string
	for _, p := range pending {
		if p.Idle < q.config.VisibilityTimeout || q.isProcessing(p.ID) {
			continue
		}
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Warn("failed to claim pending messages", "queue", q.config.Name, "error", err)
		return
	}
	for _, sm := range messages {
		msg := streamMessageToMessage(sm)
		msg.Attempts = int(deliveries[msg.ID])
		q.handleMessage(msg)
	}
}

func (q *Queue) isProcessing(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.processing[id]
	return ok
}

func (q *Queue) handleMessage(msg *Message) {
	q.mu.Lock()
	q.processing[msg.ID] = struct{}{}
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.processing, msg.ID)
		q.mu.Unlock()
	}()

	if msg.Attempts >= q.config.MaxRetries {
		logger.Warn("message exceeded max retries", "queue", q.config.Name, "message_id", msg.ID, "attempts", msg.Attempts)
		q.deadLetter(msg)
		q.ack(msg.ID)
		return
	}

	if err := q.handler(q.ctx, msg); err != nil {
		logger.Warn("message handler failed", "queue", q.config.Name, "message_id", msg.ID, "error", err)
		return
	}
	q.ack(msg.ID)
}

func (q *Queue) ack(id string) {
	if err := q.adapter.XAck(context.Background(), q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Error("failed to ack message", "queue", q.config.Name, "message_id", id, "error", err)
	}
}

func streamMessageToMessage(sm redis.StreamMessage) *Message {
	msg := &Message{ID: sm.ID, Metadata: make(map[string]string)}
	for k, v := range sm.Values {
		s, _ := v.(string)
		switch {
		case k == "data":
			msg.Data = []byte(s)
		case k == "timestamp":
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Timestamp = time.Unix(unix, 0)
			}
		case strings.HasPrefix(k, "meta_"):
			msg.Metadata[strings.TrimPrefix(k, "meta_")] = s
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// Stop ends the consume loop and waits up to timeout for the message in
// hand to finish.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{TotalMessages: total}
	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	return stats, nil
}
