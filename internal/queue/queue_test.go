package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	// adapters are cached by name, so every test needs its own
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func testConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	_, adapter := setupTestRedis(t)
	q, err := NewQueue(adapter, testConfig("test:queue"))
	require.NoError(t, err)
	defer q.Stop(time.Second)

	ctx := context.Background()
	_, err = q.PublishJSON(ctx, map[string]string{"job_id": "j-1"}, map[string]string{"tenant_id": "school-1"})
	require.NoError(t, err)

	received := make(chan *Message, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))

	select {
	case msg := <-received:
		var data map[string]string
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "j-1", data["job_id"])
		assert.Equal(t, "school-1", msg.Metadata["tenant_id"])
		assert.Equal(t, 0, msg.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	assert.Eventually(t, func() bool {
		stats, err := q.GetStats(ctx)
		return err == nil && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueue_NewQueueIsIdempotent(t *testing.T) {
	_, adapter := setupTestRedis(t)
	_, err := NewQueue(adapter, testConfig("test:again"))
	require.NoError(t, err)
	// the group exists now; a second consumer must still start
	_, err = NewQueue(adapter, testConfig("test:again"))
	require.NoError(t, err)
}

func TestQueue_FailedMessageIsRedelivered(t *testing.T) {
	_, adapter := setupTestRedis(t)
	cfg := testConfig("test:retry")
	cfg.VisibilityTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.EnableDLQ = true
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	var calls atomic.Int32
	done := make(chan int, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		if calls.Add(1) == 1 {
			return errors.New("provider down")
		}
		done <- msg.Attempts
		return nil
	}))

	_, err = q.Publish(context.Background(), []byte("j-1"), nil)
	require.NoError(t, err)

	select {
	case attempts := <-done:
		assert.GreaterOrEqual(t, attempts, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestQueue_GetStats(t *testing.T) {
	_, adapter := setupTestRedis(t)
	q, err := NewQueue(adapter, testConfig("test:stats"))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := q.Publish(ctx, []byte("x"), nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalMessages)
	assert.Equal(t, int64(0), stats.PendingMessages)
}

func TestQueueConfig_Validation(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, QueueConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue name is required")

	q, err := NewQueue(adapter, QueueConfig{Name: "test:defaults"})
	require.NoError(t, err)
	assert.Equal(t, "default-group", q.config.ConsumerGroup)
	assert.Equal(t, 3, q.config.MaxRetries)
	assert.Equal(t, 30*time.Second, q.config.VisibilityTimeout)
	assert.Equal(t, int64(10), q.config.BatchSize)
	assert.Equal(t, "test:defaults", q.Name())
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	_, adapter := setupTestRedis(t)
	q, err := NewQueue(adapter, testConfig("test:concurrent"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := q.Publish(context.Background(), []byte("x"), nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats, err := q.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.TotalMessages)
}

func TestQueue_Stop(t *testing.T) {
	_, adapter := setupTestRedis(t)
	q, err := NewQueue(adapter, testConfig("test:stop"))
	require.NoError(t, err)
	require.NoError(t, q.Consume(func(context.Context, *Message) error { return nil }))

	assert.NoError(t, q.Stop(time.Second))
	assert.Error(t, q.Consume(nil))
}
