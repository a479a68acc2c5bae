package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ExhaustedMessageIsDeadLettered(t *testing.T) {
	_, adapter := setupTestRedis(t)
	cfg := testConfig("test:exhaust")
	cfg.VisibilityTimeout = 100 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.EnableDLQ = true
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)
	defer q.Stop(time.Second)

	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		return errors.New("job row not visible yet")
	}))
	_, err = q.Publish(context.Background(), []byte(`{"job_id":"j-1"}`), map[string]string{"tenant_id": "school-1"})
	require.NoError(t, err)

	var letters []*DeadLetter
	require.Eventually(t, func() bool {
		letters, err = q.DeadLetters(context.Background(), 10)
		return err == nil && len(letters) == 1
	}, 3*time.Second, 50*time.Millisecond)

	dl := letters[0]
	assert.Equal(t, `{"job_id":"j-1"}`, string(dl.Data))
	assert.Equal(t, "school-1", dl.Metadata["tenant_id"])
	assert.Equal(t, 1, dl.Attempts)
	assert.NotEmpty(t, dl.OriginalID)
	assert.False(t, dl.FailedAt.IsZero())

	require.Eventually(t, func() bool {
		stats, err := q.GetStats(context.Background())
		return err == nil && stats.PendingMessages == 0
	}, time.Second, 20*time.Millisecond)
}

func TestQueue_Replay(t *testing.T) {
	_, adapter := setupTestRedis(t)
	cfg := testConfig("test:replay")
	cfg.EnableDLQ = true
	q, err := NewQueue(adapter, cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"1-1", "1-2"} {
		q.deadLetter(&Message{ID: id, Data: []byte("job-" + id), Metadata: map[string]string{"tenant_id": "t1"}, Timestamp: time.Now(), Attempts: 3})
	}

	moved, err := q.Replay(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	left, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "1-2", left[0].OriginalID)

	received := make(chan *Message, 1)
	require.NoError(t, q.Consume(func(ctx context.Context, msg *Message) error {
		received <- msg
		return nil
	}))
	defer q.Stop(time.Second)

	select {
	case msg := <-received:
		assert.Equal(t, "job-1-1", string(msg.Data))
		assert.Equal(t, "1-1", msg.Metadata["replayed_from"])
		assert.Equal(t, "t1", msg.Metadata["tenant_id"])
		assert.Equal(t, 0, msg.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("replayed message not consumed")
	}
}

func TestQueue_DeadLetterDisabled(t *testing.T) {
	_, adapter := setupTestRedis(t)
	q, err := NewQueue(adapter, testConfig("test:nodlq"))
	require.NoError(t, err)

	q.deadLetter(&Message{ID: "1-1", Data: []byte("x"), Timestamp: time.Now()})
	letters, err := q.DeadLetters(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, letters)
	assert.Equal(t, "test:nodlq:dlq", q.DeadLetterName())
}
