package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/school-notify/pkg/logger"
)

const dlqSuffix = ":dlq"

// DeadLetter is a message that ran out of deliveries.
type DeadLetter struct {
	*Message
	OriginalID string
	Attempts   int
	FailedAt   time.Time
}

// DeadLetterName is the stream exhausted messages are parked on.
func (q *Queue) DeadLetterName() string {
	return q.config.Name + dlqSuffix
}

func (q *Queue) deadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		logger.Warn("dropping exhausted message, dlq disabled", "queue", q.config.Name, "message_id", msg.ID)
		return
	}
	values := map[string]interface{}{
		"data":        string(msg.Data),
		"timestamp":   msg.Timestamp.Unix(),
		"original_id": msg.ID,
		"attempts":    msg.Attempts,
		"failed_at":   time.Now().Unix(),
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}
	if _, err := q.adapter.XAdd(context.Background(), q.DeadLetterName(), 0, values); err != nil {
		logger.Error("failed to move message to dlq", "queue", q.config.Name, "message_id", msg.ID, "error", err)
	}
}

// DeadLetters lists up to count parked messages, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]*DeadLetter, error) {
	entries, err := q.adapter.XRange(ctx, q.DeadLetterName(), "-", "+", count)
	if err != nil {
		return nil, fmt.Errorf("failed to read dlq: %w", err)
	}

	letters := make([]*DeadLetter, 0, len(entries))
	for _, sm := range entries {
		dl := &DeadLetter{Message: streamMessageToMessage(sm)}
		dl.OriginalID, _ = sm.Values["original_id"].(string)
		if v, ok := sm.Values["attempts"].(string); ok {
			dl.Attempts, _ = strconv.Atoi(v)
		}
		if v, ok := sm.Values["failed_at"].(string); ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				dl.FailedAt = time.Unix(unix, 0)
			}
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// Replay republishes up to count parked messages with a fresh delivery
// count and removes them from the dlq. It returns how many were moved.
func (q *Queue) Replay(ctx context.Context, count int64) (int, error) {
	letters, err := q.DeadLetters(ctx, count)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, dl := range letters {
		meta := make(map[string]string, len(dl.Metadata)+1)
		for k, v := range dl.Metadata {
			meta[k] = v
		}
		meta["replayed_from"] = dl.OriginalID

		if _, err := q.Publish(ctx, dl.Data, meta); err != nil {
			return moved, err
		}
		if err := q.adapter.XDel(ctx, q.DeadLetterName(), dl.ID); err != nil {
			return moved, fmt.Errorf("failed to remove replayed message %s: %w", dl.ID, err)
		}
		moved++
	}
	if moved > 0 {
		logger.Info("replayed dead letters", "queue", q.config.Name, "count", moved)
	}
	return moved, nil
}
