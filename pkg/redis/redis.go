package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// StreamMessage represents a message in Redis Stream
type StreamMessage struct {
	ID     string
	Values map[string]interface{}
}

type RedisAdapter interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	Exist(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
	DecrBy(ctx context.Context, key string, value int64) (int64, error)
	Ping(ctx context.Context) error
	Client() goredis.UniversalClient

	XAdd(ctx context.Context, key string, maxLen int64, values map[string]interface{}) (string, error)
	XReadGroup(ctx context.Context, group, consumer, key, id string, count int64, block time.Duration) ([]StreamMessage, error)
	XAck(ctx context.Context, key, group string, ids ...string) error
	XGroupCreateMkStream(ctx context.Context, key, group, start string) error
	XLen(ctx context.Context, key string) (int64, error)
	XPending(ctx context.Context, key, group string) (*goredis.XPending, error)
	XPendingExt(ctx context.Context, key, group string, count int64) ([]goredis.XPendingExt, error)
	XClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error)
	XRange(ctx context.Context, key, start, stop string, count int64) ([]StreamMessage, error)
	XDel(ctx context.Context, key string, ids ...string) error
}

type redisAdapter struct {
	prefix   string
	Conn     goredis.UniversalClient
	ConnName string
}

var redisLock = &sync.RWMutex{}
var redisInstance = make(map[string]RedisAdapter)

// NewRedisAdapter returns the adapter registered under connName, dialing a
// new client the first time the name is seen.
func NewRedisAdapter(connName string, keysPrefix string, opts *goredis.UniversalOptions) (RedisAdapter, error) {
	redisLock.RLock()
	adapter, ok := redisInstance[connName]
	redisLock.RUnlock()
	if ok {
		return adapter, nil
	}

	c := goredis.NewUniversalClient(opts)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}

	redisLock.Lock()
	defer redisLock.Unlock()
	if existing, ok := redisInstance[connName]; ok {
		_ = c.Close()
		return existing, nil
	}
	created := &redisAdapter{Conn: c, prefix: keysPrefix, ConnName: connName}
	redisInstance[connName] = created
	return created, nil
}

func (r *redisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.Conn.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *redisAdapter) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.Conn.SetNX(ctx, r.prefix+key, value, ttl).Result()
}

func (r *redisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return r.Conn.Get(ctx, r.prefix+key).Bytes()
}

func (r *redisAdapter) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	return r.Conn.Del(ctx, prefixed...).Err()
}

func (r *redisAdapter) Exist(ctx context.Context, key string) (int64, error) {
	return r.Conn.Exists(ctx, r.prefix+key).Result()
}

// IncrBy increments key and, when ttl is positive, refreshes its expiry in
// the same MULTI block.
func (r *redisAdapter) IncrBy(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := r.Conn.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.IncrBy(ctx, r.prefix+key, value)
		if ttl > 0 {
			p.Expire(ctx, r.prefix+key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *redisAdapter) DecrBy(ctx context.Context, key string, value int64) (int64, error) {
	return r.Conn.DecrBy(ctx, r.prefix+key, value).Result()
}

func (r *redisAdapter) Ping(ctx context.Context) error {
	return r.Conn.Ping(ctx).Err()
}

func (r *redisAdapter) Client() goredis.UniversalClient {
	return r.Conn
}

func (r *redisAdapter) XAdd(ctx context.Context, key string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &goredis.XAddArgs{
		Stream: r.prefix + key,
		ID:     "*",
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return r.Conn.XAdd(ctx, args).Result()
}

func (r *redisAdapter) XReadGroup(ctx context.Context, group, consumer, key, id string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := r.Conn.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.prefix + key, id},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			messages = append(messages, StreamMessage{ID: msg.ID, Values: msg.Values})
		}
	}
	return messages, nil
}

func (r *redisAdapter) XAck(ctx context.Context, key, group string, ids ...string) error {
	return r.Conn.XAck(ctx, r.prefix+key, group, ids...).Err()
}

func (r *redisAdapter) XGroupCreateMkStream(ctx context.Context, key, group, start string) error {
	return r.Conn.XGroupCreateMkStream(ctx, r.prefix+key, group, start).Err()
}

func (r *redisAdapter) XLen(ctx context.Context, key string) (int64, error) {
	return r.Conn.XLen(ctx, r.prefix+key).Result()
}

func (r *redisAdapter) XPending(ctx context.Context, key, group string) (*goredis.XPending, error) {
	return r.Conn.XPending(ctx, r.prefix+key, group).Result()
}

func (r *redisAdapter) XPendingExt(ctx context.Context, key, group string, count int64) ([]goredis.XPendingExt, error) {
	return r.Conn.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: r.prefix + key,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

func (r *redisAdapter) XClaim(ctx context.Context, key, group, consumer string, minIdle time.Duration, ids ...string) ([]StreamMessage, error) {
	claimed, err := r.Conn.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   r.prefix + key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(claimed))
	for _, msg := range claimed {
		messages = append(messages, StreamMessage{ID: msg.ID, Values: msg.Values})
	}
	return messages, nil
}

// XRange returns up to count entries between start and stop, oldest first.
// A count of zero returns the whole range.
func (r *redisAdapter) XRange(ctx context.Context, key, start, stop string, count int64) ([]StreamMessage, error) {
	var (
		entries []goredis.XMessage
		err     error
	)
	if count > 0 {
		entries, err = r.Conn.XRangeN(ctx, r.prefix+key, start, stop, count).Result()
	} else {
		entries, err = r.Conn.XRange(ctx, r.prefix+key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(entries))
	for _, msg := range entries {
		messages = append(messages, StreamMessage{ID: msg.ID, Values: msg.Values})
	}
	return messages, nil
}

func (r *redisAdapter) XDel(ctx context.Context, key string, ids ...string) error {
	return r.Conn.XDel(ctx, r.prefix+key, ids...).Err()
}
