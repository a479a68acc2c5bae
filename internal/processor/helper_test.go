package processor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/pkg/redis"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func testIdempotencyConfig() IdempotencyConfig {
	cfg := DefaultIdempotencyConfig()
	cfg.LockTTL = 3 * time.Second
	cfg.MaxRetries = 2
	return cfg
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *mockExecutor) Abandon(ctx context.Context, jobID, reason string) error {
	return m.Called(ctx, jobID, reason).Error(0)
}
