package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("job already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	// LockTTL bounds how long a crashed processor blocks a job. Live
	// processors keep extending it.
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int
	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         5,
		RetryKeyPrefix:     "dispatch:retry:",
		LockKeyPrefix:      "dispatch:lock:",
		ProcessedKeyPrefix: "dispatch:processed:",
	}
}

// IdempotencyService makes sure a job is executed by one processor at a time
// and not again once it finished, however often its id is delivered.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	JobID      string
	RetryCount int
	IsRetry    bool

	token        []byte
	lockAcquired bool
	stopKeep     chan struct{}
	keepDone     sync.WaitGroup
}

func (s *IdempotencyService) lockKey(id string) string      { return s.config.LockKeyPrefix + id }
func (s *IdempotencyService) retryKey(id string) string     { return s.config.RetryKeyPrefix + id }
func (s *IdempotencyService) processedKey(id string) string { return s.config.ProcessedKeyPrefix + id }

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, jobID string) (*ProcessingContext, error) {
	exists, err := s.redis.Exist(ctx, s.processedKey(jobID))
	if err != nil {
		// the job row is the final guard against a second run
		logger.Warn("[idempotency] processed marker lookup failed", "job_id", jobID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryCount, err := s.GetRetryCount(ctx, jobID)
	if err != nil {
		logger.Warn("[idempotency] retry counter lookup failed", "job_id", jobID, "error", err)
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: job_id=%s, retries=%d", ErrMaxRetriesExceeded, jobID, retryCount)
	}

	token := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(ctx, s.lockKey(jobID), token, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("[idempotency] lock acquired", "job_id", jobID, "retry_count", retryCount)
	return &ProcessingContext{
		JobID:        jobID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		token:        token,
		lockAcquired: true,
	}, nil
}

// KeepAlive re-arms the lock every third of its TTL until the processing
// context is marked or released.
func (s *IdempotencyService) KeepAlive(ctx context.Context, pc *ProcessingContext) {
	if pc == nil || pc.stopKeep != nil {
		return
	}
	pc.stopKeep = make(chan struct{})
	pc.keepDone.Add(1)
	go func() {
		defer pc.keepDone.Done()
		ticker := time.NewTicker(s.config.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-pc.stopKeep:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.redis.Set(context.WithoutCancel(ctx), s.lockKey(pc.JobID), pc.token, s.config.LockTTL); err != nil {
					logger.Warn("[idempotency] lock refresh failed", "job_id", pc.JobID, "error", err)
				}
			}
		}
	}()
}

func (s *IdempotencyService) stopKeepAlive(pc *ProcessingContext) {
	if pc.stopKeep == nil {
		return
	}
	close(pc.stopKeep)
	pc.keepDone.Wait()
	pc.stopKeep = nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	s.stopKeepAlive(pc)
	if err := s.redis.Set(ctx, s.processedKey(pc.JobID), []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("mark job processed: %w", err)
	}
	if err := s.redis.Del(ctx, s.lockKey(pc.JobID), s.retryKey(pc.JobID)); err != nil {
		logger.Warn("[idempotency] cleanup failed", "job_id", pc.JobID, "error", err)
	}
	pc.lockAcquired = false
	return nil
}

// MarkFailure counts a failed run and frees the lock for the next delivery.
func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	s.stopKeepAlive(pc)
	next := pc.RetryCount + 1
	setErr := s.redis.Set(ctx, s.retryKey(pc.JobID), []byte(strconv.Itoa(next)), s.config.ProcessedTTL)
	if err := s.redis.Del(ctx, s.lockKey(pc.JobID)); err != nil {
		logger.Warn("[idempotency] lock not removed", "job_id", pc.JobID, "error", err)
	}
	pc.lockAcquired = false
	if setErr != nil {
		return fmt.Errorf("store retry count: %w", setErr)
	}

	logger.Warn("[idempotency] job run failed, will retry",
		"job_id", pc.JobID,
		"retry_count", next,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}
	s.stopKeepAlive(pc)
	if err := s.redis.Del(ctx, s.lockKey(pc.JobID)); err != nil {
		return err
	}
	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, jobID string) (int, error) {
	b, err := s.redis.Get(ctx, s.retryKey(jobID))
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("retry counter %q: %w", b, err)
	}
	return n, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, jobID string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.processedKey(jobID))
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
