package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/internal/services"
)

func jobMessage(t *testing.T, jobID string) *queue.Message {
	t.Helper()
	data, err := json.Marshal(services.JobMessage{JobID: jobID, TenantID: "school-1"})
	require.NoError(t, err)
	return &queue.Message{ID: "1-0", Data: data}
}

func TestJobProcessor_Success(t *testing.T) {
	ctx := context.Background()
	_, adapter := setupRedis(t)
	idem := NewIdempotencyService(adapter, testIdempotencyConfig())
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, "job-1").Return(nil).Once()

	p := NewJobProcessor(exec, idem)
	require.NoError(t, p.Process(ctx, jobMessage(t, "job-1")))

	// redelivery of a finished job is acked without running it again
	require.NoError(t, p.Process(ctx, jobMessage(t, "job-1")))
	exec.AssertNumberOfCalls(t, "Execute", 1)
}

func TestJobProcessor_InvalidPayloadIsAcked(t *testing.T) {
	_, adapter := setupRedis(t)
	exec := new(mockExecutor)
	p := NewJobProcessor(exec, NewIdempotencyService(adapter, testIdempotencyConfig()))

	assert.NoError(t, p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{")}))
	assert.NoError(t, p.Process(context.Background(), &queue.Message{ID: "2-0", Data: []byte(`{"tenant_id":"x"}`)}))
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestJobProcessor_FailureIsRetriedThenAbandoned(t *testing.T) {
	ctx := context.Background()
	_, adapter := setupRedis(t)
	idem := NewIdempotencyService(adapter, testIdempotencyConfig())
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, "job-1").Return(services.ErrJobNotFound).Twice()
	exec.On("Abandon", mock.Anything, "job-1", mock.AnythingOfType("string")).Return(nil).Once()

	p := NewJobProcessor(exec, idem)
	for i := 0; i < 2; i++ {
		err := p.Process(ctx, jobMessage(t, "job-1"))
		assert.ErrorIs(t, err, services.ErrJobNotFound)
	}
	require.NoError(t, p.Process(ctx, jobMessage(t, "job-1")))
	exec.AssertExpectations(t)
}

func TestJobProcessor_FailureWithRedisDown(t *testing.T) {
	ctx := context.Background()
	mr, adapter := setupRedis(t)
	exec := new(mockExecutor)
	exec.On("Execute", mock.Anything, "job-1").
		Run(func(mock.Arguments) { mr.SetError("LOADING") }).
		Return(errors.New("db down")).Once()

	p := NewJobProcessor(exec, NewIdempotencyService(adapter, testIdempotencyConfig()))
	err := p.Process(ctx, jobMessage(t, "job-1"))
	assert.ErrorContains(t, err, "db down")
	exec.AssertExpectations(t)
}

func TestJobProcessor_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	_, adapter := setupRedis(t)
	idem := NewIdempotencyService(adapter, testIdempotencyConfig())
	_, err := idem.AcquireProcessingLock(ctx, "job-1")
	require.NoError(t, err)

	exec := new(mockExecutor)
	p := NewJobProcessor(exec, idem)
	err = p.Process(ctx, jobMessage(t, "job-1"))
	assert.ErrorIs(t, err, ErrLockAcquireFailed)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestJobProcessor_AbandonError(t *testing.T) {
	ctx := context.Background()
	mr, adapter := setupRedis(t)
	require.NoError(t, mr.Set("dispatch:retry:job-1", "2"))

	exec := new(mockExecutor)
	exec.On("Abandon", mock.Anything, "job-1", mock.Anything).Return(errors.New("db down")).Once()

	p := NewJobProcessor(exec, NewIdempotencyService(adapter, testIdempotencyConfig()))
	assert.Error(t, p.Process(ctx, jobMessage(t, "job-1")))
}
