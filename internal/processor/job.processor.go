package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/internal/services"
	"github.com/nimasrn/school-notify/pkg/logger"
)

// JobExecutor runs and closes dispatch jobs.
type JobExecutor interface {
	Execute(ctx context.Context, jobID string) error
	Abandon(ctx context.Context, jobID, reason string) error
}

// JobProcessor turns dispatch queue messages into job executions guarded by
// the idempotency service.
type JobProcessor struct {
	executor    JobExecutor
	idempotency *IdempotencyService
}

func NewJobProcessor(executor JobExecutor, idempotency *IdempotencyService) *JobProcessor {
	return &JobProcessor{
		executor:    executor,
		idempotency: idempotency,
	}
}

func (p *JobProcessor) GetType() string {
	return "dispatch_job"
}

func (p *JobProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job services.JobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.JobID == "" {
		// a malformed payload never gets better, ack it
		logger.Error("[processor] invalid job message", "message_id", msg.ID, "error", err)
		return nil
	}

	pc, err := p.idempotency.AcquireProcessingLock(ctx, job.JobID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		logger.Debug("[processor] job already processed", "job_id", job.JobID)
		return nil
	case errors.Is(err, ErrMaxRetriesExceeded):
		logger.Error("[processor] job exceeded retries", "job_id", job.JobID, "tenant_id", job.TenantID)
		if aerr := p.executor.Abandon(context.WithoutCancel(ctx), job.JobID, "processing retries exhausted"); aerr != nil && !errors.Is(aerr, services.ErrJobNotFound) {
			return fmt.Errorf("abandon job %s: %w", job.JobID, aerr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	p.idempotency.KeepAlive(ctx, pc)
	if err := p.executor.Execute(ctx, job.JobID); err != nil {
		// ErrJobNotFound included: the submitting transaction may not be
		// visible yet
		if markErr := p.idempotency.MarkFailure(context.WithoutCancel(ctx), pc, err); markErr != nil {
			logger.Error("[processor] job failure not marked", "job_id", job.JobID, "error", markErr)
		}
		return fmt.Errorf("execute job %s: %w", job.JobID, err)
	}

	if err := p.idempotency.MarkSuccess(context.WithoutCancel(ctx), pc); err != nil {
		logger.Error("[processor] job done but not marked", "job_id", job.JobID, "error", err)
	}
	logger.Info("[processor] job processed", "job_id", job.JobID, "tenant_id", job.TenantID, "retry", pc.IsRetry)
	return nil
}
