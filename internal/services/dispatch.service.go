package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/nimasrn/school-notify/internal/audience"
	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/prom"
	"github.com/nimasrn/school-notify/pkg/redis"
)

const (
	cancelledDetail   = "cancelled"
	notAttemptedError = "not attempted"
	defaultTestBody   = "Test message from the school notification service."
	defaultTestTitle  = "Test message"
)

type DispatchJobRepository interface {
	Create(ctx context.Context, job *model.DispatchJob) (*model.DispatchJob, error)
	GetByID(ctx context.Context, id string) (*model.DispatchJob, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	Finish(ctx context.Context, id string, state model.JobState, sent, failed int, reason string, at time.Time) error
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*model.DispatchJob, int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DeliveryRecordRepository interface {
	CreateBatch(ctx context.Context, records []*model.DeliveryRecord) error
	GetByID(ctx context.Context, id int64) (*model.DeliveryRecord, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.DeliveryRecord, error)
	ListQueuedByJob(ctx context.Context, jobID string) ([]*model.DeliveryRecord, error)
	Transition(ctx context.Context, id int64, channel model.Channel, tr model.DeliveryTransition) (bool, error)
	FailQueued(ctx context.Context, jobID, detail string, at time.Time) (int64, error)
	Outcome(ctx context.Context, jobID string) (*repository.JobOutcome, error)
	List(ctx context.Context, f model.DeliveryFilter) ([]*model.DeliveryRecord, int64, error)
	Stats(ctx context.Context, tenantID string, channel *model.Channel, dayStart, monthStart time.Time) (*model.DeliveryStats, error)
}

// JobPublisher hands accepted jobs to the processor. *queue.Queue satisfies it.
type JobPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// ProviderFactory builds a provider from a job's config snapshot. The caller
// closes what it gets back.
type ProviderFactory func(ctx context.Context, cfg *model.ProviderConfig) (providers.Provider, error)

// NewProviderFactory builds a fresh provider on every call.
func NewProviderFactory(opts ...providers.Option) ProviderFactory {
	return func(ctx context.Context, cfg *model.ProviderConfig) (providers.Provider, error) {
		return providers.New(ctx, cfg, opts...)
	}
}

// JobMessage is the payload published for every accepted job.
type JobMessage struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
}

type DispatchConfig struct {
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	CancelTTL   time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 10 * c.BackoffBase
	}
	if c.CancelTTL <= 0 {
		c.CancelTTL = 24 * time.Hour
	}
	return c
}

// backoff is a fresh retry schedule for one recipient: exponential from
// BackoffBase, capped at BackoffMax, stopping after MaxAttempts calls.
func (c DispatchConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.BackoffBase)
	b = retry.WithCappedDuration(c.BackoffMax, b)
	return retry.WithMaxRetries(uint64(c.MaxAttempts-1), b)
}

type DispatchDeps struct {
	Jobs      DispatchJobRepository
	Records   DeliveryRecordRepository
	Templates TemplateRepository
	Ledger    *Ledger
	Audience  audience.Resolver
	Queue     JobPublisher
	// Flags holds cancellation requests; cancellation is unavailable without it.
	Flags     redis.RedisAdapter
	Providers ProviderFactory
	Calendar  Calendar
}

type DispatchService struct {
	jobs      DispatchJobRepository
	records   DeliveryRecordRepository
	templates TemplateRepository
	ledger    *Ledger
	audience  audience.Resolver
	queue     JobPublisher
	flags     redis.RedisAdapter
	providers ProviderFactory
	calendar  Calendar
	cfg       DispatchConfig
}

func NewDispatchService(deps DispatchDeps, cfg DispatchConfig) *DispatchService {
	factory := deps.Providers
	if factory == nil {
		factory = NewProviderFactory()
	}
	return &DispatchService{
		jobs:      deps.Jobs,
		records:   deps.Records,
		templates: deps.Templates,
		ledger:    deps.Ledger,
		audience:  deps.Audience,
		queue:     deps.Queue,
		flags:     deps.Flags,
		providers: factory,
		calendar:  deps.Calendar,
		cfg:       cfg.withDefaults(),
	}
}

// Submit accepts a job. Configuration denials return an error and leave no
// trace. Quota and permission denials persist the job as rejected and return
// it together with the *DenialError. Otherwise the job is stored in sending
// with one queued record per recipient and handed to the processor.
func (s *DispatchService) Submit(ctx context.Context, req model.SubmitJobRequest) (*model.DispatchJob, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	job := &model.DispatchJob{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Channel:     req.Channel,
		Category:    req.Category,
		TemplateID:  req.TemplateID,
		Subject:     req.Subject,
		Body:        req.Body,
		Variables:   req.Variables,
		Audience:    req.Audience,
		RequestedBy: req.RequestedBy,
		State:       model.JobStateAccepted,
		CreatedAt:   s.calendar.NowUTC(),
	}
	if req.TemplateID != nil {
		t, err := s.templates.GetActive(ctx, req.TenantID, *req.TemplateID)
		if errors.Is(err, repository.ErrTemplateNotFound) || errors.Is(err, repository.ErrTemplateInactive) {
			return nil, ErrTemplateUnavailable
		}
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		if t.Channel != req.Channel {
			return nil, fmt.Errorf("%w: template %d is a %s template", ErrInvalidRequest, t.ID, t.Channel)
		}
		job.Subject, job.Body = t.Subject, t.Body
	}
	if job.Channel == model.ChannelSMS {
		job.Subject = ""
	}

	job.State = model.JobStateExpanding
	recipients, err := s.expand(ctx, req)
	if err != nil {
		return nil, err
	}
	job.TotalRecipients = len(recipients)

	job.State = model.JobStateReserving
	reservation, err := s.ledger.Reserve(ctx, job.TenantID, job.Channel, job.Category, int64(len(recipients)))
	if err != nil {
		de, ok := AsDenial(err)
		if !ok {
			return nil, err
		}
		prom.IncDenial(string(job.Channel), string(de.Reason))
		logger.Info("[dispatch] job denied", "tenant_id", job.TenantID, "channel", job.Channel, "reason", de.Reason)
		if de.Configuration() {
			return nil, de
		}
		return s.reject(ctx, job, de)
	}

	job.State = model.JobStateSending
	job.ProviderSnapshot = reservation.Provider
	job.ProviderKind = reservation.Provider.Kind
	job.EstimatedCost = float64(len(recipients)) * reservation.Provider.CostPerMessage

	records := make([]*model.DeliveryRecord, len(recipients))
	for i, r := range recipients {
		records[i] = &model.DeliveryRecord{
			JobID:        job.ID,
			TenantID:     job.TenantID,
			Channel:      job.Channel,
			Category:     job.Category,
			RecipientID:  r.ID,
			Address:      r.Address,
			Name:         r.Name,
			Variables:    r.Variables,
			ProviderKind: job.ProviderKind,
			Status:       model.DeliveryQueued,
			QueuedAt:     job.CreatedAt,
		}
	}

	var created *model.DispatchJob
	err = s.jobs.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if created, err = s.jobs.Create(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		if err = s.records.CreateBatch(ctx, records); err != nil {
			return fmt.Errorf("create delivery records: %w", err)
		}
		meta := map[string]string{"tenant_id": job.TenantID, "channel": string(job.Channel)}
		if _, err = s.queue.PublishJSON(ctx, JobMessage{JobID: job.ID, TenantID: job.TenantID}, meta); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		return nil
	})
	if err != nil {
		if relErr := s.ledger.Release(ctx, reservation); relErr != nil {
			logger.Error("[dispatch] quota release failed", "job_id", job.ID, "error", relErr)
		}
		return nil, err
	}

	prom.IncJob(string(job.Channel), string(model.JobStateSending))
	prom.ObserveRecipients(string(job.Channel), len(recipients))
	logger.Info("[dispatch] job accepted", "job_id", job.ID, "tenant_id", job.TenantID, "channel", job.Channel, "recipients", len(recipients))
	return created, nil
}

func (s *DispatchService) expand(ctx context.Context, req model.SubmitJobRequest) ([]model.Recipient, error) {
	recipients := req.Recipients
	if len(recipients) == 0 {
		if s.audience == nil {
			return nil, fmt.Errorf("%w: audience filters are not supported", ErrInvalidRequest)
		}
		resolved, err := s.audience.Resolve(ctx, req.TenantID, req.Channel, req.Audience)
		if err != nil {
			return nil, fmt.Errorf("resolve audience: %w", err)
		}
		recipients = resolved
	}
	recipients = model.DedupeRecipients(req.Channel, recipients)
	if len(recipients) == 0 {
		return nil, audience.ErrNoRecipients
	}
	return recipients, nil
}

func (s *DispatchService) reject(ctx context.Context, job *model.DispatchJob, de *DenialError) (*model.DispatchJob, error) {
	now := s.calendar.NowUTC()
	job.State = model.JobStateRejected
	job.Reason = string(de.Reason)
	job.CompletedAt = &now
	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("store rejected job: %w", err)
	}
	prom.IncJob(string(job.Channel), string(model.JobStateRejected))
	return created, de
}

// Execute sends every queued record of a sending job and moves the job to
// its terminal state. It is safe to call again for the same job: finished
// jobs are skipped and only records still queued are sent. If ctx ends
// before the job finishes the remaining records stay queued and ctx.Err()
// is returned so the job is picked up again.
func (s *DispatchService) Execute(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.State != model.JobStateSending {
		logger.Debug("[dispatch] job not in sending state, skipping", "job_id", job.ID, "state", job.State)
		return nil
	}

	log := logger.With("job_id", job.ID, "tenant_id", job.TenantID, "channel", job.Channel)
	if err := s.jobs.MarkStarted(ctx, job.ID, s.calendar.NowUTC()); err != nil {
		return fmt.Errorf("mark job started: %w", err)
	}

	if job.ProviderSnapshot == nil {
		return s.abort(ctx, job, log, "provider snapshot missing")
	}
	provider, err := s.providers(ctx, job.ProviderSnapshot)
	if err != nil {
		log.Error("[dispatch] provider could not be built", "error", err)
		return s.abort(ctx, job, log, fmt.Sprintf("provider unavailable: %v", err))
	}
	defer func() {
		if err := providers.Close(provider); err != nil {
			log.Warn("[dispatch] provider close failed", "error", err)
		}
	}()

	records, err := s.records.ListQueuedByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load queued records: %w", err)
	}

	run := newJobRun(s, job, provider, log)
	cancelled := run.execute(ctx, records)
	if !cancelled && ctx.Err() != nil {
		log.Info("[dispatch] job interrupted, remaining records stay queued")
		return ctx.Err()
	}
	return s.finish(context.WithoutCancel(ctx), job, log, cancelled, "")
}

// Abandon closes a job that can no longer be executed. Records still queued
// are failed with reason and the job is finished with what was delivered.
func (s *DispatchService) Abandon(ctx context.Context, jobID, reason string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.State.Terminal() {
		return nil
	}
	log := logger.With("job_id", job.ID, "tenant_id", job.TenantID, "channel", job.Channel)
	log.Warn("[dispatch] abandoning job", "reason", reason)
	return s.abort(ctx, job, log, reason)
}

// abort fails every queued record with detail and finishes the job.
func (s *DispatchService) abort(ctx context.Context, job *model.DispatchJob, log logger.Logger, detail string) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.records.FailQueued(ctx, job.ID, detail, s.calendar.NowUTC()); err != nil {
		return fmt.Errorf("fail queued records: %w", err)
	}
	return s.finish(ctx, job, log, false, detail)
}

func (s *DispatchService) finish(ctx context.Context, job *model.DispatchJob, log logger.Logger, cancelled bool, reason string) error {
	now := s.calendar.NowUTC()
	if cancelled {
		if _, err := s.records.FailQueued(ctx, job.ID, cancelledDetail, now); err != nil {
			return fmt.Errorf("fail cancelled records: %w", err)
		}
		reason = cancelledDetail
	}

	outcome, err := s.records.Outcome(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("count job outcome: %w", err)
	}
	if outcome.Queued > 0 {
		n, err := s.records.FailQueued(ctx, job.ID, notAttemptedError, now)
		if err != nil {
			return fmt.Errorf("fail leftover records: %w", err)
		}
		outcome.Failed += n
		outcome.Queued = 0
	}

	state := model.JobStateCompleted
	switch {
	case cancelled:
		state = model.JobStateCancelled
	case outcome.Failed > 0:
		state = model.JobStatePartiallyFailed
	}

	err = s.jobs.Finish(ctx, job.ID, state, int(outcome.Succeeded), int(outcome.Failed), reason, now)
	if errors.Is(err, repository.ErrJobStateConflict) {
		log.Debug("[dispatch] job already finished elsewhere")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	if outcome.Succeeded > 0 && job.TemplateID != nil {
		if err := s.templates.IncrementUsage(ctx, *job.TemplateID); err != nil {
			log.Warn("[dispatch] template usage not incremented", "template_id", *job.TemplateID, "error", err)
		}
	}
	prom.IncJob(string(job.Channel), string(state))
	log.Info("[dispatch] job finished", "state", state, "succeeded", outcome.Succeeded, "failed", outcome.Failed)
	return nil
}

// Cancel asks a running job to stop. Records already handed to the provider
// keep their result; the rest are failed with detail "cancelled".
func (s *DispatchService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	if job.State.Terminal() {
		return ErrJobFinished
	}
	if s.flags == nil {
		return ErrCancelUnsupported
	}
	if err := s.flags.Set(ctx, cancelKey(jobID), []byte("1"), s.cfg.CancelTTL); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	logger.Info("[dispatch] cancellation requested", "job_id", jobID)
	return nil
}

func (s *DispatchService) cancelRequested(ctx context.Context, jobID string) bool {
	if s.flags == nil {
		return false
	}
	n, err := s.flags.Exist(ctx, cancelKey(jobID))
	if err != nil {
		logger.Warn("[dispatch] cancel flag lookup failed", "job_id", jobID, "error", err)
		return false
	}
	return n > 0
}

func cancelKey(jobID string) string {
	return "job:cancel:" + jobID
}

// GetJobStatus returns the job and the status of every recipient. Counters
// of a job still sending are computed from its records.
func (s *DispatchService) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	records, err := s.records.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load delivery records: %w", err)
	}

	status := &model.JobStatus{Job: job, Recipients: make([]*model.RecipientStatus, len(records))}
	for i, r := range records {
		status.Recipients[i] = &model.RecipientStatus{
			RecordID:    r.ID,
			Address:     r.Address,
			Status:      r.Status,
			Attempts:    r.Attempts,
			ErrorDetail: r.ErrorDetail,
		}
	}
	if !job.State.Terminal() {
		job.SentCount, job.FailedCount = 0, 0
		for _, r := range records {
			switch {
			case r.Status.Succeeded():
				job.SentCount++
			case r.Status == model.DeliveryFailed || r.Status == model.DeliveryBounced:
				job.FailedCount++
			}
		}
	}
	return status, nil
}

func (s *DispatchService) ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]*model.DispatchJob, int64, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	return s.jobs.ListByTenant(ctx, tenantID, limit, offset)
}

// TestSend sends one message through req.Provider synchronously. It skips
// the ledger and is never retried.
func (s *DispatchService) TestSend(ctx context.Context, req model.TestSendRequest) (*providers.Result, error) {
	cfg := req.Provider
	if cfg.Kind != model.ProviderNone {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	to := model.NormalizeAddress(cfg.Channel, req.To)
	if to == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrInvalidRequest)
	}

	provider, err := s.providers(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	defer providers.Close(provider)

	msg := &providers.Message{
		JobID:    "test-" + uuid.NewString(),
		Category: model.CategoryGeneral,
		To:       to,
		Subject:  req.Subject,
		Body:     req.Body,
	}
	if msg.Body == "" {
		msg.Body = defaultTestBody
	}
	if cfg.Channel == model.ChannelEmail && msg.Subject == "" {
		msg.Subject = defaultTestTitle
	}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	start := time.Now()
	result, err := provider.Send(sendCtx, msg)
	logger.Info("[dispatch] test send", "channel", cfg.Channel, "kind", cfg.Kind, "duration", time.Since(start), "error", err)
	if err != nil {
		return nil, normalizeSendError(err)
	}
	if result == nil {
		result = &providers.Result{Status: model.DeliverySent}
	}
	return result, nil
}

func normalizeSendError(err error) error {
	var de *providers.DeliveryError
	if !errors.As(err, &de) && errors.Is(err, context.DeadlineExceeded) {
		return providers.ErrTimeout
	}
	return err
}

func errorDetail(err error) string {
	var de *providers.DeliveryError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
