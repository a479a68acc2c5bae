package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/school-notify/internal/queue"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/prom"
	"github.com/nimasrn/school-notify/pkg/redis"
	"github.com/nimasrn/school-notify/pkg/worker"
)

const (
	DefaultJobTimeout = 30 * time.Minute
	HealthInterval    = 30 * time.Second
	MetricsInterval   = 30 * time.Second
	ShutdownTimeout   = time.Minute
	backlogWarning    = 10_000
)

type Config struct {
	Consumers  int
	Workers    int
	JobTimeout time.Duration
	Queue      queue.QueueConfig
}

// ProcessorService consumes the dispatch queue and runs each job on a
// bounded worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    Config
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

func NewProcessorService(adapter redis.RedisAdapter, cfg Config) *ProcessorService {
	if cfg.Consumers < 1 {
		cfg.Consumers = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = cfg.Consumers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter: adapter,
		config:  cfg,
		metrics: NewServiceMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		worker:  worker.NewWorkerManager(cfg.Workers, cfg.Workers),
	}
}

func (s *ProcessorService) RegisterProcessor(p Processor) {
	s.processor = p
	logger.Info("[processor] registered", "type", p.GetType())
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start() error {
	if s.processor == nil {
		return fmt.Errorf("no processor registered")
	}
	logger.Info("[processor] starting")

	s.worker.SetWorker(s.workerHandler)
	s.worker.Start(s.ctx)

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-instance-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("[processor] started", "consumers", len(s.queues), "workers", s.config.Workers, "queue", s.config.Queue.Name)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	st := s.metrics.GetStats()
	logger.Info("[processor] metrics",
		"in_flight", st.InFlight,
		"total_processed", st.Processed,
		"total_failed", st.Failed,
		"slowest_ms", st.Slowest.Milliseconds(),
		"rate_per_second", st.RatePerSecond,
		"avg_duration_ms", st.AvgDuration.Milliseconds(),
		"uptime_seconds", st.Uptime.Seconds(),
		"worker_backlog", s.worker.GetUnreadCount())

	// all consumers share one stream, one lookup is enough
	if len(s.queues) == 0 {
		return
	}
	q := s.queues[0]
	if qs, err := q.GetStats(context.Background()); err == nil {
		prom.SetQueueBacklog(q.Name(), qs.PendingMessages)
		logger.Info("[processor] queue stats", "queue", q.Name(), "total", qs.TotalMessages, "pending", qs.PendingMessages)
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.performHealthCheck(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck(ctx context.Context) bool {
	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("[processor] health check failed: redis unreachable", "error", err)
		return false
	}
	if len(s.queues) > 0 {
		stats, err := s.queues[0].GetStats(ctx)
		if err != nil {
			logger.Warn("[processor] health check: queue stats unavailable", "error", err)
		} else if stats.PendingMessages > backlogWarning {
			logger.Warn("[processor] health check: queue lagging", "pending_messages", stats.PendingMessages)
		}
	}
	logger.Debug("[processor] health check ok")
	return true
}

// Stop stops consuming, lets running jobs return and waits for the
// background loops. Interrupted jobs keep their queued records and resume on
// redelivery.
func (s *ProcessorService) Stop() {
	logger.Info("[processor] shutting down")
	s.cancel()

	var wg sync.WaitGroup
	for i, q := range s.queues {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("[processor] queue did not stop", "queue", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	s.worker.Wait()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("[processor] stopped")
}

type jobRequest struct {
	ctx    context.Context
	msg    *queue.Message
	result chan error
}

// messageHandler hands the message to the pool and blocks until a worker
// reports, so the queue acks only finished work.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	msgCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	req := &jobRequest{ctx: msgCtx, msg: msg, result: make(chan error, 1)}
	if err := s.worker.Enqueue(msgCtx, req); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}

	select {
	case err := <-req.result:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(_ context.Context, workerIndex int, job any) {
	req, ok := job.(*jobRequest)
	if !ok {
		logger.Error("[processor] invalid job type in worker", "worker", workerIndex)
		return
	}
	if req.ctx.Err() != nil {
		req.result <- req.ctx.Err()
		return
	}

	done := s.metrics.Begin()
	err := s.processor.Process(req.ctx, req.msg)
	done(err)
	if err != nil {
		logger.Error("[processor] message failed", "worker", workerIndex, "message_id", req.msg.ID, "error", err)
	}
	// buffered, never blocks
	req.result <- err
}
