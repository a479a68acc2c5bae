package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/nimasrn/school-notify/pkg/logger"
)

var ErrClosed = errors.New("worker manager is closed")

type WorkerHandler = func(ctx context.Context, workerIndex int, job any)

// WorkerManager is a fixed-size goroutine pool fed through a buffered
// channel. Enqueue blocks when the buffer is full, which bounds the number of
// jobs in memory. Wait closes the intake and blocks until every accepted job
// has been handled.
type WorkerManager struct {
	bufferSize     int
	jobChannel     chan any
	numberOfWorker int
	do             WorkerHandler
	waiter         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan any, bufferSize),
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Start launches the workers. ctx is handed to every handler call; workers
// keep draining the channel after ctx is cancelled so that accepted jobs are
// never silently dropped, handlers are expected to check ctx themselves.
func (w *WorkerManager) Start(ctx context.Context) {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for job := range w.jobChannel {
				w.handle(ctx, index, job)
			}
		}(i)
	}
}

func (w *WorkerManager) handle(ctx context.Context, index int, job any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[worker] handler panicked", "worker", index, "panic", r)
		}
	}()
	w.do(ctx, index, job)
}

// Enqueue publishes a job onto the pool.
func (w *WorkerManager) Enqueue(ctx context.Context, job any) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case w.jobChannel <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait stops accepting jobs and blocks until the workers have drained the
// channel. It must not be called concurrently with Enqueue.
func (w *WorkerManager) Wait() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobChannel)
	}
	w.mu.Unlock()
	w.waiter.Wait()
}
