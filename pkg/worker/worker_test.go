package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesEveryJob(t *testing.T) {
	wm := NewWorkerManager(4, 3)

	var mu sync.Mutex
	seen := map[int]bool{}
	wm.SetWorker(func(ctx context.Context, _ int, job any) {
		mu.Lock()
		seen[job.(int)] = true
		mu.Unlock()
	})
	wm.Start(context.Background())

	for i := 0; i < 50; i++ {
		require.NoError(t, wm.Enqueue(context.Background(), i))
	}
	wm.Wait()

	assert.Len(t, seen, 50)
}

func TestWorkerManager_BoundsConcurrency(t *testing.T) {
	wm := NewWorkerManager(0, 2)

	var active, peak int32
	wm.SetWorker(func(ctx context.Context, _ int, _ any) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	})
	wm.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, wm.Enqueue(context.Background(), i))
	}
	wm.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestWorkerManager_EnqueueAfterWait(t *testing.T) {
	wm := NewWorkerManager(1, 1)
	wm.SetWorker(func(context.Context, int, any) {})
	wm.Start(context.Background())
	wm.Wait()

	assert.ErrorIs(t, wm.Enqueue(context.Background(), 1), ErrClosed)
}

func TestWorkerManager_EnqueueHonoursContext(t *testing.T) {
	wm := NewWorkerManager(0, 1)
	block := make(chan struct{})
	wm.SetWorker(func(context.Context, int, any) { <-block })
	wm.Start(context.Background())

	require.NoError(t, wm.Enqueue(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := wm.Enqueue(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	wm.Wait()
}

func TestWorkerManager_RecoversPanics(t *testing.T) {
	wm := NewWorkerManager(2, 1)
	var handled int32
	wm.SetWorker(func(_ context.Context, _ int, job any) {
		if job.(int) == 0 {
			panic("boom")
		}
		atomic.AddInt32(&handled, 1)
	})
	wm.Start(context.Background())

	require.NoError(t, wm.Enqueue(context.Background(), 0))
	require.NoError(t, wm.Enqueue(context.Background(), 1))
	wm.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))
}
