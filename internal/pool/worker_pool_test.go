package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行所有任务", func(t *testing.T) {
		p := NewWorkerPool(4, 16, nil)
		p.Start(context.Background())

		var done atomic.Int32
		for i := 0; i < 20; i++ {
			require.NoError(t, p.Submit(context.Background(), func(context.Context) { done.Add(1) }))
		}
		p.Stop()
		assert.Equal(t, int32(20), done.Load())
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.Start(context.Background())

		var done atomic.Bool
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { done.Store(true) }))
		p.Stop()
		assert.True(t, done.Load())
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrPoolStopped)
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("队列已满", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		block := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())

		require.True(t, p.TrySubmit(func(context.Context) { close(started); <-block }))
		<-started
		require.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.Submit(ctx, func(context.Context) {}), context.DeadlineExceeded)

		close(block)
		p.Stop()
	})
}
