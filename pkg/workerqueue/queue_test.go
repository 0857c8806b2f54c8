package workerqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueueProcessesSubmittedItems(t *testing.T) {
	var processed atomic.Int64
	q := New(context.Background(), Config{Capacity: 16, Workers: 2}, func(ctx context.Context, item int) {
		processed.Add(int64(item))
	}, zaptest.NewLogger(t))

	for i := 1; i <= 10; i++ {
		require.True(t, q.Submit(i))
	}
	q.Close(time.Second)

	assert.Equal(t, int64(55), processed.Load())
}

func TestQueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := New(context.Background(), Config{Capacity: 1, Workers: 1}, func(ctx context.Context, item int) {
		<-block
	}, zaptest.NewLogger(t))

	require.True(t, q.Submit(1)) // consumed by the single worker, which then blocks
	time.Sleep(20 * time.Millisecond)
	require.True(t, q.Submit(2)) // fills the capacity-1 channel
	ok := q.Submit(3)            // channel full and worker still blocked: dropped
	assert.False(t, ok)
	assert.Equal(t, int64(1), q.Dropped())

	close(block)
	q.Close(time.Second)
}

func TestQueueSubmitAfterCloseIsDropped(t *testing.T) {
	q := New(context.Background(), Config{Capacity: 4, Workers: 1}, func(ctx context.Context, item int) {}, zaptest.NewLogger(t))
	q.Close(time.Second)

	ok := q.Submit(1)
	assert.False(t, ok)
	assert.Equal(t, int64(1), q.Dropped())
}

func TestQueueCloseDrainsBacklogBeforeGraceElapses(t *testing.T) {
	var processed atomic.Int64
	q := New(context.Background(), Config{Capacity: 32, Workers: 4}, func(ctx context.Context, item int) {
		time.Sleep(5 * time.Millisecond)
		processed.Add(1)
	}, zaptest.NewLogger(t))

	for i := 0; i < 20; i++ {
		require.True(t, q.Submit(i))
	}
	// Ample grace: every queued item must finish, not just whatever each
	// worker happened to be holding when Close was called.
	q.Close(time.Second)

	assert.Equal(t, int64(20), processed.Load())
}

func TestQueueCloseDiscardsPendingAfterGrace(t *testing.T) {
	block := make(chan struct{})
	q := New(context.Background(), Config{Capacity: 4, Workers: 1}, func(ctx context.Context, item int) {
		<-block
	}, zaptest.NewLogger(t))

	require.True(t, q.Submit(1))
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	q.Close(50 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	close(block)
}
