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

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{MaxWorkers: 0, QueueSize: 1}).Validate())
	assert.Error(t, (&Config{MaxWorkers: 1, QueueSize: 0}).Validate())
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(&Config{MaxWorkers: 3, QueueSize: 16})
	p.Start()
	defer stopPool(t, p)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.EqualValues(t, 10, ran.Load())
	assert.Eventually(t, func() bool {
		return p.GetMetrics()["completed_tasks"] == 10
	}, time.Second, 10*time.Millisecond)
}

func TestPoolSubmitNeverBlocks(t *testing.T) {
	p := NewPool(&Config{MaxWorkers: 1, QueueSize: 1})
	p.Start()
	defer stopPool(t, p)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	// Worker is occupied; one slot of queue remains.
	require.NoError(t, p.Submit(func(context.Context) {}))

	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestPoolStopCancelsRunningTasks(t *testing.T) {
	p := NewPool(&Config{MaxWorkers: 1, QueueSize: 1})
	p.Start()

	observed := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(observed)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("task never observed cancellation")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(&Config{MaxWorkers: 1, QueueSize: 4})
	p.Start()
	defer stopPool(t, p)

	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))

	var ran atomic.Bool
	require.NoError(t, p.Submit(func(context.Context) { ran.Store(true) }))

	assert.Eventually(t, func() bool { return ran.Load() }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, p.GetMetrics()["panicked_tasks"])
}

func stopPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)
}
