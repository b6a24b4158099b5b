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

func TestDispatcherRunsAllJobs(t *testing.T) {
	d := NewDispatcher(2, 4, 32, time.Minute)

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		sid := "session-a"
		if i%2 == 0 {
			sid = "session-b"
		}
		err := d.Submit(Job{
			SessionID: sid,
			Kind:      "test",
			Run: func() {
				atomic.AddInt64(&ran, 1)
				wg.Done()
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
}

func TestWarmWorkersAcceptJobs(t *testing.T) {
	// with min == max the pool never spawns on demand, so dispatch depends
	// entirely on the warm-started workers being handed jobs
	d := NewDispatcher(2, 2, 8, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Do(ctx, "s", "warm", func() {}))
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	d := NewDispatcher(1, maxWorkers, 64, time.Minute)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		err := d.Submit(Job{
			SessionID: "s",
			Kind:      "test",
			Run: func() {
				cur := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				wg.Done()
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(maxWorkers))
}

func TestSubmitBusy(t *testing.T) {
	// no workers pick anything up fast enough to drain a full queue of
	// blocked jobs plus the buffered channel
	d := NewDispatcher(1, 1, 1, time.Minute)

	block := make(chan struct{})
	defer close(block)
	_ = d.Submit(Job{SessionID: "s", Kind: "blocker", Run: func() { <-block }})

	var sawBusy bool
	for i := 0; i < 64; i++ {
		if err := d.Submit(Job{SessionID: "s", Kind: "fill", Run: func() {}}); err != nil {
			assert.ErrorIs(t, err, ErrBusy)
			sawBusy = true
			break
		}
	}
	assert.True(t, sawBusy)
}

func TestDoWaitsForCompletion(t *testing.T) {
	d := NewDispatcher(1, 2, 8, time.Minute)

	var ran bool
	err := d.Do(context.Background(), "s", "test", func() {
		time.Sleep(5 * time.Millisecond)
		ran = true
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDoContextExpiry(t *testing.T) {
	d := NewDispatcher(1, 1, 8, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Do(ctx, "s", "slow", func() { time.Sleep(200 * time.Millisecond) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
