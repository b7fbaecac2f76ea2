package task_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
	"github.com/zeebo/assert"
)

func TestGraph_RunsDependenciesFirst(t *testing.T) {
	g := task.NewGraph(4)
	a := task.Add(g, "a", func(ctx context.Context) (int, error) { return 2, nil })
	b := task.Add(g, "b", func(ctx context.Context) (int, error) { return 3, nil })
	sum := task.Add(g, "sum", func(ctx context.Context) (int, error) {
		return a.Value() + b.Value(), nil
	}, a, b)
	double := task.Add(g, "double", func(ctx context.Context) (int, error) {
		return sum.Value() * 2, nil
	}, sum)

	assert.NoError(t, g.Run(context.Background()))
	assert.Equal(t, sum.Value(), 5)
	assert.Equal(t, double.Value(), 10)
}

func TestGraph_RespectsLimit(t *testing.T) {
	g := task.NewGraph(2)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		task.Add(g, "worker", func(ctx context.Context) (struct{}, error) {
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
	}
	assert.NoError(t, g.Run(context.Background()))
	assert.True(t, peak.Load() <= 2)
}

func TestGraph_FailureSkipsDependents(t *testing.T) {
	boom := errors.New("boom")
	g := task.NewGraph(2)
	var dependentRan atomic.Bool
	failing := task.Add(g, "failing", func(ctx context.Context) (int, error) { return 0, boom })
	other := task.Add(g, "other", func(ctx context.Context) (int, error) { return 1, nil })
	task.Add(g, "dependent", func(ctx context.Context) (int, error) {
		dependentRan.Store(true)
		return 0, nil
	}, failing, other)

	err := g.Run(context.Background())
	assert.True(t, errors.Is(err, boom))
	assert.False(t, dependentRan.Load())
}

func TestGraph_CancelledContextSkipsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := task.NewGraph(1)
	var ran atomic.Bool
	task.Add(g, "a", func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	err := g.Run(ctx)
	assert.True(t, errors.Is(err, models.ErrCancelled))
	assert.False(t, ran.Load())
}

func TestHandle_CompletionOnQueue(t *testing.T) {
	g := task.NewGraph(1)
	task.Add(g, "a", func(ctx context.Context) (int, error) { return 1, nil })

	queue := task.NewSerialQueue(1)
	defer queue.Stop()
	result := make(chan error, 1)
	h := g.Start(context.Background(), queue, func(err error) { result <- err })

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completion was not delivered")
	}
	assert.NoError(t, h.Wait(context.Background()))
}

func TestHandle_CancelSuppressesCompletion(t *testing.T) {
	g := task.NewGraph(1)
	started := make(chan struct{})
	task.Add(g, "slow", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	var called atomic.Bool
	h := g.Start(context.Background(), task.InlineQueue{}, func(err error) { called.Store(true) })
	<-started
	h.Cancel()

	err := h.Wait(context.Background())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, h.Cancelled())
	assert.False(t, called.Load())
}

func TestSerialQueue_PreservesOrder(t *testing.T) {
	queue := task.NewSerialQueue(16)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		queue.Dispatch(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	queue.Stop()
	assert.Equal(t, got, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	// dropped after stop
	queue.Dispatch(func() { got = append(got, 99) })
	assert.Equal(t, len(got), 10)
}

type fakeCall struct{ cancelled atomic.Bool }

func (f *fakeCall) Cancel() { f.cancelled.Store(true) }

func TestCallStore_ReplaceCancelsPrevious(t *testing.T) {
	var store task.CallStore
	first, second := &fakeCall{}, &fakeCall{}

	store.Replace(first)
	assert.True(t, store.IsCurrent(first))

	store.Replace(second)
	assert.True(t, first.cancelled.Load())
	assert.False(t, second.cancelled.Load())

	// clearing a stale call leaves the slot alone
	store.Clear(first)
	assert.True(t, store.IsCurrent(second))

	store.CancelAll()
	assert.True(t, second.cancelled.Load())
	assert.False(t, store.IsCurrent(second))
}
