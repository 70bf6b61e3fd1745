package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqyuan/legion/service/event"
)

func TestUserEventSubscribeAfterFire(t *testing.T) {
	s := New()
	ev := s.NewUserEvent()
	ev.Trigger()

	fired := false
	ev.Subscribe(func(poisoned bool) {
		fired = true
		assert.False(t, poisoned)
	})
	assert.True(t, fired)
	assert.True(t, ev.Triggered())

	// A second trigger is a no-op.
	ev.TriggerWithPoison()
	assert.False(t, ev.Poisoned())
}

func TestMergePoison(t *testing.T) {
	s := New()
	a := s.NewUserEvent()
	b := s.NewUserEvent()
	merged := s.Merge(a, b)

	a.Trigger()
	assert.False(t, merged.Triggered())
	b.TriggerWithPoison()
	assert.True(t, merged.Triggered())
	assert.True(t, merged.Poisoned())

	err := merged.Wait(context.Background())
	assert.ErrorIs(t, err, event.ErrPoisoned)
}

func TestMergeEmptyCompletes(t *testing.T) {
	s := New()
	assert.True(t, s.Merge().Triggered())
	assert.True(t, s.Completed().Triggered())
}

func TestFutureSingleAssignment(t *testing.T) {
	s := New()
	f := s.NewFuture()
	f.Set(41)
	f.Set(42)

	value, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41, value)

	v, ok := f.Value()
	assert.True(t, ok)
	assert.Equal(t, 41, v)
}

func TestFuturePoisoned(t *testing.T) {
	s := New()
	f := s.NewFuture()
	f.SetPoisoned()

	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, event.ErrPoisoned)
	_, ok := f.Value()
	assert.False(t, ok)
}

func TestReservationFIFO(t *testing.T) {
	s := New()
	r := s.NewReservation()
	ctx := context.Background()

	require.NoError(t, r.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Stagger arrivals so the queue order is deterministic.
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			require.NoError(t, r.Acquire(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			r.Release()
		}(i)
	}
	close(start)
	time.Sleep(120 * time.Millisecond)
	r.Release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWaitContextCancel(t *testing.T) {
	s := New()
	ev := s.NewUserEvent()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, ev.Wait(ctx))
}
