package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("not a schedule", func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New("0 3 * * *", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, s.NextRun())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	// cron computes Next asynchronously once started.
	require.Eventually(t, func() bool {
		next := s.NextRun()
		return next != nil && !next.IsZero()
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s, err := New("0 3 * * *", func(context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestScheduler_TriggerCollapsesOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	var runs atomic.Int32
	boom := errors.New("boom")

	s, err := New("0 3 * * *", func(context.Context) error {
		runs.Add(1)
		entered <- struct{}{}
		<-release
		return boom
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	shared := make([]bool, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		shared[0], results[0] = s.Trigger(context.Background())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		shared[1], results[1] = s.Trigger(context.Background())
	}()
	// Give the second trigger time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.ErrorIs(t, results[0], boom)
	assert.ErrorIs(t, results[1], boom)
	assert.True(t, shared[0] && shared[1])
}
