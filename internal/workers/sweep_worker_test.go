package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls int64
	err   error
}

func (s *countingSweeper) Sweep(ctx context.Context) (int, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return 0, s.err
	}
	return 2, nil
}

func TestSweepWorkerRunsImmediatelyAndOnTicks(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewSweepWorker(DefaultWorkerConfig("sweeper"), sweeper, 10*time.Millisecond, nil)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	waitFor(t, func() bool { return atomic.LoadInt64(&sweeper.calls) >= 2 })
	assert.True(t, w.Stats().MessagesSucceeded >= 2)
}

func TestSweepWorkerCountsFailures(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("redis down")}
	w := NewSweepWorker(DefaultWorkerConfig("sweeper"), sweeper, time.Hour, nil)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	defer w.Stop(ctx)

	waitFor(t, func() bool { return w.Stats().MessagesFailed == 1 })
}

func TestSweepWorkerDefaultInterval(t *testing.T) {
	w := NewSweepWorker(DefaultWorkerConfig("sweeper"), &countingSweeper{}, 0, nil)
	assert.Equal(t, DefaultSweepInterval, w.interval)
}
