package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocaine/rpcproxy/metrics/metricstest"
	"github.com/cocaine/rpcproxy/scheduler"
)

func TestNilQueue(t *testing.T) {
	q := scheduler.New(scheduler.Config{})
	require.Nil(t, q)

	done, err := q.Wait()
	require.NoError(t, err)
	done()

	assert.Equal(t, scheduler.QueueStatus{}, q.Status())
	q.Close()
}

func TestQueueFull(t *testing.T) {
	q := scheduler.New(scheduler.Config{MaxConcurrency: 1, MaxQueueSize: 1})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		done, err := q.Wait()
		if err == nil {
			done()
		}

		queued <- err
	}()

	assert.Eventually(t, func() bool {
		return q.Status() == scheduler.QueueStatus{ActiveRequests: 1, QueuedRequests: 1}
	}, time.Second, time.Millisecond)

	_, err = q.Wait()
	assert.ErrorIs(t, err, scheduler.ErrQueueFull)

	done()
	assert.NoError(t, <-queued)
}

func TestQueueTimeout(t *testing.T) {
	q := scheduler.New(scheduler.Config{MaxConcurrency: 1, MaxQueueSize: 1, Timeout: 10 * time.Millisecond})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)
	defer done()

	_, err = q.Wait()
	assert.ErrorIs(t, err, scheduler.ErrQueueTimeout)
}

func TestQueueMeasure(t *testing.T) {
	q := scheduler.New(scheduler.Config{MaxConcurrency: 2})
	defer q.Close()

	done, err := q.Wait()
	require.NoError(t, err)
	defer done()

	m := &metricstest.MockMetrics{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Measure(ctx, m, time.Millisecond)

	assert.Eventually(t, func() bool {
		v, ok := m.Gauge("inflight.active")
		return ok && v == 1
	}, time.Second, time.Millisecond)
}
