package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/resilience"
)

func fastPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		QueueDepth:   64,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		SoftTimeout:  2 * time.Second,
		HardTimeout:  5 * time.Second,
	}
}

// startPool runs the pool in the background and returns a stop function
// that cancels it and waits for the workers to drain.
func startPool(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPool_SubmitRefusesHeldLease(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{{area: 100}}}
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())

	// No workers running: the first submit takes the lease and parks in
	// the queue, the second must be refused.
	assert.True(t, pool.Submit("z1", testEpoch))
	assert.False(t, pool.Submit("z1", testEpoch))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestPool_LeaseReleasedAfterCompletion(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{{area: 100}}}
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())
	stop := startPool(t, pool)
	defer stop()

	require.True(t, pool.Submit("z1", testEpoch))
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Completed == 1 })

	// Lease is free again.
	assert.True(t, pool.Submit("z1", testEpoch))
}

func TestPool_RetriesTransientThenSucceeds(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{
		{err: resilience.NewTransientError(assert.AnError, 503)},
		{err: resilience.NewTransientError(assert.AnError, 503)},
		{area: 1200},
	}}
	n := &countingNotifier{}
	pool := NewPool(newTestChecker(st, p, n), fastPoolConfig())
	stop := startPool(t, pool)
	defer stop()

	require.True(t, pool.Submit(zone.ID, testEpoch))
	waitFor(t, 3*time.Second, func() bool { return pool.Stats().Completed == 1 })

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 3, p.callCount())
	assert.Equal(t, 1, st.changeCount(zone.ID))

	_, delivered := n.counts()
	assert.Equal(t, 1, delivered)
}

func TestPool_ExhaustedRetriesLeaveZoneDue(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{
		{err: resilience.NewTransientError(assert.AnError, 503)},
	}}
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())
	stop := startPool(t, pool)
	defer stop()

	require.True(t, pool.Submit(zone.ID, testEpoch))
	waitFor(t, 3*time.Second, func() bool { return pool.Stats().Failed == 1 })

	assert.Equal(t, 3, p.callCount())

	got, _ := st.GetZone(context.Background(), zone.ID)
	assert.Nil(t, got.LastCheckedAt)
	assert.Equal(t, model.ZoneStatusActive, got.Status)
	assert.Equal(t, 0, st.changeCount(zone.ID))

	// Lease released after abandonment.
	assert.True(t, pool.Submit(zone.ID, testEpoch))
}

func TestPool_StuckCheckAbandonedAtHardDeadline(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)
	// The provider ignores cancellation for far longer than the hard
	// deadline, like a client stuck on a dead TCP connection.
	p := &fakeProvider{results: []fakeResult{{area: 100, block: 300 * time.Millisecond}}}
	cfg := fastPoolConfig()
	cfg.MaxAttempts = 2
	cfg.SoftTimeout = 20 * time.Millisecond
	cfg.HardTimeout = 60 * time.Millisecond
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), cfg)
	stop := startPool(t, pool)
	defer stop()

	require.True(t, pool.Submit(zone.ID, testEpoch))
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Failed == 1 })

	// Abandonment is transient: the first attempt was given up at the hard
	// deadline and the budget still bought a second one.
	assert.Equal(t, int64(1), pool.Stats().Retried)
	assert.Equal(t, 2, p.callCount())

	// The worker moved on and the lease is free for the next round.
	assert.True(t, pool.Submit(zone.ID, testEpoch))
}

func TestPool_PermanentErrorNotRetried(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{
		{err: resilience.NewPermanentError(assert.AnError)},
	}}
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())
	stop := startPool(t, pool)
	defer stop()

	require.True(t, pool.Submit(zone.ID, testEpoch))
	waitFor(t, 2*time.Second, func() bool { return pool.Stats().Failed == 1 })

	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, int64(0), pool.Stats().Retried)

	got, _ := st.GetZone(context.Background(), zone.ID)
	assert.Equal(t, model.ZoneStatusFailed, got.Status)
}

func TestPool_ConcurrentSubmitsOneWinnerPerZone(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{{area: 100}}}
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())

	const racers = 32
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pool.Submit("z1", testEpoch) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestPool_QueueFullRefusesAndReleasesLease(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	p := &fakeProvider{results: []fakeResult{{area: 100}}}
	cfg := fastPoolConfig()
	cfg.QueueDepth = 1
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), cfg)

	// Fill the queue (workers not running).
	assert.True(t, pool.Submit("z1", testEpoch))
	assert.False(t, pool.Submit("z2", testEpoch))

	// z2's lease was rolled back, so a later round can resubmit it.
	pool.mu.Lock()
	_, held := pool.leases["z2"]
	pool.mu.Unlock()
	assert.False(t, held)
}
