package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/model"
)

func newTestDispatcher(st *fakeStore, p *fakeProvider) (*Dispatcher, *Pool) {
	pool := NewPool(newTestChecker(st, p, &countingNotifier{}), fastPoolConfig())
	return NewDispatcher(st, pool, 6*time.Hour), pool
}

func TestDispatcher_SubmitsOnlyDueZones(t *testing.T) {
	st := newFakeStore()
	due := seedActiveZone(st)

	// Recently checked zone is not due.
	fresh := &model.Zone{
		ID: "z-fresh", OwnerID: "u1", Name: "Fresh", Geometry: validGeometry,
		Frequency: model.FrequencyWeekly, Status: model.ZoneStatusActive,
	}
	recently := time.Now().Add(-1 * time.Hour)
	fresh.LastCheckedAt = &recently
	require.NoError(t, st.CreateZone(context.Background(), fresh))

	// Paused zone is never dispatched.
	paused := &model.Zone{
		ID: "z-paused", OwnerID: "u1", Name: "Paused", Geometry: validGeometry,
		Frequency: model.FrequencyWeekly, Status: model.ZoneStatusPaused,
	}
	require.NoError(t, st.CreateZone(context.Background(), paused))

	d, pool := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})

	submitted, err := d.Dispatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, submitted)

	// Only the due zone holds a lease.
	pool.mu.Lock()
	_, dueHeld := pool.leases[due.ID]
	_, freshHeld := pool.leases[fresh.ID]
	_, pausedHeld := pool.leases[paused.ID]
	pool.mu.Unlock()
	assert.True(t, dueHeld)
	assert.False(t, freshHeld)
	assert.False(t, pausedHeld)
}

func TestDispatcher_ElapsedIntervalMakesZoneDue(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)
	staleCheck := time.Now().Add(-8 * 24 * time.Hour)
	st.mu.Lock()
	st.zones[zone.ID].LastCheckedAt = &staleCheck
	st.mu.Unlock()

	d, _ := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})

	submitted, err := d.Dispatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, submitted)
}

func TestDispatcher_StoreFailureAbortsRound(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	st.listErr = assert.AnError

	d, pool := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})

	submitted, err := d.Dispatch(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, 0, submitted)
	assert.Equal(t, int64(0), pool.Stats().Submitted)
}

func TestDispatcher_HeldLeaseSkippedNotDuplicated(t *testing.T) {
	st := newFakeStore()
	zone := seedActiveZone(st)

	d, pool := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})

	// Simulate an in-flight check from the previous round.
	require.True(t, pool.Submit(zone.ID, testEpoch))

	submitted, err := d.Dispatch(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, submitted)
	assert.Equal(t, int64(1), pool.Stats().Submitted)
}

func TestDispatcher_EpochAlignsToInterval(t *testing.T) {
	d := NewDispatcher(newFakeStore(), nil, 6*time.Hour)

	now := time.Date(2025, 4, 1, 8, 42, 13, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 4, 1, 6, 0, 0, 0, time.UTC), d.Epoch(now))

	// Any instant within the same window maps to the same epoch, so
	// overlapping rounds converge on one change record per zone.
	later := time.Date(2025, 4, 1, 11, 59, 59, 0, time.UTC)
	assert.Equal(t, d.Epoch(now), d.Epoch(later))
}

func TestScheduler_KeepsTickingThroughFailures(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	st.listErr = assert.AnError

	d, _ := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})
	s := NewScheduler(d, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_SlowRoundDoesNotStallTicks(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	st.listBlock = 500 * time.Millisecond

	d, _ := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})
	s := NewScheduler(d, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Each round blocks far longer than the interval; the ticker must keep
	// starting rounds instead of waiting the slow ones out.
	waitFor(t, 2*time.Second, func() bool { return st.listCalls.Load() >= 5 })
	cancel()
	<-done
}

func TestScheduler_SurvivesPanickingRound(t *testing.T) {
	st := newFakeStore()
	seedActiveZone(st)
	st.listPanics = true

	d, _ := newTestDispatcher(st, &fakeProvider{results: []fakeResult{{area: 0}}})
	s := NewScheduler(d, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Every round panics; Run must still exit cleanly on its own schedule.
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
