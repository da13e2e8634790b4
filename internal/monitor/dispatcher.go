package monitor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/store"
)

// Dispatcher enumerates active zones and enqueues the due ones. Every zone
// dispatched in one round shares the same epoch, so a retried or re-run
// round collapses onto the same change records.
type Dispatcher struct {
	store    store.Store
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. interval is the scheduler period used
// to derive the round epoch.
func NewDispatcher(st store.Store, pool *Pool, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:    st,
		pool:     pool,
		interval: interval,
		logger:   zap.L().With(zap.String("component", "dispatcher")),
	}
}

// Epoch maps a wall-clock instant onto its scheduling epoch.
func (d *Dispatcher) Epoch(now time.Time) time.Time {
	return now.UTC().Truncate(d.interval)
}

// Dispatch runs one round: list active zones, filter to the ones whose
// check interval has elapsed, and submit each to the pool. A store listing
// failure aborts the whole round; zones refused by the pool (lease held,
// queue full) are skipped and picked up by a later round.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (int, error) {
	zones, err := d.store.ListZones(ctx, store.ZoneFilter{Status: model.ZoneStatusActive})
	if err != nil {
		return 0, eris.Wrap(err, "dispatcher: list zones")
	}

	epoch := d.Epoch(now)
	submitted := 0
	skipped := 0
	for i := range zones {
		zone := &zones[i]
		if !zone.Due(now) {
			continue
		}
		if d.pool.Submit(zone.ID, epoch) {
			submitted++
		} else {
			skipped++
		}
	}

	d.logger.Info("dispatch round complete",
		zap.Time("epoch", epoch),
		zap.Int("active_zones", len(zones)),
		zap.Int("submitted", submitted),
		zap.Int("skipped", skipped),
	)
	return submitted, nil
}
