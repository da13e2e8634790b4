// Package monitor implements the scheduling and execution pipeline: a
// scheduler fires dispatch rounds, a dispatcher enqueues due zones, and a
// worker pool runs the idempotent per-zone check task.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/evaluate"
	"github.com/geowatch/geowatch/internal/geo"
	"github.com/geowatch/geowatch/internal/model"
	"github.com/geowatch/geowatch/internal/notify"
	"github.com/geowatch/geowatch/internal/provider"
	"github.com/geowatch/geowatch/internal/resilience"
	"github.com/geowatch/geowatch/internal/store"
)

// Outcome classifies one check execution. Only OutcomeTransientError is
// eligible for retry; everything else is terminal for the (zone, epoch).
type Outcome string

const (
	OutcomeNoChange        Outcome = "no_change"
	OutcomeChangeDetected  Outcome = "change_detected"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeZoneNotFound    Outcome = "zone_not_found"
	OutcomeTransientError  Outcome = "transient_error"
	OutcomePermanentError  Outcome = "permanent_error"
)

// Checker runs one change-detection check for a zone. Safe for concurrent
// use; every attempt for the same (zone, epoch) converges on at most one
// change record and at most one delivered notification.
type Checker struct {
	store    store.Store
	provider provider.Provider
	notifier notify.Notifier
	baseline provider.DateRange
	recent   provider.DateRange
	logger   *zap.Logger
}

// NewChecker creates a Checker that compares the given baseline and recent
// imagery windows.
func NewChecker(st store.Store, p provider.Provider, n notify.Notifier, baseline, recent provider.DateRange) *Checker {
	return &Checker{
		store:    st,
		provider: p,
		notifier: n,
		baseline: baseline,
		recent:   recent,
		logger:   zap.L().With(zap.String("component", "checker")),
	}
}

// Check executes one check attempt for the zone at the given epoch.
//
// The sequence is: load zone, validate geometry, compute change, evaluate
// significance, record (idempotently, keyed on zone+epoch), mark checked,
// notify. A transient failure anywhere before mark-checked leaves
// last_checked_at untouched so the zone stays due.
func (c *Checker) Check(ctx context.Context, zoneID string, epoch time.Time) (Outcome, error) {
	log := c.logger.With(zap.String("zone_id", zoneID), zap.Time("epoch", epoch))

	zone, err := c.store.GetZone(ctx, zoneID)
	if err != nil {
		if errors.Is(err, store.ErrZoneNotFound) {
			log.Warn("zone vanished before check")
			return OutcomeZoneNotFound, nil
		}
		return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: load zone"), 0)
	}

	if zone.Status != model.ZoneStatusActive {
		log.Debug("zone no longer active, skipping", zap.String("status", string(zone.Status)))
		return OutcomeNoChange, nil
	}

	// A record for this epoch means a previous attempt already ran the
	// analysis; only the checked timestamp and the notification can still
	// be owed. Never re-run the provider for a settled epoch.
	existing, err := c.store.GetChangeByZoneEpoch(ctx, zone.ID, epoch)
	if err != nil && !errors.Is(err, store.ErrChangeNotFound) {
		return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: load existing record"), 0)
	}
	if existing != nil {
		return c.resume(ctx, log, zone, existing)
	}

	if err := geo.Validate(zone.Geometry); err != nil {
		return c.failPermanently(ctx, log, zone, eris.Wrap(err, "checker: invalid geometry"))
	}

	result, err := c.provider.ComputeChange(ctx, zone.Geometry, c.baseline, c.recent)
	if err != nil {
		if resilience.IsPermanent(err) {
			return c.failPermanently(ctx, log, zone, err)
		}
		return OutcomeTransientError, err
	}

	eval := evaluate.Evaluate(result.ChangeAreaM2, zone.ConfidenceThreshold)
	now := time.Now().UTC()

	if !eval.Significant {
		if err := c.store.MarkZoneChecked(ctx, zone.ID, now, false); err != nil {
			return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: mark checked"), 0)
		}
		log.Info("check complete, no significant change",
			zap.Float64("change_area_m2", result.ChangeAreaM2))
		return OutcomeNoChange, nil
	}

	rec := &model.ChangeRecord{
		ZoneID:        zone.ID,
		OwnerID:       zone.OwnerID,
		ZoneName:      zone.Name,
		Epoch:         epoch,
		DetectedAt:    now,
		ChangeAreaM2:  result.ChangeAreaM2,
		ChangePercent: eval.Percent,
		Severity:      eval.Severity,
		BeforeImage:   result.BeforeImage,
		AfterImage:    result.AfterImage,
	}

	inserted, err := c.store.CreateChangeRecord(ctx, rec)
	if err != nil {
		return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: record change"), 0)
	}

	if !inserted {
		// Lost a race with a concurrent attempt for the same epoch.
		winner, err := c.store.GetChangeByZoneEpoch(ctx, zone.ID, epoch)
		if err != nil {
			return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: load existing record"), 0)
		}
		return c.resume(ctx, log, zone, winner)
	}

	if err := c.store.MarkZoneChecked(ctx, zone.ID, now, true); err != nil {
		return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: mark checked"), 0)
	}

	log.Info("significant change detected",
		zap.String("record_id", rec.ID),
		zap.Float64("change_area_m2", rec.ChangeAreaM2),
		zap.String("severity", string(rec.Severity)),
	)

	if err := c.deliver(ctx, log, zone, rec); err != nil {
		// The record and the checked timestamp are durable; the retry
		// lands on the already-recorded path and resends.
		return OutcomeTransientError, err
	}
	return OutcomeChangeDetected, nil
}

// resume finishes a check whose analysis already settled in an earlier
// attempt: advance the checked timestamp and deliver the notification if
// it is still owed.
func (c *Checker) resume(ctx context.Context, log *zap.Logger, zone *model.Zone, rec *model.ChangeRecord) (Outcome, error) {
	if err := c.store.MarkZoneChecked(ctx, zone.ID, time.Now().UTC(), false); err != nil {
		return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(err, "checker: mark checked"), 0)
	}
	if !rec.Notified {
		if err := c.deliver(ctx, log, zone, rec); err != nil {
			return OutcomeTransientError, err
		}
	}
	log.Info("change already recorded for epoch", zap.String("record_id", rec.ID))
	return OutcomeAlreadyRecorded, nil
}

// failPermanently parks the zone so the scheduler stops re-dispatching a
// check that can never succeed.
func (c *Checker) failPermanently(ctx context.Context, log *zap.Logger, zone *model.Zone, cause error) (Outcome, error) {
	log.Error("permanent check failure, parking zone", zap.Error(cause))
	if err := c.store.SetZoneStatus(ctx, zone.ID, model.ZoneStatusFailed); err != nil {
		log.Error("failed to park zone", zap.Error(err))
	}
	return OutcomePermanentError, cause
}

// deliver sends the alert and flips the notified flag, in that order. The
// flag is only set after a successful send, so delivery is at-least-once
// and the flag never claims a send that did not happen.
func (c *Checker) deliver(ctx context.Context, log *zap.Logger, zone *model.Zone, rec *model.ChangeRecord) error {
	if !zone.EmailAlerts {
		log.Debug("email alerts disabled, leaving record unnotified")
		return nil
	}

	user, err := c.store.GetUser(ctx, zone.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Warn("zone owner missing, skipping notification", zap.String("owner_id", zone.OwnerID))
			return nil
		}
		return resilience.NewTransientError(eris.Wrap(err, "checker: load owner"), 0)
	}

	if err := c.notifier.Notify(ctx, user, zone, rec); err != nil {
		if resilience.IsPermanent(err) {
			log.Error("notification rejected permanently", zap.Error(err))
			return nil
		}
		return err
	}

	if err := c.store.MarkChangeNotified(ctx, rec.ID, time.Now().UTC()); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "checker: mark notified"), 0)
	}
	return nil
}
