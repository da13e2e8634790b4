// Package notify delivers change alerts to zone owners through the email
// gateway. Delivery is at-least-once: the caller records success in the
// store, so a crash between send and record may re-send.
package notify

import (
	"context"

	"github.com/geowatch/geowatch/internal/model"
)

// Notifier sends a change alert to the zone owner.
type Notifier interface {
	Notify(ctx context.Context, user *model.User, zone *model.Zone, rec *model.ChangeRecord) error
}

// Noop discards all notifications. Used when a zone has alerts disabled
// and in worker tests.
type Noop struct{}

func (Noop) Notify(context.Context, *model.User, *model.Zone, *model.ChangeRecord) error {
	return nil
}
