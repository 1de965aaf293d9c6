package sweeps

import (
	"context"
	"time"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/notifications"
	"github.com/charlesng35/carecoord/internal/services"
)

// Notifier is the part of the dispatcher the sweeps use.
type Notifier interface {
	NotifyPatientCircle(ctx context.Context, patientID string, event notifications.Event, opts notifications.Options) ([]services.NotificationDTO, error)
	NotifyUser(ctx context.Context, userID string, event notifications.Event, opts notifications.Options, requireRole ...models.UserRole) ([]services.NotificationDTO, error)
}

// DedupChecker is the fast-path duplicate check used before notifying.
type DedupChecker interface {
	ShouldNotify(ctx context.Context, recipientID, tag string, reference time.Time) (bool, error)
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
