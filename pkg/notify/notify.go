// Package notify delivers the user-facing discovery notifications, shifted
// into an evening engagement window.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geoquest/geoquest/pkg"
	"github.com/geoquest/geoquest/pkg/api"
	"github.com/geoquest/geoquest/pkg/logx"
	"github.com/geoquest/geoquest/pkg/retry"
	"github.com/geoquest/geoquest/pkg/sched"
)

// The evening delivery window [18:00, 20:00). Discoveries computed earlier
// in the day are held back until the user's hashed slot inside it.
const (
	eveningStartHour     = 18
	eveningWindowMinutes = 2 * 60
)

// Notification is a user-visible local notification
type Notification struct {
	ID      string                 `json:"id"`
	Tag     string                 `json:"tag"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Notifier delivers a notification through the platform.
type Notifier interface {
	Deliver(n Notification) error
}

// Recorder observes notification delivery status. Implemented by
// metrics.Server.
type Recorder interface {
	RecordNotification(status string)
}

// Dispatcher schedules and sends discovery notifications
type Dispatcher struct {
	scheduler sched.Scheduler
	notifier  Notifier
	retrier   *retry.Runner
	user      pkg.UserProvider
	logger    *logx.Logger
	recorder  Recorder
	now       func() time.Time
}

// NewDispatcher creates a dispatcher delivering through notifier at times
// arranged by scheduler.
func NewDispatcher(scheduler sched.Scheduler, notifier Notifier, user pkg.UserProvider, logger *logx.Logger) *Dispatcher {
	return &Dispatcher{
		scheduler: scheduler,
		notifier:  notifier,
		retrier:   retry.NewRunner(retry.DefaultConfig()),
		user:      user,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetRecorder registers a delivery-status observer. Nil disables recording.
func (d *Dispatcher) SetRecorder(rec Recorder) {
	d.recorder = rec
}

func (d *Dispatcher) record(status string) {
	if d.recorder != nil {
		d.recorder.RecordNotification(status)
	}
}

// DeliveryTime computes when a discovery notification should reach the
// user: immediately from 18:00 on, otherwise at the user's hashed slot in
// the evening window, rolled to tomorrow if that slot already passed.
func (d *Dispatcher) DeliveryTime(userID string, now time.Time) time.Time {
	if now.Hour() >= eveningStartHour {
		return now
	}

	minute := sched.SlotMinute(userID, eveningWindowMinutes)
	target := time.Date(now.Year(), now.Month(), now.Day(),
		eveningStartHour, 0, 0, 0, now.Location()).
		Add(time.Duration(minute) * time.Minute)
	if target.Before(now) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// NotifyDiscoveries schedules the "you found new quizzes" notification for
// the given discoveries. Scheduling failures are logged, never surfaced:
// the user simply misses a nudge.
func (d *Dispatcher) NotifyDiscoveries(quizzes []api.Quiz) {
	if len(quizzes) == 0 {
		return
	}

	userID := ""
	if u := d.user(); u != nil {
		userID = u.UserID
	}

	now := d.now()
	deliverAt := d.DeliveryTime(userID, now)

	names := make([]string, len(quizzes))
	for i, quiz := range quizzes {
		names[i] = quiz.Name
	}

	n := Notification{
		ID:      uuid.NewString(),
		Tag:     sched.TagDailyDiscovery,
		Title:   discoveryTitle(len(quizzes)),
		Message: discoveryMessage(names),
		Payload: map[string]interface{}{
			"quizCount":     len(quizzes),
			"quiz":          names,
			"suggestedTime": deliverAt.Format(time.RFC3339),
		},
	}

	_, err := d.scheduler.At(n.Tag, deliverAt, false, func() { d.deliver(n) })
	if err != nil {
		d.logger.Warn("discovery notification scheduling failed", "error", err)
		d.record("schedule_failed")
		return
	}

	d.record("scheduled")
	d.logger.Info("discovery notification scheduled",
		"quiz_count", len(quizzes),
		"deliver_at", deliverAt.Format(time.RFC3339),
	)
}

// deliver pushes the notification through the platform with retries.
func (d *Dispatcher) deliver(n Notification) {
	err := d.retrier.Do(context.Background(), func(ctx context.Context) error {
		return d.notifier.Deliver(n)
	})
	if err != nil {
		d.logger.Warn("discovery notification delivery failed", "id", n.ID, "error", err)
		d.record("failed")
		return
	}
	d.record("delivered")
	d.logger.Info("discovery notification delivered", "id", n.ID)
}

// discoveryTitle picks singular or plural phrasing.
func discoveryTitle(count int) string {
	if count == 1 {
		return "You found a new quiz!"
	}
	return fmt.Sprintf("You found %d new quizzes!", count)
}

// discoveryMessage lists the discovered quiz names.
func discoveryMessage(names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("%s is now unlocked. Open the map to play it.", names[0])
	}
	return fmt.Sprintf("%s are now unlocked. Open the map to play them.", strings.Join(names, ", "))
}
