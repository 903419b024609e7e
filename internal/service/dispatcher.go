package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
)

// DefaultReminderBody is used when a task has no description.
const DefaultReminderBody = "Don't forget to get it done!"

// Dispatcher turns scan hits into at most one notification per cycle.
type Dispatcher struct {
	notifier Notifier
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewDispatcher(notifier Notifier, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, metrics: collector, logger: logger}
}

// Dispatch notifies about the nearest hit only. Hits must be sorted closest
// first, as Scanner returns them. A notifier failure is logged and reported
// as not sent; it is never retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, hits []Hit) (model.NotificationEvent, bool) {
	if len(hits) == 0 {
		return model.NotificationEvent{}, false
	}

	event := BuildEvent(hits[0])
	if err := d.notifier.Notify(ctx, event); err != nil {
		d.metrics.ObserveNotification(metrics.NotificationFailed)
		d.logger.Warn("proximity notification failed",
			zap.String("task_id", event.TaskID),
			zap.Error(err),
		)
		return event, false
	}

	d.metrics.ObserveNotification(metrics.NotificationSent)
	d.logger.Info("proximity notification sent",
		zap.String("task_id", event.TaskID),
		zap.Float64("distance_m", event.DistanceMeters),
		zap.Int("in_range", len(hits)),
	)
	return event, true
}

// BuildEvent formats the notification for a hit.
func BuildEvent(hit Hit) model.NotificationEvent {
	body := strings.TrimSpace(hit.Task.Description)
	if body == "" {
		body = DefaultReminderBody
	}
	return model.NotificationEvent{
		TaskID:         hit.Task.ID,
		Title:          "Nearby task: " + strings.TrimSpace(hit.Task.Title),
		Body:           body,
		DistanceMeters: hit.Distance,
	}
}
