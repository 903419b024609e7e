// Package notify holds notifiers that do not need a chat surface.
package notify

import (
	"context"

	"go.uber.org/zap"

	"nearby-tasks/internal/model"
)

// Log writes notifications to the structured log. It is the fallback sink
// for agent mode when no Telegram chat is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (l *Log) Notify(_ context.Context, event model.NotificationEvent) error {
	l.logger.Info(event.Title,
		zap.String("task_id", event.TaskID),
		zap.String("body", event.Body),
		zap.Float64("distance_m", event.DistanceMeters),
	)
	return nil
}
