package service

import (
	"context"
	"errors"
	"time"

	"nearby-tasks/internal/model"
)

var (
	// ErrPermissionDenied is returned when the user refused (or revoked) a
	// location or notification permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPositionUnavailable means the device could not produce a fix.
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrStartInProgress is returned by a Start that overlaps another one
	// still waiting for permissions.
	ErrStartInProgress = errors.New("start already in progress")
	// ErrStartCanceled means Stop was called while Start was waiting for
	// permissions.
	ErrStartCanceled = errors.New("start canceled")
)

// PendingTaskSource returns the tasks of a user that are not done yet.
type PendingTaskSource interface {
	ListPending(ctx context.Context, userID string) ([]model.Task, error)
}

// TaskStore is the task persistence used by TaskService.
type TaskStore interface {
	PendingTaskSource
	Create(ctx context.Context, task *model.Task) error
	ListByUser(ctx context.Context, userID string) ([]model.Task, error)
	FindByID(ctx context.Context, userID, taskID string) (*model.Task, error)
	MarkDone(ctx context.Context, userID, taskID string) error
	Delete(ctx context.Context, userID, taskID string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// Identity resolves the currently authenticated user.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// StaticIdentity is an Identity for a user id known up front.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no current user")
	}
	return string(s), nil
}

// Locator is the device location collaborator.
type Locator interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	RequestBackgroundPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (model.DevicePosition, error)
}

// Notifier is the device notification collaborator.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	Notify(ctx context.Context, event model.NotificationEvent) error
}

// Scheduler runs named recurring jobs.
type Scheduler interface {
	Register(name string, interval time.Duration, job func()) error
	IsRegistered(name string) bool
	Unregister(name string)
}
