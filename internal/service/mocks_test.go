package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
)

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) RequestForegroundPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocator) RequestBackgroundPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocator) CurrentPosition(ctx context.Context) (model.DevicePosition, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.DevicePosition), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) RequestPermission(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockNotifier) Notify(ctx context.Context, event model.NotificationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockTaskSource struct {
	mock.Mock
}

func (m *mockTaskSource) ListPending(ctx context.Context, userID string) ([]model.Task, error) {
	args := m.Called(ctx, userID)
	tasks, _ := args.Get(0).([]model.Task)
	return tasks, args.Error(1)
}

// fakeScheduler records registrations instead of running them.
type fakeScheduler struct {
	mu        sync.Mutex
	jobs      map[string]func()
	intervals map[string]time.Duration
	registers int
	failNext  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:      make(map[string]func()),
		intervals: make(map[string]time.Duration),
	}
}

func (f *fakeScheduler) Register(name string, interval time.Duration, job func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.jobs[name] = job
	f.intervals[name] = interval
	f.registers++
	return nil
}

func (f *fakeScheduler) IsRegistered(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	return ok
}

func (f *fakeScheduler) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, name)
	delete(f.intervals, name)
}

func (f *fakeScheduler) fire(name string) {
	f.mu.Lock()
	job := f.jobs[name]
	f.mu.Unlock()
	if job != nil {
		job()
	}
}

func (f *fakeScheduler) interval(name string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intervals[name]
}

// origin is a fixed device position; taskAt places tasks north of it.
var origin = geo.Coordinate{Latitude: 48.8566, Longitude: 2.3522}

func positionAt(c geo.Coordinate) model.DevicePosition {
	return model.DevicePosition{Coordinate: c, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// northOf moves c by meters along its meridian.
func northOf(c geo.Coordinate, meters float64) geo.Coordinate {
	const metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180
	return geo.Coordinate{Latitude: c.Latitude + meters/metersPerDegree, Longitude: c.Longitude}
}

func taskAt(id string, c geo.Coordinate) model.Task {
	return model.Task{
		ID:       id,
		UserID:   "user-1",
		Title:    "Task " + id,
		Location: model.PointAt(c),
	}
}

// counterValue reads one labelled counter from the collector's registry.
func counterValue(t *testing.T, c *metrics.Collector, name, result string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
