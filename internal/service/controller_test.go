package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
)

type controllerFixture struct {
	ctrl      *Controller
	locator   *mockLocator
	notifier  *mockNotifier
	tasks     *mockTaskSource
	scheduler *fakeScheduler
	metrics   *metrics.Collector
}

func newControllerFixture(t *testing.T, identity Identity) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		locator:   new(mockLocator),
		notifier:  new(mockNotifier),
		tasks:     new(mockTaskSource),
		scheduler: newFakeScheduler(),
		metrics:   metrics.NewCollector("test"),
	}
	f.ctrl = NewController(ControllerConfig{
		Name:               "proximity:user-1",
		RadiusMeters:       100,
		ForegroundInterval: 30 * time.Second,
		BackgroundInterval: 10 * time.Minute,
		TickTimeout:        5 * time.Second,
	}, ControllerDeps{
		Identity:  identity,
		Locator:   f.locator,
		Notifier:  f.notifier,
		Tasks:     f.tasks,
		Scheduler: f.scheduler,
		Metrics:   f.metrics,
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *controllerFixture) grantAll() {
	f.locator.On("RequestForegroundPermission", mock.Anything).Return(true, nil)
	f.locator.On("RequestBackgroundPermission", mock.Anything).Return(true, nil)
	f.notifier.On("RequestPermission", mock.Anything).Return(true, nil)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()

	first, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	second, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.scheduler.registers)
	assert.Equal(t, StateRegistered, f.ctrl.State())
	assert.Equal(t, 10*time.Minute, f.scheduler.interval("proximity:user-1"))
	f.locator.AssertNumberOfCalls(t, "RequestForegroundPermission", 1)
}

func TestStartRequestsPermissionsInOrder(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	var order []string
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { order = append(order, name) }
	}
	f.locator.On("RequestForegroundPermission", mock.Anything).Run(record("foreground")).Return(true, nil)
	f.locator.On("RequestBackgroundPermission", mock.Anything).Run(record("background")).Return(true, nil)
	f.notifier.On("RequestPermission", mock.Anything).Run(record("notification")).Return(true, nil)

	_, err := f.ctrl.Start(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"foreground", "background", "notification"}, order)
}

func TestStartDeniedBackgroundLeavesUnregistered(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("RequestForegroundPermission", mock.Anything).Return(true, nil)
	f.locator.On("RequestBackgroundPermission", mock.Anything).Return(false, nil)

	handle, err := f.ctrl.Start(context.Background())

	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Nil(t, handle)
	assert.Equal(t, StateUnregistered, f.ctrl.State())
	assert.False(t, f.scheduler.IsRegistered("proximity:user-1"))
	f.notifier.AssertNotCalled(t, "RequestPermission", mock.Anything)
}

func TestStartDeniedNotificationLeavesUnregistered(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("RequestForegroundPermission", mock.Anything).Return(true, nil)
	f.locator.On("RequestBackgroundPermission", mock.Anything).Return(true, nil)
	f.notifier.On("RequestPermission", mock.Anything).Return(false, nil)

	_, err := f.ctrl.Start(context.Background())

	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, f.scheduler.registers)
}

func TestStartPropagatesRegisterFailure(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()
	f.scheduler.failNext = errors.New("scheduler closed")

	_, err := f.ctrl.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateUnregistered, f.ctrl.State())
}

func TestSetForegroundReRegistersWithShorterInterval(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()
	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.ctrl.SetForeground(true))
	assert.Equal(t, 30*time.Second, f.scheduler.interval("proximity:user-1"))
	assert.Equal(t, 30*time.Second, f.ctrl.Interval())

	require.NoError(t, f.ctrl.SetForeground(true))
	assert.Equal(t, 2, f.scheduler.registers)
}

func TestTickNotifiesOncePerTaskWhileInRange(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	here := positionAt(origin)
	away := positionAt(northOf(origin, 5000))
	f.locator.On("CurrentPosition", mock.Anything).Return(here, nil).Times(3)
	f.locator.On("CurrentPosition", mock.Anything).Return(away, nil).Once()
	f.locator.On("CurrentPosition", mock.Anything).Return(here, nil).Once()
	f.tasks.On("ListPending", mock.Anything, "user-1").Return([]model.Task{
		taskAt("t50", northOf(origin, 50)),
		taskAt("t10", northOf(origin, 10)),
	}, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	notified := func() string {
		report, err := f.ctrl.RunOnce(context.Background())
		require.NoError(t, err)
		if report.Notified == nil {
			return ""
		}
		return report.Notified.TaskID
	}

	assert.Equal(t, "t10", notified())
	assert.Equal(t, "t50", notified())
	assert.Equal(t, "", notified())
	assert.Equal(t, "", notified())
	assert.Equal(t, "t10", notified())

	assert.Equal(t, 1.0, counterValue(t, f.metrics, "test_proximity_notifications_total", metrics.NotificationSuppressed))
	assert.Equal(t, 5.0, counterValue(t, f.metrics, "test_proximity_ticks_total", metrics.TickOK))
}

func TestTickWithoutPositionSkipsScan(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("CurrentPosition", mock.Anything).Return(model.DevicePosition{}, errors.New("gps timeout"))

	report, err := f.ctrl.RunOnce(context.Background())

	require.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Nil(t, report.Position)
	f.tasks.AssertNotCalled(t, "ListPending", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestTickFetchFailureDoesNotNotify(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("CurrentPosition", mock.Anything).Return(positionAt(origin), nil)
	f.tasks.On("ListPending", mock.Anything, "user-1").Return(nil, errors.New("503")).Once()
	f.tasks.On("ListPending", mock.Anything, "user-1").Return([]model.Task{taskAt("a", origin)}, nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.ctrl.RunOnce(context.Background())
	require.Error(t, err)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)

	report, err := f.ctrl.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Notified)
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "test_proximity_ticks_total", metrics.TickFetchFailed))
}

func TestTickIdentityFailure(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity(""))
	f.locator.On("CurrentPosition", mock.Anything).Return(positionAt(origin), nil)

	_, err := f.ctrl.RunOnce(context.Background())

	require.Error(t, err)
	f.tasks.AssertNotCalled(t, "ListPending", mock.Anything, mock.Anything)
}

func TestFailedNotificationIsRetriedNextTick(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("CurrentPosition", mock.Anything).Return(positionAt(origin), nil)
	f.tasks.On("ListPending", mock.Anything, "user-1").Return([]model.Task{taskAt("a", origin)}, nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("offline")).Once()
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	first, err := f.ctrl.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, first.Notified)

	second, err := f.ctrl.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, second.Notified)
	assert.Equal(t, "a", second.Notified.TaskID)
}

func TestRevokedPermissionDeregisters(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()
	f.locator.On("CurrentPosition", mock.Anything).Return(model.DevicePosition{}, ErrPermissionDenied)
	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	f.scheduler.fire("proximity:user-1")

	assert.Equal(t, StateUnregistered, f.ctrl.State())
	assert.False(t, f.scheduler.IsRegistered("proximity:user-1"))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "test_proximity_ticks_total", metrics.TickPermissionRevoked))
}

func TestScheduledTickRecoversPanic(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()
	f.locator.On("CurrentPosition", mock.Anything).Run(func(mock.Arguments) {
		panic("driver crashed")
	}).Return(model.DevicePosition{}, nil)
	_, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() { f.scheduler.fire("proximity:user-1") })
	assert.True(t, f.scheduler.IsRegistered("proximity:user-1"))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "test_proximity_ticks_total", metrics.TickPanicked))
}

func TestTickRunsWithDeadline(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.locator.On("CurrentPosition", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(positionAt(origin), nil)
	f.tasks.On("ListPending", mock.Anything, "user-1").Return([]model.Task{}, nil)

	_, err := f.ctrl.RunOnce(context.Background())

	require.NoError(t, err)
	f.locator.AssertExpectations(t)
}

func TestStopThenStartRegistersAgain(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	f.grantAll()

	handle, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	handle.Stop()
	handle.Stop()

	assert.Equal(t, StateUnregistered, f.ctrl.State())
	assert.False(t, f.scheduler.IsRegistered("proximity:user-1"))

	again, err := f.ctrl.Start(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, handle, again)
	assert.Equal(t, 2, f.scheduler.registers)
}

// blockForeground makes the foreground permission request wait until the
// returned release func is called.
func (f *controllerFixture) blockForeground() (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})
	f.locator.On("RequestForegroundPermission", mock.Anything).Run(func(mock.Arguments) {
		close(in)
		<-gate
	}).Return(true, nil)
	f.locator.On("RequestBackgroundPermission", mock.Anything).Return(true, nil)
	f.notifier.On("RequestPermission", mock.Anything).Return(true, nil)
	return in, func() { close(gate) }
}

func TestControllerStaysResponsiveWhilePermissionsPending(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	entered, release := f.blockForeground()

	type result struct {
		handle *Handle
		err    error
	}
	done := make(chan result, 1)
	go func() {
		h, err := f.ctrl.Start(context.Background())
		done <- result{h, err}
	}()
	<-entered

	assert.Equal(t, StatePermissionPending, f.ctrl.State())
	require.NoError(t, f.ctrl.SetForeground(true))
	assert.Equal(t, 30*time.Second, f.ctrl.Interval())
	_, err := f.ctrl.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartInProgress)

	release()
	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}

	require.NoError(t, res.err)
	require.NotNil(t, res.handle)
	assert.Equal(t, StateRegistered, f.ctrl.State())
	assert.Equal(t, 1, f.scheduler.registers)
	assert.Equal(t, 30*time.Second, f.scheduler.interval("proximity:user-1"))
	f.locator.AssertNumberOfCalls(t, "RequestForegroundPermission", 1)
}

func TestStopDuringPermissionsCancelsStart(t *testing.T) {
	f := newControllerFixture(t, StaticIdentity("user-1"))
	entered, release := f.blockForeground()

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Start(context.Background())
		done <- err
	}()
	<-entered

	f.ctrl.Stop()
	assert.Equal(t, StateUnregistered, f.ctrl.State())
	release()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStartCanceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, StateUnregistered, f.ctrl.State())
	assert.Zero(t, f.scheduler.registers)
	assert.False(t, f.scheduler.IsRegistered("proximity:user-1"))
}
