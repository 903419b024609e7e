package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
)

// State is the registration state of a Controller.
type State int

const (
	StateUnregistered State = iota
	StatePermissionPending
	StateRegistered
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StatePermissionPending:
		return "permission_pending"
	case StateRegistered:
		return "registered"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ControllerConfig holds the tunables of one proximity session.
type ControllerConfig struct {
	// Name identifies the recurring job in the Scheduler.
	Name               string
	RadiusMeters       float64
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	// TickTimeout bounds one cycle; zero leaves timeouts to the collaborators.
	TickTimeout   time.Duration
	RenotifyAfter time.Duration
}

// ControllerDeps are the collaborators of a Controller.
type ControllerDeps struct {
	Identity  Identity
	Locator   Locator
	Notifier  Notifier
	Tasks     PendingTaskSource
	Scheduler Scheduler
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// TickReport describes one proximity cycle.
type TickReport struct {
	Position *model.DevicePosition
	Hits     []Hit
	Notified *model.NotificationEvent
}

// Controller drives the proximity check of one user session: it negotiates
// permissions, registers a recurring job and runs scan and dispatch on every
// tick.
type Controller struct {
	cfg        ControllerConfig
	identity   Identity
	locator    Locator
	notifier   Notifier
	scheduler  Scheduler
	scanner    *Scanner
	dispatcher *Dispatcher
	ledger     *NotifiedLedger
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	// tickMu keeps cycles strictly sequential, also across re-registrations.
	tickMu sync.Mutex

	mu         sync.Mutex
	state      State
	foreground bool
	handle     *Handle
	// attempt counts Start calls so a Stop during negotiation is noticed
	// even if another Start has begun since.
	attempt uint64
}

func NewController(cfg ControllerConfig, deps ControllerDeps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("job", cfg.Name))

	return &Controller{
		cfg:        cfg,
		identity:   deps.Identity,
		locator:    deps.Locator,
		notifier:   deps.Notifier,
		scheduler:  deps.Scheduler,
		scanner:    NewScanner(deps.Tasks, cfg.RadiusMeters),
		dispatcher: NewDispatcher(deps.Notifier, deps.Metrics, logger),
		ledger:     NewNotifiedLedger(cfg.RenotifyAfter),
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle is returned by Start and stops the registration it stands for.
type Handle struct {
	ctrl *Controller
	name string
}

func (h *Handle) Name() string {
	return h.name
}

// Stop deregisters the recurring job. Stopping twice is harmless.
func (h *Handle) Stop() {
	h.ctrl.stop(h)
}

// Stop deregisters the active registration, if any, and cancels a Start
// that is still waiting for permissions.
func (c *Controller) Stop() {
	c.mu.Lock()
	h := c.handle
	if h == nil && c.state == StatePermissionPending {
		c.state = StateUnregistered
		c.attempt++
	}
	c.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interval returns the repeat interval for the current foreground state.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervalLocked()
}

func (c *Controller) intervalLocked() time.Duration {
	if c.foreground {
		return c.cfg.ForegroundInterval
	}
	return c.cfg.BackgroundInterval
}

// Start asks for foreground location, background location and notification
// permission, in that order, and registers the recurring job. Any denial
// leaves the controller unregistered and returns ErrPermissionDenied; the
// caller decides when to try again. Calling Start on a registered controller
// returns the existing handle without registering again. Permissions are
// requested without holding the controller lock; a Start arriving meanwhile
// gets ErrStartInProgress and a Stop arriving meanwhile cancels the pending
// registration.
func (c *Controller) Start(ctx context.Context) (*Handle, error) {
	c.mu.Lock()
	if c.handle != nil && c.scheduler.IsRegistered(c.cfg.Name) {
		h := c.handle
		c.mu.Unlock()
		return h, nil
	}
	if c.state == StatePermissionPending {
		c.mu.Unlock()
		return nil, ErrStartInProgress
	}
	c.state = StatePermissionPending
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	err := c.negotiate(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != attempt || c.state != StatePermissionPending {
		return nil, ErrStartCanceled
	}
	if err != nil {
		c.state = StateUnregistered
		c.logger.Info("proximity tracking not started", zap.Error(err))
		return nil, err
	}

	if !c.scheduler.IsRegistered(c.cfg.Name) {
		if err := c.scheduler.Register(c.cfg.Name, c.intervalLocked(), c.scheduledTick); err != nil {
			c.state = StateUnregistered
			return nil, fmt.Errorf("register proximity job: %w", err)
		}
	}
	c.metrics.ControllerRegistered()

	c.state = StateRegistered
	c.handle = &Handle{ctrl: c, name: c.cfg.Name}
	c.logger.Info("proximity tracking registered", zap.Duration("interval", c.intervalLocked()))
	return c.handle, nil
}

func (c *Controller) negotiate(ctx context.Context) error {
	steps := []struct {
		what    string
		request func(context.Context) (bool, error)
	}{
		{"foreground location", c.locator.RequestForegroundPermission},
		{"background location", c.locator.RequestBackgroundPermission},
		{"notification", c.notifier.RequestPermission},
	}
	for _, step := range steps {
		granted, err := step.request(ctx)
		if err != nil {
			return fmt.Errorf("request %s permission: %w", step.what, err)
		}
		if !granted {
			return fmt.Errorf("%s: %w", step.what, ErrPermissionDenied)
		}
	}
	return nil
}

// SetForeground switches between the foreground and background interval,
// re-registering the job when the interval changes.
func (c *Controller) SetForeground(foreground bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.foreground == foreground {
		return nil
	}
	c.foreground = foreground
	if c.handle == nil || !c.scheduler.IsRegistered(c.cfg.Name) {
		return nil
	}

	c.scheduler.Unregister(c.cfg.Name)
	if err := c.scheduler.Register(c.cfg.Name, c.intervalLocked(), c.scheduledTick); err != nil {
		c.dropLocked()
		return fmt.Errorf("re-register proximity job: %w", err)
	}
	c.logger.Debug("proximity interval changed",
		zap.Bool("foreground", foreground),
		zap.Duration("interval", c.intervalLocked()),
	)
	return nil
}

func (c *Controller) stop(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != h {
		return
	}
	c.scheduler.Unregister(c.cfg.Name)
	c.dropLocked()
	c.logger.Info("proximity tracking stopped")
}

// revoke deregisters after a tick observed a withdrawn permission.
func (c *Controller) revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return
	}
	c.scheduler.Unregister(c.cfg.Name)
	c.dropLocked()
	c.logger.Warn("location permission revoked, proximity tracking stopped")
}

func (c *Controller) dropLocked() {
	if c.handle != nil {
		c.metrics.ControllerUnregistered()
	}
	c.state = StateUnregistered
	c.handle = nil
	c.ledger.Reset()
}

func (c *Controller) markRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRegistered {
		c.state = StateRunning
	}
}

// scheduledTick is the job handed to the Scheduler. Failures stay inside the
// tick so the next one still runs.
func (c *Controller) scheduledTick() {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.ObserveTick(metrics.TickPanicked)
			c.logger.Error("proximity tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if _, err := c.RunOnce(context.Background()); err != nil {
		c.logger.Warn("proximity tick skipped", zap.Error(err))
	}
}

// RunOnce runs one cycle: position, current user, scan, dedup, dispatch.
// The returned error says why the cycle stopped early; a failed notification
// is not an error.
func (c *Controller) RunOnce(ctx context.Context) (TickReport, error) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TickTimeout)
		defer cancel()
	}
	c.markRunning()

	var report TickReport

	pos, err := c.locator.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.metrics.ObserveTick(metrics.TickPermissionRevoked)
			c.revoke()
			return report, fmt.Errorf("acquire position: %w", err)
		}
		c.metrics.ObserveTick(metrics.TickNoPosition)
		if !errors.Is(err, ErrPositionUnavailable) {
			err = fmt.Errorf("%w: %w", ErrPositionUnavailable, err)
		}
		return report, fmt.Errorf("acquire position: %w", err)
	}
	report.Position = &pos

	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		c.metrics.ObserveTick(metrics.TickIdentityFailed)
		return report, fmt.Errorf("resolve current user: %w", err)
	}

	hits, err := c.scanner.Run(ctx, userID, pos)
	if err != nil {
		c.metrics.ObserveTick(metrics.TickFetchFailed)
		return report, err
	}
	report.Hits = hits
	c.metrics.ObserveScanHits(len(hits))

	now := c.now()
	c.ledger.Reconcile(hits)
	eligible := c.ledger.Eligible(hits, now)
	if len(hits) > 0 && len(eligible) == 0 {
		c.metrics.ObserveNotification(metrics.NotificationSuppressed)
	}

	if event, sent := c.dispatcher.Dispatch(ctx, eligible); sent {
		c.ledger.Mark(event.TaskID, now)
		report.Notified = &event
	}

	c.metrics.ObserveTick(metrics.TickOK)
	c.logger.Debug("proximity tick done",
		zap.String("user_id", userID),
		zap.Int("in_range", len(hits)),
		zap.Bool("notified", report.Notified != nil),
	)
	return report, nil
}
