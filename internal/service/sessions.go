package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearby-tasks/internal/metrics"
)

// SessionConfig is shared by every controller a Sessions creates.
type SessionConfig struct {
	RadiusMeters       float64
	ForegroundInterval time.Duration
	BackgroundInterval time.Duration
	TickTimeout        time.Duration
	RenotifyAfter      time.Duration
}

// Sessions keeps one proximity Controller per user on a shared Scheduler.
type Sessions struct {
	cfg       SessionConfig
	locators  func(userID string) Locator
	tasks     PendingTaskSource
	scheduler Scheduler
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewSessions(cfg SessionConfig, locators func(userID string) Locator, tasks PendingTaskSource, scheduler Scheduler, collector *metrics.Collector, logger *zap.Logger) *Sessions {
	return &Sessions{
		cfg:         cfg,
		locators:    locators,
		tasks:       tasks,
		scheduler:   scheduler,
		metrics:     collector,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// Start registers proximity checks for the user. identity and notifier are
// only used when the user has no controller yet.
func (s *Sessions) Start(ctx context.Context, userID string, identity Identity, notifier Notifier) (*Controller, error) {
	ctrl := s.controller(userID, identity, notifier)
	if _, err := ctrl.Start(ctx); err != nil {
		return ctrl, err
	}
	return ctrl, nil
}

// Get returns the user's controller, if one was created.
func (s *Sessions) Get(userID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controllers[userID]
	return ctrl, ok
}

// Active reports whether the user's checks are registered.
func (s *Sessions) Active(userID string) bool {
	ctrl, ok := s.Get(userID)
	return ok && ctrl.State() != StateUnregistered
}

// SetForeground switches the user's check interval, if the user has a controller.
func (s *Sessions) SetForeground(userID string, foreground bool) {
	ctrl, ok := s.Get(userID)
	if !ok {
		return
	}
	if err := ctrl.SetForeground(foreground); err != nil {
		s.logger.Warn("switch proximity interval", zap.String("user_id", userID), zap.Error(err))
	}
}

// Stop deregisters the user's checks and forgets the controller.
func (s *Sessions) Stop(userID string) bool {
	s.mu.Lock()
	ctrl, ok := s.controllers[userID]
	delete(s.controllers, userID)
	s.mu.Unlock()

	if !ok {
		return false
	}
	ctrl.Stop()
	return true
}

// StopAll deregisters every session.
func (s *Sessions) StopAll() {
	s.mu.Lock()
	ctrls := s.controllers
	s.controllers = make(map[string]*Controller)
	s.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Stop()
	}
}

func (s *Sessions) controller(userID string, identity Identity, notifier Notifier) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctrl, ok := s.controllers[userID]; ok {
		return ctrl
	}
	ctrl := NewController(ControllerConfig{
		Name:               "proximity:" + userID,
		RadiusMeters:       s.cfg.RadiusMeters,
		ForegroundInterval: s.cfg.ForegroundInterval,
		BackgroundInterval: s.cfg.BackgroundInterval,
		TickTimeout:        s.cfg.TickTimeout,
		RenotifyAfter:      s.cfg.RenotifyAfter,
	}, ControllerDeps{
		Identity:  identity,
		Locator:   s.locators(userID),
		Notifier:  notifier,
		Tasks:     s.tasks,
		Scheduler: s.scheduler,
		Metrics:   s.metrics,
		Logger:    s.logger.With(zap.String("user_id", userID)),
	})
	s.controllers[userID] = ctrl
	return ctrl
}
