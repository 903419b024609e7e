package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerService wraps cron-based jobs. Jobs are registered by name so a
// caller can check for and replace an existing registration.
type SchedulerService struct {
	cron   *cron.Cron
	logger cron.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewSchedulerService(loc *time.Location, logger *zap.Logger) *SchedulerService {
	cronLog := zapCronLogger{log: logger.Sugar()}
	return &SchedulerService{
		cron:    cron.New(cron.WithLocation(loc), cron.WithSeconds(), cron.WithLogger(cronLog)),
		logger:  cronLog,
		entries: make(map[string]cron.EntryID),
	}
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Register adds a job that runs every interval. A job never overlaps with its
// own previous run and a panic inside it is recovered and logged. Registering
// a name that already exists is an error; use IsRegistered first.
func (s *SchedulerService) Register(name string, interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}

	// Recover sits inside SkipIfStillRunning: the skip wrapper hands its
	// token back only when the inner job returns normally.
	wrapped := cron.NewChain(
		cron.SkipIfStillRunning(s.logger),
		cron.Recover(s.logger),
	).Then(cron.FuncJob(job))

	// cron.Every rounds down to whole seconds with a one second minimum.
	id := s.cron.Schedule(cron.Every(interval), wrapped)
	s.entries[name] = id
	return nil
}

func (s *SchedulerService) IsRegistered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

func (s *SchedulerService) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Next reports when the named job runs next.
func (s *SchedulerService) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

type zapCronLogger struct {
	log *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
