// Package remote stores tasks in a Supabase project through PostgREST and
// resolves the signed-in user through Supabase Auth.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/model"
)

// Config holds the Supabase connection settings.
type Config struct {
	URL      string
	Key      string
	Email    string
	Password string
	Table    string
}

// BreakerConfig tunes the circuit breaker around remote reads.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

// Store implements the task store and the current-user lookup on Supabase.
type Store struct {
	client  *supabase.Client
	table   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// taskRow is the insert payload. The location goes in as EWKT text, which
// PostGIS accepts for geography columns.
type taskRow struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Done        bool   `json:"done"`
}

// NewStore connects to Supabase. With an email and password the client signs
// in and keeps its token fresh, so row level security sees that user.
func NewStore(cfg Config, breaker BreakerConfig, logger *zap.Logger) (*Store, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}

	if cfg.Email != "" {
		session, err := client.SignInWithEmailPassword(cfg.Email, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("supabase sign in: %w", err)
		}
		client.EnableTokenAutoRefresh(session)
		logger.Info("signed in to supabase", zap.String("user_id", session.User.ID.String()))
	}

	return newStore(client, cfg.Table, breaker, logger), nil
}

func newStore(client *supabase.Client, table string, cfg BreakerConfig, logger *zap.Logger) *Store {
	if table == "" {
		table = "tasks"
	}
	logger = logger.Named("supabase")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Store{client: client, table: table, breaker: cb, logger: logger}
}

// read runs fn through the circuit breaker.
func (s *Store) read(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// CurrentUserID returns the id of the signed-in Supabase user.
func (s *Store) CurrentUserID(ctx context.Context) (string, error) {
	var id string
	err := s.read(ctx, func() error {
		resp, err := s.client.Auth.GetUser()
		if err != nil {
			return err
		}
		id = resp.ID.String()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("get current user: %w", err)
	}
	return id, nil
}

func (s *Store) Create(ctx context.Context, task *model.Task) error {
	coord, ok := task.Location.Normalize()
	if !ok {
		return model.ErrInvalidLocation
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	row := taskRow{
		UserID:      task.UserID,
		Title:       task.Title,
		Description: task.Description,
		Location:    geo.FormatEWKT(coord, 4326),
		Done:        task.Done,
	}
	var created []model.Task
	if _, err := s.client.From(s.table).Insert(row, false, "", "representation", "").ExecuteTo(&created); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if len(created) == 0 {
		return errors.New("create task: empty response")
	}
	*task = created[0]
	return nil
}

// ListByUser returns every task of the user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.read(ctx, func() error {
		_, err := s.client.From(s.table).
			Select("*", "", false).
			Eq("user_id", userID).
			Order("created_at", &postgrest.OrderOpts{Ascending: false}).
			ExecuteTo(&tasks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListPending returns the tasks of the user that are not done.
func (s *Store) ListPending(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.read(ctx, func() error {
		_, err := s.client.From(s.table).
			Select("*", "", false).
			Eq("user_id", userID).
			Eq("done", strconv.FormatBool(false)).
			ExecuteTo(&tasks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) FindByID(ctx context.Context, userID, taskID string) (*model.Task, error) {
	var tasks []model.Task
	err := s.read(ctx, func() error {
		_, err := s.client.From(s.table).
			Select("*", "", false).
			Eq("id", taskID).
			Eq("user_id", userID).
			ExecuteTo(&tasks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	if len(tasks) == 0 {
		return nil, model.ErrTaskNotFound
	}
	return &tasks[0], nil
}

func (s *Store) MarkDone(ctx context.Context, userID, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var updated []model.Task
	_, err := s.client.From(s.table).
		Update(map[string]bool{"done": true}, "representation", "").
		Eq("id", taskID).
		Eq("user_id", userID).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if len(updated) == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var deleted []model.Task
	_, err := s.client.From(s.table).
		Delete("representation", "").
		Eq("id", taskID).
		Eq("user_id", userID).
		ExecuteTo(&deleted)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if len(deleted) == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// DeleteAll removes every task of the user and returns how many rows went.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, count, err := s.client.From(s.table).
		Delete("minimal", "exact").
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return count, nil
}
