package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/model"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	Location    model.Location
}

// TaskService wraps task-related business logic.
type TaskService struct {
	store    TaskStore
	validate *validator.Validate
}

func NewTaskService(store TaskStore) *TaskService {
	return &TaskService{store: store, validate: validator.New()}
}

func (s *TaskService) CreateTask(ctx context.Context, userID string, input TaskInput) (*model.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	coord, ok := input.Location.Normalize()
	if !ok || !coord.Valid() {
		return nil, model.ErrInvalidLocation
	}

	task := model.Task{
		UserID:      userID,
		Title:       input.Title,
		Description: input.Description,
		Location:    model.PointAt(coord),
	}
	if err := s.store.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *TaskService) ListPending(ctx context.Context, userID string) ([]model.Task, error) {
	return s.store.ListPending(ctx, userID)
}

func (s *TaskService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.store.FindByID(ctx, userID, taskID)
}

// CompleteTask marks a task as done. Done is final: the task leaves proximity scanning for good.
func (s *TaskService) CompleteTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.store.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Done {
		return task, nil
	}
	if err := s.store.MarkDone(ctx, userID, taskID); err != nil {
		return nil, err
	}
	task.Done = true
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	return s.store.Delete(ctx, userID, taskID)
}

// DeleteAll removes every task of the user and returns how many were removed.
func (s *TaskService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteAll(ctx, userID)
}

// ParseLocationInput reads a location typed by a user: either the stored
// text form "POINT(<lon> <lat>)" or "<lat>, <lon>" as map apps copy it.
func ParseLocationInput(text string) (model.Location, error) {
	text = strings.TrimSpace(text)
	if c, ok := geo.ParsePoint(strings.ToUpper(text)); ok && c.Valid() {
		return model.PointAt(c), nil
	}

	parts := strings.Split(text, ",")
	if len(parts) == 2 {
		lat, latErr := parseDegrees(parts[0])
		lon, lonErr := parseDegrees(parts[1])
		c := geo.Coordinate{Latitude: lat, Longitude: lon}
		if latErr == nil && lonErr == nil && c.Valid() {
			return model.PointAt(c), nil
		}
	}
	return model.Location{}, model.ErrInvalidLocation
}

func parseDegrees(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}
