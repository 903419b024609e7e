package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/model"
)

// memoryStore is a TaskStore kept in a map.
type memoryStore struct {
	mu    sync.Mutex
	tasks map[string]model.Task
	seq   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tasks: make(map[string]model.Task)}
}

func (m *memoryStore) Create(_ context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	task.ID = string(rune('a' + m.seq - 1))
	m.tasks[task.ID] = *task
	return nil
}

func (m *memoryStore) list(userID string, pendingOnly bool) []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0)
	for _, task := range m.tasks {
		if task.UserID == userID && (!pendingOnly || !task.Done) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) ListByUser(_ context.Context, userID string) ([]model.Task, error) {
	return m.list(userID, false), nil
}

func (m *memoryStore) ListPending(_ context.Context, userID string) ([]model.Task, error) {
	return m.list(userID, true), nil
}

func (m *memoryStore) FindByID(_ context.Context, userID, taskID string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, model.ErrTaskNotFound
	}
	return &task, nil
}

func (m *memoryStore) MarkDone(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.UserID != userID {
		return model.ErrTaskNotFound
	}
	task.Done = true
	m.tasks[taskID] = task
	return nil
}

func (m *memoryStore) Delete(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.UserID != userID {
		return model.ErrTaskNotFound
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *memoryStore) DeleteAll(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, task := range m.tasks {
		if task.UserID == userID {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func TestCreateTaskStoresNormalizedLocation(t *testing.T) {
	svc := NewTaskService(newMemoryStore())
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, "user-1", TaskInput{
		Title:    "  Pick up parcel ",
		Location: model.Location{WKT: "POINT(2.3522 48.8566)"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Pick up parcel", task.Title)
	assert.Equal(t, []float64{2.3522, 48.8566}, task.Location.Coordinates)
	assert.Equal(t, "user-1", task.UserID)
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	svc := NewTaskService(newMemoryStore())
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "user-1", TaskInput{Title: "  ", Location: model.PointAt(origin)})
	assert.Error(t, err)

	_, err = svc.CreateTask(ctx, "user-1", TaskInput{Title: "x", Location: model.Location{WKT: "nowhere"}})
	assert.ErrorIs(t, err, model.ErrInvalidLocation)

	_, err = svc.CreateTask(ctx, "user-1", TaskInput{Title: "x", Location: model.Location{Coordinates: []float64{200, 10}}})
	assert.ErrorIs(t, err, model.ErrInvalidLocation)
}

func TestCompleteTaskRemovesItFromPending(t *testing.T) {
	svc := NewTaskService(newMemoryStore())
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, "user-1", TaskInput{Title: "a", Location: model.PointAt(origin)})
	require.NoError(t, err)

	done, err := svc.CompleteTask(ctx, "user-1", task.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)

	pending, err := svc.ListPending(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := svc.ListTasks(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.CompleteTask(ctx, "user-2", task.ID)
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestDeleteTasks(t *testing.T) {
	svc := NewTaskService(newMemoryStore())
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, err := svc.CreateTask(ctx, "user-1", TaskInput{Title: title, Location: model.PointAt(origin)})
		require.NoError(t, err)
	}
	_, err := svc.CreateTask(ctx, "user-2", TaskInput{Title: "other", Location: model.PointAt(origin)})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTask(ctx, "user-1", "a"))
	assert.ErrorIs(t, svc.DeleteTask(ctx, "user-1", "a"), model.ErrTaskNotFound)

	n, err := svc.DeleteAll(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	left, err := svc.ListTasks(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestParseLocationInput(t *testing.T) {
	loc, err := ParseLocationInput("point(2.35 48.85)")
	require.NoError(t, err)
	c, ok := loc.Normalize()
	require.True(t, ok)
	assert.Equal(t, geo.Coordinate{Latitude: 48.85, Longitude: 2.35}, c)

	loc, err = ParseLocationInput(" 48.85, 2.35 ")
	require.NoError(t, err)
	c, _ = loc.Normalize()
	assert.Equal(t, geo.Coordinate{Latitude: 48.85, Longitude: 2.35}, c)

	for _, bad := range []string{"", "somewhere", "95, 10", "1,2,3"} {
		_, err := ParseLocationInput(bad)
		assert.ErrorIs(t, err, model.ErrInvalidLocation, bad)
	}
}
