package service

import (
	"context"
	"fmt"
	"sort"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/model"
)

// Hit is a pending task inside the trigger radius.
type Hit struct {
	Task       model.Task
	Coordinate geo.Coordinate
	Distance   float64
}

// Scanner finds the pending tasks of a user that are close to the device.
type Scanner struct {
	tasks        PendingTaskSource
	radiusMeters float64
}

func NewScanner(tasks PendingTaskSource, radiusMeters float64) *Scanner {
	return &Scanner{tasks: tasks, radiusMeters: radiusMeters}
}

// Radius returns the trigger radius in meters.
func (s *Scanner) Radius() float64 {
	return s.radiusMeters
}

// Run fetches the user's pending tasks and scans them against pos.
// A fetch error aborts the scan; no stale list is substituted.
func (s *Scanner) Run(ctx context.Context, userID string, pos model.DevicePosition) ([]Hit, error) {
	tasks, err := s.tasks.ListPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch pending tasks: %w", err)
	}

	owned := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.UserID == userID {
			owned = append(owned, task)
		}
	}
	return s.Scan(pos, owned), nil
}

// Scan returns the tasks within the radius of pos (inclusive), closest first,
// ties broken by task id. Done tasks and tasks whose location cannot be
// normalized are skipped. The input slice is not modified.
func (s *Scanner) Scan(pos model.DevicePosition, tasks []model.Task) []Hit {
	hits := make([]Hit, 0)
	for _, task := range tasks {
		if task.Done {
			continue
		}
		coord, ok := task.Location.Normalize()
		if !ok {
			continue
		}
		d := geo.Distance(pos.Coordinate, coord)
		if d <= s.radiusMeters {
			hits = append(hits, Hit{Task: task, Coordinate: coord, Distance: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Task.ID < hits[j].Task.ID
	})
	return hits
}
