package service

import (
	"sync"
	"time"
)

// NotifiedLedger remembers which tasks were already announced so a user who
// stays near a task is not alerted on every cycle. An entry lives while its
// task stays in range and pending; it is evicted as soon as a scan no longer
// returns the task.
type NotifiedLedger struct {
	mu            sync.Mutex
	entries       map[string]time.Time
	renotifyAfter time.Duration
}

// NewNotifiedLedger creates a ledger. With renotifyAfter > 0 a task still in
// range is announced again once that much time has passed.
func NewNotifiedLedger(renotifyAfter time.Duration) *NotifiedLedger {
	return &NotifiedLedger{
		entries:       make(map[string]time.Time),
		renotifyAfter: renotifyAfter,
	}
}

// Reconcile drops entries for tasks missing from inRange.
func (l *NotifiedLedger) Reconcile(inRange []Hit) {
	keep := make(map[string]struct{}, len(inRange))
	for _, hit := range inRange {
		keep[hit.Task.ID] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.entries {
		if _, ok := keep[id]; !ok {
			delete(l.entries, id)
		}
	}
}

// Eligible filters hits down to the ones that may be announced at now,
// preserving order.
func (l *NotifiedLedger) Eligible(hits []Hit, now time.Time) []Hit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Hit, 0, len(hits))
	for _, hit := range hits {
		last, seen := l.entries[hit.Task.ID]
		if !seen || (l.renotifyAfter > 0 && now.Sub(last) >= l.renotifyAfter) {
			out = append(out, hit)
		}
	}
	return out
}

func (l *NotifiedLedger) Mark(taskID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[taskID] = at
}

func (l *NotifiedLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]time.Time)
}

func (l *NotifiedLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
