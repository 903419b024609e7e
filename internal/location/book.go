// Package location keeps the latest device fix per user. Fixes arrive from
// Telegram location shares or the HTTP ingest endpoint; proximity controllers
// read them through a Locator.
package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nearby-tasks/internal/model"
	"nearby-tasks/internal/service"
)

// Fix is the last known position of a user along with what the user allowed.
type Fix struct {
	Position model.DevicePosition
	// Foreground is true while the device actively streams positions.
	Foreground bool
	// Background is true when positions keep coming without user action
	// (a Telegram live location or a device agent).
	Background bool
	// Expires is when a live stream ends; zero means no known end.
	Expires time.Time
	Revoked bool
}

// Streaming reports whether positions keep arriving on their own while the
// device is in use, which calls for the short check interval.
func (f Fix) Streaming() bool {
	return !f.Revoked && f.Foreground && f.Background
}

// Book is a concurrency-safe registry of fixes keyed by user id.
type Book struct {
	maxAge time.Duration
	now    func() time.Time

	mu          sync.RWMutex
	fixes       map[string]Fix
	subscribers []func(userID string, fix Fix)
}

// NewBook creates a Book. Fixes older than maxAge are treated as unavailable;
// maxAge <= 0 keeps them forever.
func NewBook(maxAge time.Duration) *Book {
	return &Book{
		maxAge: maxAge,
		now:    time.Now,
		fixes:  make(map[string]Fix),
	}
}

// Update records a new position. liveFor > 0 marks a streaming source
// (foreground and background) that ends after liveFor.
func (b *Book) Update(userID string, pos model.DevicePosition, liveFor time.Duration) Fix {
	if pos.Timestamp.IsZero() {
		pos.Timestamp = b.now()
	}
	fix := Fix{Position: pos, Foreground: true}
	if liveFor > 0 {
		fix.Background = true
		fix.Expires = pos.Timestamp.Add(liveFor)
	}
	return b.store(userID, fix)
}

// UpdateFix stores fix as given, used by sources that report permissions
// explicitly.
func (b *Book) UpdateFix(userID string, fix Fix) Fix {
	if fix.Position.Timestamp.IsZero() {
		fix.Position.Timestamp = b.now()
	}
	return b.store(userID, fix)
}

// Revoke records that the user withdrew location access.
func (b *Book) Revoke(userID string) {
	b.store(userID, Fix{Revoked: true})
}

// Forget drops everything known about the user.
func (b *Book) Forget(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fixes, userID)
}

func (b *Book) store(userID string, fix Fix) Fix {
	b.mu.Lock()
	b.fixes[userID] = fix
	subs := append([]func(string, Fix){}, b.subscribers...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(userID, fix)
	}
	return fix
}

// Latest returns the stored fix, fresh or not.
func (b *Book) Latest(userID string) (Fix, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fix, ok := b.fixes[userID]
	return fix, ok
}

// Subscribe registers fn to be called after every update, outside the lock.
func (b *Book) Subscribe(fn func(userID string, fix Fix)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Live reports whether the user's fix comes from a stream that has not ended.
func (b *Book) Live(userID string) bool {
	fix, ok := b.Latest(userID)
	if !ok || fix.Revoked || !fix.Background {
		return false
	}
	return fix.Expires.IsZero() || b.now().Before(fix.Expires)
}

// Locator adapts the Book to service.Locator for one user.
func (b *Book) Locator(userID string) *Locator {
	return &Locator{book: b, userID: userID}
}

// Locator serves positions of a single user from a Book.
type Locator struct {
	book   *Book
	userID string
}

// RequestForegroundPermission is granted once the user shared any position.
func (l *Locator) RequestForegroundPermission(context.Context) (bool, error) {
	fix, ok := l.book.Latest(l.userID)
	return ok && !fix.Revoked && fix.Foreground, nil
}

// RequestBackgroundPermission is granted while positions are streamed.
func (l *Locator) RequestBackgroundPermission(context.Context) (bool, error) {
	fix, ok := l.book.Latest(l.userID)
	return ok && !fix.Revoked && fix.Background, nil
}

func (l *Locator) CurrentPosition(ctx context.Context) (model.DevicePosition, error) {
	if err := ctx.Err(); err != nil {
		return model.DevicePosition{}, err
	}
	fix, ok := l.book.Latest(l.userID)
	if !ok {
		return model.DevicePosition{}, fmt.Errorf("no position shared yet: %w", service.ErrPositionUnavailable)
	}
	if fix.Revoked {
		return model.DevicePosition{}, service.ErrPermissionDenied
	}
	if maxAge := l.book.maxAge; maxAge > 0 {
		if age := l.book.now().Sub(fix.Position.Timestamp); age > maxAge {
			return model.DevicePosition{}, fmt.Errorf("last fix is %s old: %w", age.Round(time.Second), service.ErrPositionUnavailable)
		}
	}
	return fix.Position, nil
}
