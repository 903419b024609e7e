package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSessions(locators map[string]*mockLocator) (*Sessions, *fakeScheduler) {
	scheduler := newFakeScheduler()
	sessions := NewSessions(SessionConfig{
		RadiusMeters:       100,
		ForegroundInterval: 30 * time.Second,
		BackgroundInterval: 10 * time.Minute,
	}, func(userID string) Locator {
		return locators[userID]
	}, new(mockTaskSource), scheduler, nil, zap.NewNop())
	return sessions, scheduler
}

func grantingLocator() *mockLocator {
	l := new(mockLocator)
	l.On("RequestForegroundPermission", mock.Anything).Return(true, nil)
	l.On("RequestBackgroundPermission", mock.Anything).Return(true, nil)
	return l
}

func grantingNotifier() *mockNotifier {
	n := new(mockNotifier)
	n.On("RequestPermission", mock.Anything).Return(true, nil)
	return n
}

func TestSessionsOneControllerPerUser(t *testing.T) {
	sessions, scheduler := newTestSessions(map[string]*mockLocator{
		"u1": grantingLocator(),
		"u2": grantingLocator(),
	})
	ctx := context.Background()

	first, err := sessions.Start(ctx, "u1", StaticIdentity("u1"), grantingNotifier())
	require.NoError(t, err)
	again, err := sessions.Start(ctx, "u1", StaticIdentity("u1"), grantingNotifier())
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = sessions.Start(ctx, "u2", StaticIdentity("u2"), grantingNotifier())
	require.NoError(t, err)

	assert.Equal(t, 2, scheduler.registers)
	assert.True(t, sessions.Active("u1"))
	assert.True(t, scheduler.IsRegistered("proximity:u2"))

	sessions.SetForeground("u1", true)
	assert.Equal(t, 30*time.Second, scheduler.interval("proximity:u1"))
	assert.Equal(t, 10*time.Minute, scheduler.interval("proximity:u2"))
}

func TestSessionsStop(t *testing.T) {
	sessions, scheduler := newTestSessions(map[string]*mockLocator{"u1": grantingLocator()})
	_, err := sessions.Start(context.Background(), "u1", StaticIdentity("u1"), grantingNotifier())
	require.NoError(t, err)

	assert.True(t, sessions.Stop("u1"))
	assert.False(t, sessions.Stop("u1"))
	assert.False(t, sessions.Active("u1"))
	assert.False(t, scheduler.IsRegistered("proximity:u1"))
}

func TestSessionsDeniedStartIsInactive(t *testing.T) {
	l := new(mockLocator)
	l.On("RequestForegroundPermission", mock.Anything).Return(false, nil)
	sessions, _ := newTestSessions(map[string]*mockLocator{"u1": l})

	_, err := sessions.Start(context.Background(), "u1", StaticIdentity("u1"), grantingNotifier())

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, sessions.Active("u1"))
}

func TestSessionsStopAll(t *testing.T) {
	sessions, scheduler := newTestSessions(map[string]*mockLocator{
		"u1": grantingLocator(),
		"u2": grantingLocator(),
	})
	ctx := context.Background()
	for _, id := range []string{"u1", "u2"} {
		_, err := sessions.Start(ctx, id, StaticIdentity(id), grantingNotifier())
		require.NoError(t, err)
	}

	sessions.StopAll()

	assert.False(t, scheduler.IsRegistered("proximity:u1"))
	assert.False(t, scheduler.IsRegistered("proximity:u2"))
}
