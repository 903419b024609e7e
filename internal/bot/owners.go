package bot

import (
	"context"

	"nearby-tasks/internal/model"
	"nearby-tasks/internal/service"
)

// OwnerResolver maps a Telegram user to the user id that owns tasks in the
// task store.
type OwnerResolver interface {
	OwnerID(ctx context.Context, user *model.User) (string, error)
}

// LocalOwners uses the local user id, for stores where every Telegram user
// has their own tasks.
type LocalOwners struct{}

func (LocalOwners) OwnerID(_ context.Context, user *model.User) (string, error) {
	return user.ID, nil
}

// SharedOwner maps every Telegram user to the account the store is signed in
// as.
type SharedOwner struct {
	Identity service.Identity
}

func (s SharedOwner) OwnerID(ctx context.Context, _ *model.User) (string, error) {
	return s.Identity.CurrentUserID(ctx)
}

// ownerIdentity is the service.Identity of one Telegram user's session.
type ownerIdentity struct {
	owners OwnerResolver
	user   model.User
}

func (o ownerIdentity) CurrentUserID(ctx context.Context) (string, error) {
	return o.owners.OwnerID(ctx, &o.user)
}
