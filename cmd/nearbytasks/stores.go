package main

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nearby-tasks/internal/config"
	"nearby-tasks/internal/remote"
	"nearby-tasks/internal/repository"
	"nearby-tasks/internal/service"
)

// taskBackend is the configured task store. identity is nil for the local
// store, where each caller names its own user.
type taskBackend struct {
	store    service.TaskStore
	identity service.Identity
}

func openDB(rt *runtime) (*gorm.DB, func(), error) {
	db, err := repository.NewDB(rt.cfg.Store.DatabaseURL, rt.log)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, closeFn, nil
}

// openTasks picks the task store. db may be nil when the backend is remote.
func openTasks(rt *runtime, db *gorm.DB) (*taskBackend, error) {
	switch rt.cfg.Store.Backend {
	case config.StoreSupabase:
		s := rt.cfg.Supabase
		store, err := remote.NewStore(remote.Config{
			URL:      s.URL,
			Key:      s.Key,
			Email:    s.Email,
			Password: s.Password,
			Table:    s.Table,
		}, remote.DefaultBreakerConfig(), rt.log)
		if err != nil {
			return nil, err
		}
		rt.log.Info("using supabase task store", zap.String("table", s.Table))
		return &taskBackend{store: store, identity: store}, nil
	default:
		if db == nil {
			return nil, fmt.Errorf("sqlite task store needs a database")
		}
		rt.log.Info("using sqlite task store", zap.String("dsn", rt.cfg.Store.DatabaseURL))
		return &taskBackend{store: repository.NewTaskRepository(db)}, nil
	}
}

// userIdentity returns the owner of tasks for commands that act for a single
// user: the signed-in account on the remote store, otherwise the given id.
func (b *taskBackend) userIdentity(userID string) service.Identity {
	if b.identity != nil {
		return b.identity
	}
	return service.StaticIdentity(userID)
}

// openBackend opens the task store for commands that need no local users.
// The SQLite file is only opened for the local backend.
func openBackend(rt *runtime) (*taskBackend, func(), error) {
	if rt.cfg.Store.Backend == config.StoreSupabase {
		backend, err := openTasks(rt, nil)
		return backend, func() {}, err
	}
	db, closeDB, err := openDB(rt)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openTasks(rt, db)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return backend, closeDB, nil
}
