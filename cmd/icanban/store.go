package main

import (
	"context"
	"fmt"
	"time"

	"icanban/internal/config"
	appLog "icanban/internal/log"
	"icanban/internal/store"
	"icanban/internal/store/postgres"
	"icanban/internal/store/sqlite"
	"icanban/internal/tracker"
)

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		appLog.Warn("memory store selected; tasks are lost on exit")
		return store.NewMemory(), func() {}, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store %s: %w", cfg.Store.Path, err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				appLog.Error("closing sqlite store failed", err)
			}
		}, nil
	case config.BackendPostgres:
		s, err := postgres.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// session is an opened store with a built tree on top of it.
type session struct {
	bus     *store.Bus
	manager *tracker.Manager
	close   func()
}

// openSession opens the store, resolves the configured container (creating
// a default one on first run) and builds the tree.
func (a *app) openSession(ctx context.Context) (*session, error) {
	s, closeStore, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	bus := store.NewBus(s)

	timeout := time.Duration(a.cfg.StoreTimeoutSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	c, err := store.EnsureContainer(cctx, bus, a.cfg.Container)
	cancel()
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("resolve container: %w", err)
	}
	if c.ID != a.cfg.Container {
		appLog.Info("using task container", "id", c.ID, "name", c.Name)
	}

	m := tracker.NewManager(bus, tracker.Options{Container: c.ID, Timeout: timeout})
	if err := m.Refresh(ctx); err != nil {
		closeStore()
		return nil, err
	}
	return &session{bus: bus, manager: m, close: closeStore}, nil
}
