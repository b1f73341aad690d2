// Package app wires configuration, storage, the engine and the conversation
// registry into one value shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"momentum/internal/config"
	"momentum/internal/conversation"
	"momentum/internal/db"
	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/events"
	"momentum/internal/migrate"
	"momentum/internal/repo"
	"momentum/internal/router"
	"momentum/internal/store/memory"
	"momentum/internal/transport"
)

type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *zap.Logger
	// Transport overrides the configured assistant transport.
	Transport domain.Transport
	Now       func() time.Time
}

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Stores  domain.Stores
	History domain.HistoryStore
	Engine  *engine.Engine
	Router  *router.Router
	Summary engine.Summary
	// DB is nil for the memory backend.
	DB  *sql.DB
	Now func() time.Time

	transport domain.Transport
	mu        sync.Mutex
	convs     *conversation.Registry
}

// Open builds the app for a workspace, migrating the database when the
// sqlite backend is selected.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &App{Config: cfg, Logger: logger, Now: now, transport: opts.Transport}

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: cfg.Storage.Path})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		r := repo.Repo{DB: conn, Events: events.Writer{Now: now}}
		a.DB = conn
		a.Stores = r.Stores()
		a.History = repo.History{DB: conn}
	default:
		a.Stores = memory.NewStores()
		a.History = memory.NewHistory()
	}

	a.Engine = engine.New(a.Stores, logger.Named("engine"))
	a.Engine.Now = now
	rt, err := router.New(a.Engine.Handlers(), logger.Named("router"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = rt
	a.Summary = engine.Summary{Stores: a.Stores, Location: cfg.Location()}
	logger.Debug("app ready", zap.String("backend", cfg.Storage.Backend))
	return a, nil
}

// Conversations returns the registry, connecting the assistant on first use.
func (a *App) Conversations(ctx context.Context) (*conversation.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.convs != nil {
		return a.convs, nil
	}
	tr, err := a.assistant(ctx)
	if err != nil {
		return nil, err
	}
	a.convs = conversation.NewRegistry(conversation.Deps{
		Transport:  tr,
		Dispatcher: a.Router,
		Confirmer:  a.Engine,
		Context:    a.Summary,
		History:    a.History,
		Logger:     a.Logger.Named("conversation"),
	}, conversation.Config{MaxHistory: a.Config.History.MaxEntries})
	return a.convs, nil
}

func (a *App) assistant(ctx context.Context) (domain.Transport, error) {
	if a.transport != nil {
		return a.transport, nil
	}
	if a.Config.Assistant.Offline {
		return transport.Offline{}, nil
	}
	e, err := transport.ParseEnv()
	if err != nil {
		return nil, err
	}
	if e.Model == "" {
		e.Model = a.Config.Assistant.Model
	}
	if e.Temperature == nil {
		t := a.Config.Assistant.Temperature
		e.Temperature = &t
	}
	g, err := transport.NewGenAI(ctx, e, a.Logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}
	return g, nil
}

// Close stops in-flight turns and releases the database.
func (a *App) Close() error {
	a.mu.Lock()
	convs := a.convs
	a.mu.Unlock()
	if convs != nil {
		convs.CancelAll()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
