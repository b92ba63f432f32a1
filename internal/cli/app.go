// Package cli wires the game, the access manager and the saved session for
// the stk command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stockclass/internal/access"
	"stockclass/internal/config"
	"stockclass/internal/game"
	"stockclass/internal/kv"
)

type App struct {
	Store  kv.Store
	Game   *game.GameState
	Access *access.Manager
	log    *slog.Logger
	seeds  []game.Stock
}

// Open connects the configured store and builds an App on it.
func Open(ctx context.Context, cfg config.CLIConfig, logger *slog.Logger) (*App, error) {
	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(ctx, store, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return app, nil
}

// NewApp hydrates the game from store, seeds the market on first run and
// resumes any saved session.
func NewApp(ctx context.Context, store kv.Store, cfg config.CLIConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seeds, err := config.SeedStocks(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	g := game.New(store, game.WithLogger(logger), game.WithSeedStocks(seeds))
	if cfg.StartupSeedStocks {
		if _, err := g.SeedStocks(nil); err != nil {
			return nil, fmt.Errorf("seed stocks: %w", err)
		}
	}

	app := &App{Store: store, Game: g, Access: access.NewManager(g, logger), log: logger, seeds: seeds}
	sess, err := LoadSession(ctx, store)
	switch {
	case errors.Is(err, ErrNoSession):
	case err != nil:
		logger.Warn("ignoring unreadable session", "err", err)
	case !app.Access.Resume(sess):
		logger.Info("saved session no longer valid", "user", sess.User)
		if err := ClearSession(ctx, store); err != nil {
			logger.Warn("clear session", "err", err)
		}
	}
	return app, nil
}

// Login enters a session and saves it.
func (a *App) Login(ctx context.Context, name string) error {
	if !a.Access.Login(name) {
		return fmt.Errorf("login failed for %q", name)
	}
	return SaveSession(ctx, a.Store, a.Access.Session())
}

func (a *App) Logout(ctx context.Context) error {
	a.Access.Logout()
	return ClearSession(ctx, a.Store)
}

// Reload re-reads the snapshot so changes made by other processes show up.
func (a *App) Reload() {
	sess := a.Access.Session()
	a.Game = game.New(a.Store, game.WithLogger(a.log), game.WithSeedStocks(a.seeds))
	a.Access = access.NewManager(a.Game, a.log)
	if sess.Role != access.RoleNone {
		a.Access.Resume(sess)
	}
}

func (a *App) Close() error {
	return a.Store.Close()
}
