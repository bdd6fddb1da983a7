package main

import (
	"fmt"

	"github.com/steward-bot/steward/internal/config"
	"github.com/steward-bot/steward/internal/index"
	"github.com/steward-bot/steward/internal/logging"
	"github.com/steward-bot/steward/internal/syncer"
)

// app bundles the pieces every command needs: config, index, syncer.
type app struct {
	cfg  *config.Config
	logs *logging.Factory
	db   *index.DB
	sync *syncer.Syncer
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logs := logging.NewFactory(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	db, err := index.Open(cfg.IndexPath)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		logs.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	return &app{
		cfg:  cfg,
		logs: logs,
		db:   db,
		sync: syncer.New(cfg.VaultPath, db, logs.For("syncer")),
	}, nil
}

func (a *app) close() {
	a.db.Close()
	a.logs.Close()
}
