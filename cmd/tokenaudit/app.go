package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/janekbaraniewski/tokenaudit/internal/analyzer"
	"github.com/janekbaraniewski/tokenaudit/internal/config"
	"github.com/janekbaraniewski/tokenaudit/internal/history"
	"github.com/janekbaraniewski/tokenaudit/internal/pricing"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

// appContext carries the lazily opened shared dependencies of every
// subcommand.
type appContext struct {
	cfg    config.Config
	logger *log.Logger

	store *storage.Store
	hist  *history.Store
}

func (a *appContext) openStore() (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.Open(config.HomeDir())
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %w", config.HomeDir(), err)
	}
	a.store = store
	return store, nil
}

// openHistory returns nil without error when the cache is disabled or
// unavailable; callers fall back to scanning summary files.
func (a *appContext) openHistory() *history.Store {
	if a.hist != nil {
		return a.hist
	}
	if !a.cfg.Tracking.HistoryEnabled {
		return nil
	}
	h, err := history.OpenStore(filepath.Join(config.HomeDir(), history.DBFileName))
	if err != nil {
		a.logger.Warn("history cache unavailable", "err", err)
		return nil
	}
	a.hist = h
	return h
}

func (a *appContext) thresholds() analyzer.Thresholds {
	th, err := config.LoadThresholds(config.ThresholdsPath())
	if err != nil {
		a.logger.Warn("threshold overrides ignored", "err", err)
		return analyzer.DefaultThresholds()
	}
	return th
}

func (a *appContext) pricing() *pricing.Table {
	table, err := pricing.LoadOverrides(config.PricingPath())
	if err != nil {
		a.logger.Warn("pricing overrides ignored", "err", err)
		return pricing.Default()
	}
	return table
}
