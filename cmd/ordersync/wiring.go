package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/config"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/sheet"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/store"
)

// loadConfig resolves configuration using the global --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStore opens the local database and ensures the schema exists.
func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newSheetClient picks the remote backend: the REST client when a
// spreadsheet is configured, an in-memory sheet for offline runs.
func newSheetClient(cfg *config.Config, offline bool) (sheet.Client, error) {
	if offline || cfg.SpreadsheetID == "" {
		mem := sheet.NewMemory()
		mem.AddTab(cfg.OrdersTab, engine.OrderColumns)
		mem.AddTab(cfg.LinesTab, engine.LineColumns)
		return mem, nil
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token not configured (set ORDERSYNC_ACCESS_TOKEN)")
	}
	token := cfg.AccessToken
	return sheet.NewHTTPClient(sheet.HTTPClientOptions{
		TokenProvider: func(context.Context) (string, error) { return token, nil },
		UserAgent:     "ordersync/1.0",
	}), nil
}

// newOrchestrator wires the sync engine from the resolved configuration.
func newOrchestrator(cfg *config.Config, st *store.Store, client sheet.Client, events engine.EventSink, logger *log.Logger) *engine.Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	gov := engine.NewGovernor(engine.GovernorConfig{
		MaxWritesPerMinute: cfg.Governor.MaxWritesPerMinute,
		MinInterval:        cfg.Governor.MinInterval,
		MaxRetries:         cfg.Governor.MaxRetries,
		BaseDelay:          cfg.Governor.BaseDelay,
		MaxDelay:           cfg.Governor.MaxDelay,
		BatchSize:          cfg.Governor.BatchSize,
		Logger:             logger,
	})
	return engine.NewOrchestrator(st, client, gov, codec.New(cfg.Precision, time.Local),
		engine.OrchestratorConfig{
			SpreadsheetID: cfg.SpreadsheetID,
			OrdersTab:     cfg.OrdersTab,
			LinesTab:      cfg.LinesTab,
			Logger:        logger,
			Events:        events,
		})
}
