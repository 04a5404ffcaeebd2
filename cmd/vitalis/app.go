package main

import (
	"fmt"
	"os"
	"path/filepath"

	"vitalis/internal/attribution"
	"vitalis/internal/baseline"
	"vitalis/internal/causal"
	"vitalis/internal/config"
	"vitalis/internal/consent"
	"vitalis/internal/evaluation"
	"vitalis/internal/ingest"
	"vitalis/internal/logging"
	"vitalis/internal/loop"
	"vitalis/internal/metrics"
	"vitalis/internal/narrative"
	"vitalis/internal/provider"
	"vitalis/internal/store"
	"vitalis/internal/trust"
)

// app holds the wired service graph. Every command builds one, uses it,
// and closes it; serve keeps it alive until shutdown.
type app struct {
	cfg        *config.Config
	store      *store.Store
	registry   *metrics.Registry
	gate       *consent.Gate
	baselines  *baseline.Service
	ingestor   *ingest.Service
	evaluator  *evaluation.Service
	attributor *attribution.Engine
	causal     *causal.Updater
	narratives *narrative.Synthesizer
	trust      *trust.Engine
	providers  *provider.Manager
	thresholds *config.ThresholdWatcher
	loop       *loop.Runner
}

// newApp loads config and wires all services. The threshold watcher is
// created but not started; serve starts it.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := logging.Initialize(cfg.DataDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}
	if err := logging.InitAudit(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	gate := consent.NewGate(st)
	baselines := baseline.NewService(st, reg, cfg)
	ingestor := ingest.NewService(st, reg, gate, cfg.Windows.MaxBatchIngest)

	watcher, err := config.NewThresholdWatcher(
		filepath.Join(cfg.DataDir, "thresholds.yaml"), cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		store:      st,
		registry:   reg,
		gate:       gate,
		baselines:  baselines,
		ingestor:   ingestor,
		evaluator:  evaluation.NewService(st, reg, cfg),
		attributor: attribution.NewEngine(st, reg, cfg),
		causal:     causal.NewUpdater(st),
		narratives: narrative.NewSynthesizer(st, reg, cfg),
		trust:      trust.NewEngine(st),
		thresholds: watcher,
		loop:       loop.NewRunner(st, reg, cfg, baselines, gate, watcher),
	}

	// Provider sync needs a token secret; without one the provider layer
	// stays dark and manual/CSV ingestion still works.
	if secret := os.Getenv("VITALIS_TOKEN_SECRET"); secret != "" {
		cipher, err := provider.NewTokenCipher([]byte(secret))
		if err != nil {
			return nil, err
		}
		a.providers = provider.NewManager(st, reg, ingestor, cipher, cfg)
		if cfg.Env == config.EnvDemo {
			a.providers.Register(provider.NewDemoAdapter(reg))
		}
	}

	return a, nil
}

func (a *app) close() {
	a.store.Close()
	logging.CloseAudit()
	logging.CloseAll()
}
