package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/config"
	"inferd/internal/experiment"
	"inferd/internal/monitor"
	"inferd/internal/router"
	"inferd/internal/server"
	"inferd/internal/store"
	"inferd/internal/version"
	"inferd/pkg/types"
)

// Service is the whole control plane constructed once at process start
// and passed by reference to the transport glue. It owns the background
// loops and the stores.
type Service struct {
	Engine      *Engine
	Server      *server.Server
	Monitor     *monitor.Monitor
	Alerts      *monitor.AlertManager
	Experiments *experiment.Manager
	Versions    *version.Manager
	Router      *router.Router

	db      store.DurableStore
	kvstore cache.KeyValueStore
	log     zerolog.Logger
}

// NewService wires every subsystem from the configuration.
func NewService(cfg config.Config, log zerolog.Logger) (*Service, error) {
	var db store.DurableStore
	var err error
	if cfg.StorePath != "" {
		db, err = store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
	} else {
		db = store.NewMemoryStore()
	}

	var kv cache.KeyValueStore
	if cfg.CachePath != "" {
		kv, err = cache.OpenSQLite(cfg.CachePath)
		if err != nil {
			// Cache unavailability degrades, it never blocks startup.
			log.Warn().Err(err).Msg("cache store unavailable, using in-memory cache")
			kv = cache.NewMemoryStore()
		}
	} else {
		kv = cache.NewMemoryStore()
	}

	mc := cache.New(kv, cfg.CacheTTL(), log)
	alerts := monitor.NewAlertManager(db, log)
	mon := monitor.New(alerts, nil, monitor.Options{
		WindowSize:     cfg.MetricsWindow,
		DriftWindow:    cfg.DriftWindow,
		CheckInterval:  cfg.CheckInterval(),
		SampleInterval: cfg.SampleInterval(),
		Thresholds:     cfg.Thresholds,
	}, log)

	srv := server.New(mc, mon, server.Options{
		PredictTimeout: cfg.PredictTimeout(),
		LoadTimeout:    cfg.LoadTimeout(),
		IdleTimeout:    cfg.IdleTimeout(),
		SweepInterval:  cfg.SweepInterval(),
		WarmupRequests: cfg.WarmupRequests,
	}, log)

	rt := router.New()
	exps := experiment.NewManager(rt, srv, db, log)
	vers := version.NewManager(srv, rt, db, log)

	defaults := make(map[types.Task]string, len(cfg.DefaultModels))
	for task, id := range cfg.DefaultModels {
		defaults[types.Task(task)] = id
	}
	eng := New(srv, exps, vers, mon, alerts, defaults, log)

	return &Service{
		Engine:      eng,
		Server:      srv,
		Monitor:     mon,
		Alerts:      alerts,
		Experiments: exps,
		Versions:    vers,
		Router:      rt,
		db:          db,
		kvstore:     kv,
		log:         log.With().Str("component", "service").Logger(),
	}, nil
}

// Init restores persisted state, loads configured models, and starts the
// background loops. A model that fails to load is logged and skipped so
// one bad artifact cannot keep the whole service down.
func (s *Service) Init(ctx context.Context, cfg config.Config) error {
	if err := s.Experiments.Restore(ctx); err != nil {
		s.log.Warn().Err(err).Msg("experiment restore failed")
	}
	if err := s.Versions.Restore(ctx); err != nil {
		s.log.Warn().Err(err).Msg("version restore failed")
	}
	for _, m := range cfg.Models {
		if err := s.Server.LoadModel(ctx, m); err != nil {
			s.log.Error().Err(err).Str("model", m.ID).Msg("startup load failed")
		}
	}
	s.Monitor.Start()
	s.Server.StartSweeper()
	return nil
}

// Shutdown stops background loops and closes the stores.
func (s *Service) Shutdown(ctx context.Context) {
	s.Monitor.Stop()
	s.Server.Close()
	if err := s.kvstore.Close(); err != nil {
		s.log.Warn().Err(err).Msg("cache store close failed")
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn().Err(err).Msg("durable store close failed")
	}
}
