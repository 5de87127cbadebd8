package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"dupeguard.ai/internal/config"
	"dupeguard.ai/internal/engine"
	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/catalog"
	"dupeguard.ai/internal/logging"
	"dupeguard.ai/internal/metrics"
	"dupeguard.ai/internal/persistence/kv"
	persistlog "dupeguard.ai/internal/persistence/log"
	"dupeguard.ai/internal/sim/world"
	"dupeguard.ai/internal/supervisor"
	"dupeguard.ai/internal/transport/adminhttp"
	"dupeguard.ai/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (or set "+config.PathEnvVar+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.Component("server")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	surface, closeKV := openKV(cfg.Storage, log)
	defer closeKV()

	cat := catalog.Defaults()
	if cfg.Engine.CatalogPath != "" {
		c, err := catalog.Load(cfg.Engine.CatalogPath)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		cat = c
	}
	log.Info().Str("digest", cat.Digest()).Msg("catalog ready")

	w, err := newWorld(cfg)
	if err != nil {
		return err
	}

	var archive engine.Archiver
	if cfg.Archive.Dir != "" {
		a := persistlog.NewIncidentArchive(cfg.Archive.Dir)
		defer a.Close()
		archive = a

		audit := persistlog.NewAuditLogger(filepath.Join(cfg.Archive.Dir, "audit"))
		defer audit.Close()
		w.SetAuditLogger(audit)
	}

	hub := ws.NewHub(logging.Component("ws"))
	eng := engine.New(engine.Options{
		World:    w,
		Surface:  surface,
		Catalog:  cat,
		Archive:  archive,
		Sinks:    []alerts.Sink{hub},
		TickRate: cfg.Engine.TickRate,
		Logger:   logging.Component("engine"),
	})
	eng.Load()

	router := adminhttp.NewRouter(adminhttp.Options{
		Engine:         eng,
		Alerts:         hub.Handler(),
		RequestsPerMin: cfg.Server.RequestsPerMin,
		AllowRemote:    cfg.Server.AllowRemote,
		Logger:         logging.Component("admin"),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	tree := supervisor.NewTree(logging.Component("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddEngineService(supervisor.Func{Name: "engine", Run: eng.Run})
	tree.AddTransportService(supervisor.Func{Name: "admin-http", Run: func(ctx context.Context) error {
		return serveHTTP(ctx, srv, cfg.Server.ShutdownTimeout)
	}})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("storage", cfg.Storage.Backend).
		Int("tick_rate", cfg.Engine.TickRate).
		Msg("dupeguard starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, s := range report {
			log.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("dupeguard stopped")
	return nil
}

func serveHTTP(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	// Lets suture treat this as a clean stop rather than a failure to restart.
	return ctx.Err()
}

// openKV opens the configured backend. A backend that fails to open degrades
// to an in-memory surface so detection keeps running; state will not survive
// a restart in that case.
func openKV(sc config.StorageConfig, log zerolog.Logger) (kv.Surface, func()) {
	var (
		inner kv.Surface
		err   error
	)
	switch sc.Backend {
	case "sqlite":
		if dir := filepath.Dir(sc.Path); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		inner, err = kv.OpenSQLite(sc.Path, sc.MaxValueSize)
	case "badger":
		inner, err = kv.OpenBadger(sc.Path, sc.MaxValueSize)
	default:
		inner = kv.NewMemory(sc.MaxValueSize)
	}
	if err != nil {
		log.Error().Err(err).Str("backend", sc.Backend).Str("path", sc.Path).Msg("open storage failed, falling back to memory")
		inner = kv.NewMemory(sc.MaxValueSize)
	}

	surface := inner
	if sc.Breaker.Enabled {
		surface = kv.WithBreaker(inner, kv.BreakerConfig{
			Name:             sc.Backend,
			FailureThreshold: sc.Breaker.FailureThreshold,
			OpenTimeout:      sc.Breaker.OpenTimeout,
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.KVBreakerState.Set(float64(to))
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("storage breaker state change")
			},
		})
	}
	return surface, func() {
		if c, ok := surface.(kv.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("close storage")
			}
		}
	}
}

func newWorld(cfg *config.Config) (*world.World, error) {
	if cfg.Scenario.Path == "" {
		return world.New(world.Config{}), nil
	}
	s, err := world.LoadScenario(cfg.Scenario.Path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	return world.NewFromScenario(s), nil
}
