// Package engine runs detection and enforcement on a single loop goroutine.
// The world probe, every persisted record and all runtime state are owned by
// that goroutine; other goroutines reach them only through the admin calls
// in admin.go.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dupeguard.ai/internal/engine/alerts"
	"dupeguard.ai/internal/engine/catalog"
	"dupeguard.ai/internal/engine/finding"
	"dupeguard.ai/internal/engine/handlers"
	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/engine/probe"
	"dupeguard.ai/internal/engine/punish"
	"dupeguard.ai/internal/engine/registry"
	"dupeguard.ai/internal/engine/scanner"
	"dupeguard.ai/internal/engine/settings"
	"dupeguard.ai/internal/metrics"
	"dupeguard.ai/internal/persistence/kv"
	"dupeguard.ai/internal/persistence/store"
)

const DefaultTickRate = 20

// Stepper is implemented by hosts that advance their own state on the
// engine clock, like the sim world.
type Stepper interface {
	Step(tick uint64)
}

// Archiver receives every incident, beyond what the bounded log keeps.
type Archiver interface {
	WriteIncident(e incidents.Entry) error
}

type Options struct {
	World   probe.World
	Surface kv.Surface
	// Catalog defaults to catalog.Defaults().
	Catalog *catalog.Catalog
	Archive Archiver
	Sinks   []alerts.Sink

	TickRate int
	Now      func() time.Time
	Logger   zerolog.Logger

	DebounceTicks  int64
	HeartbeatTicks int64
}

type Engine struct {
	world   probe.World
	catalog *catalog.Catalog
	archive Archiver
	log     zerolog.Logger
	now     func() time.Time
	tickDur time.Duration

	settings  *store.Record[settings.GlobalConfig]
	stats     *store.Record[Stats]
	registry  *registry.Registry
	incidents *incidents.Log

	scanner   *scanner.Scanner
	notifier  *alerts.Notifier
	cooldowns *punish.Cooldowns

	tick  int64
	admin chan adminReq
}

func New(opts Options) *Engine {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Defaults()
	}
	if opts.TickRate <= 0 {
		opts.TickRate = DefaultTickRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	e := &Engine{
		world:     opts.World,
		catalog:   opts.Catalog,
		archive:   opts.Archive,
		log:       log,
		now:       opts.Now,
		tickDur:   time.Second / time.Duration(opts.TickRate),
		cooldowns: punish.NewCooldowns(),
		admin:     make(chan adminReq, 64),
	}

	storeLog := log.With().Str("component", "store").Logger()
	onFlush := func(fi store.FlushInfo) {
		metrics.RecordFlush(fi.Key, fi.Outcome.String(), fi.Bytes, fi.Err)
	}
	e.settings = store.New(opts.Surface, store.Options[settings.GlobalConfig]{
		Key:            settings.Key,
		Default:        settings.Default,
		Normalize:      settings.Normalize,
		Trim:           settings.TrimStages(),
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Logger:         &storeLog,
		OnFlush:        onFlush,
	})
	e.stats = store.New(opts.Surface, store.Options[Stats]{
		Key:            StatsKey,
		Default:        defaultStats,
		Normalize:      normalizeStats,
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Logger:         &storeLog,
		OnFlush:        onFlush,
	})
	e.registry = registry.New(opts.Surface, registry.Options{
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Counters:       metrics.IdentityCounters{},
		Logger:         &storeLog,
		OnFlush:        onFlush,
	})
	e.incidents = incidents.New(opts.Surface, incidents.Options{
		DebounceTicks:  opts.DebounceTicks,
		HeartbeatTicks: opts.HeartbeatTicks,
		Logger:         &storeLog,
		OnFlush:        onFlush,
	})

	e.notifier = alerts.NewNotifier(opts.World, opts.Now, opts.Sinks...)

	dispatch := &handlers.Dispatcher{
		World:    opts.World,
		Catalog:  opts.Catalog,
		Config:   e.config,
		Handlers: handlers.Scanned(),
		Report:   e.report,
		Log:      log.With().Str("component", "handlers").Logger(),
	}
	e.scanner = scanner.New(opts.World, dispatch, e.scanConfig, log.With().Str("component", "scanner").Logger())
	e.scanner.OnPassComplete = e.onPassComplete
	return e
}

// Load reads every persisted record, falling back to defaults. It must run
// before the first Step.
func (e *Engine) Load() {
	e.settings.Load()
	e.stats.Load()
	e.registry.Load()
	e.incidents.Load()
	e.incidents.SetMax(e.settings.Value().Tracking.LogMaxEntries)
	cfg := e.settings.Value()
	e.log.Info().
		Bool("enabled", cfg.Enabled).
		Int("profiles", len(e.registry.List())).
		Int("incidents", e.incidents.Len()).
		Str("catalog", e.catalog.Digest()).
		Msg("engine loaded")
}

// AddSink registers an alert sink. Loop goroutine or before Run only.
func (e *Engine) AddSink(s alerts.Sink) { e.notifier.AddSink(s) }

func (e *Engine) config() settings.GlobalConfig { return e.settings.Value() }

func (e *Engine) scanConfig() scanner.Config {
	cfg := e.settings.Value()
	var enabled finding.Set
	for _, c := range cfg.EnabledCategories() {
		enabled = enabled.With(c)
	}
	return scanner.Config{
		Radius:  cfg.Tracking.ScanRadius,
		Budget:  cfg.Tracking.OpsPerTick,
		Enabled: enabled,
	}
}

func (e *Engine) nowMS() int64 { return e.now().UnixMilli() }

// Tick is the number of completed steps.
func (e *Engine) Tick() int64 { return e.tick }

// Step advances the engine by one tick.
func (e *Engine) Step() {
	e.tick++
	if s, ok := e.world.(Stepper); ok {
		s.Step(uint64(e.tick))
	}
	e.drainEvents()

	start := time.Now()
	res := e.scanner.Tick()
	metrics.RecordScanTick(res.Visits, res.Skips, res.Recovered, res.PassComplete, time.Since(start))

	if every := int64(e.settings.Value().Tracking.TrackEveryTicks); every > 0 && e.tick%every == 0 {
		e.track()
	}

	e.settings.Tick(e.tick)
	e.stats.Tick(e.tick)
	e.registry.Tick(e.tick)
	e.incidents.Tick(e.tick)
}

func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickDur)
	defer ticker.Stop()
	defer e.Flush()

	e.log.Info().Dur("interval", e.tickDur).Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.admin:
			e.handleAdmin(req)
		case <-ticker.C:
			e.Step()
		}
	}
}

// Flush writes every dirty record now. Failures are logged by the records.
func (e *Engine) Flush() {
	for _, rec := range []interface {
		IsDirty() bool
		Flush() error
	}{e.settings, e.stats, e.registry, e.incidents} {
		if rec.IsDirty() {
			_ = rec.Flush()
		}
	}
}

func (e *Engine) onPassComplete(pass uint64) {
	metrics.OnlineActors.Set(float64(len(e.world.FindActors())))
	e.stats.Update(func(s *Stats) { s.Passes++ })
	e.sweepKickLoop()
}

// Loop-goroutine accessors for tests and embedding hosts.

func (e *Engine) Registry() *registry.Registry    { return e.registry }
func (e *Engine) Incidents() *incidents.Log       { return e.incidents }
func (e *Engine) Scanner() *scanner.Scanner       { return e.scanner }
func (e *Engine) Settings() settings.GlobalConfig { return e.settings.Value() }
func (e *Engine) StatsValue() Stats               { return e.stats.Value().clone() }

// UpdateConfig mutates the global config in place and normalizes the result.
// Loop goroutine only.
func (e *Engine) UpdateConfig(fn func(g *settings.GlobalConfig)) settings.GlobalConfig {
	g := e.settings.Value().Clone()
	fn(&g)
	g, _ = settings.Normalize(g)
	e.settings.Replace(g)
	e.incidents.SetMax(g.Tracking.LogMaxEntries)
	return e.settings.Value().Clone()
}
