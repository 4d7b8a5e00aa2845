package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nockwatch/internal/chain"
	"nockwatch/internal/config"
	"nockwatch/internal/metrics"
	"nockwatch/internal/notify"
	"nockwatch/internal/scheduler"
	"nockwatch/internal/service"
	"nockwatch/internal/storage"
	"nockwatch/internal/subscribers"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSource builds the chain read path: the RPC client behind a block
// LRU shared by the locator and the collectors.
func (a *App) newSource() chain.BlockSource {
	client := chain.NewClient(chain.Options{
		RPCURL:    a.Config.Chain.RPCURL,
		APIKey:    a.Config.Chain.APIKey,
		Timeout:   a.Config.Chain.RequestTimeout,
		UserAgent: a.Config.Chain.UserAgent,
	}, a.Logger)

	cached, err := chain.NewCachedSource(client, a.Config.Chain.CacheSize, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("block cache unavailable, running uncached")
		return client
	}
	return cached
}

func (a *App) newLocator(source chain.BlockSource) *chain.Locator {
	search := a.Config.Chain.Search
	return chain.NewLocator(source, chain.SearchBracket{
		Low:  search.Low,
		High: search.High,
		Step: search.Step,
	}, a.Logger)
}

func (a *App) newCollector(source chain.BlockSource) *metrics.Collector {
	return metrics.NewCollector(source, a.newLocator(source), a.Config.Metrics.Lookback, a.Logger)
}

func (a *App) newNotifier() (notify.Notifier, error) {
	tg := a.Config.Alerting.Telegram
	if !tg.Enabled {
		return nil, nil
	}
	n, err := notify.NewTelegramNotifier(tg.BotToken, tg.APIEndpoint, a.Logger)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (a *App) newRegistry() (*subscribers.Registry, error) {
	return subscribers.NewRegistry(subscribers.Options{
		Path: a.Config.Subscribers.Path,
		Defaults: subscribers.Thresholds{
			Floor:   a.Config.Alerting.Floor,
			Ceiling: a.Config.Alerting.Ceiling,
		},
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; snapshot history disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	registry, err := a.newRegistry()
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("telegram not configured; alert delivery disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToClock: a.Config.Scheduler.AlignToClock,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	source := a.newSource()

	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	svc := service.New(a.Config, sched, source, a.newLocator(source), registry, notifier, sampleStore, alertStore, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// BackfillOptions bound the backfill window.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
