package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stock-dropdown-alerts/internal/alerting"
	"stock-dropdown-alerts/internal/config"
	"stock-dropdown-alerts/internal/dropdown"
	"stock-dropdown-alerts/internal/fetcher"
	"stock-dropdown-alerts/internal/sampler"
	"stock-dropdown-alerts/internal/scheduler"
	"stock-dropdown-alerts/internal/service"
	"stock-dropdown-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
// All collaborators are constructed here and passed down explicitly; nothing
// in the tree relies on package-level client state.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSampler() *sampler.Sampler {
	source := fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   a.Config.Provider.BaseURL,
		Timeout:   a.Config.Provider.RequestTimeout,
		UserAgent: a.Config.Provider.UserAgent,
	}, a.Logger)

	return sampler.New(source, sampler.Options{
		RetryBackoff: a.Config.Provider.RetryBackoff,
		RequestDelay: a.Config.Provider.RequestDelay,
		MaxRetries:   a.Config.Provider.MaxRetries,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting.Telegram
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		// Missing credentials silently disable the channel.
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
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

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	evaluator := dropdown.NewEvaluator(store, dropdown.EvaluatorOptions{
		Window:        a.Config.Dropdown.Window,
		ExcludeRecent: a.Config.Dropdown.ExcludeRecent,
	}, a.Logger)
	ledger := dropdown.NewLedger(store, a.Config.Dropdown.SeverityFloorPct, a.Logger)

	return service.New(a.Config, sched, a.newSampler(), evaluator, ledger, store, a.newNotifier(), a.Logger)
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watch cycle needs its store")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().Int("tickers", len(a.Config.Tracking.Symbols)).Msg("starting watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

// Once runs a single cycle to completion and exits.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watch cycle needs its store")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, nil)
	return svc.ProcessTick(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting one ticker's observations.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
