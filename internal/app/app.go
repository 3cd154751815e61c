package app

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coinwatch/internal/alerting"
	"coinwatch/internal/config"
	"coinwatch/internal/feed"
	"coinwatch/internal/gate"
	"coinwatch/internal/hotwatch"
	"coinwatch/internal/httpapi"
	"coinwatch/internal/longwatch"
	"coinwatch/internal/outbox"
	"coinwatch/internal/scheduler"
	"coinwatch/internal/service"
	"coinwatch/internal/storage"
	"coinwatch/internal/window"
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

func (a *App) newFetcher() feed.Fetcher {
	return feed.NewPairsClient(feed.PairsOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newSupply() *feed.SupplyReader {
	if a.Config.Feed.RPCURL == "" {
		return nil
	}
	return feed.NewSupplyReader(feed.SupplyOptions{
		RPCURL:  a.Config.Feed.RPCURL,
		Timeout: a.Config.Feed.RequestTimeout,
	}, a.Logger)
}

// newNotifier assembles the configured transports into one fan-out notifier.
// With alerting disabled or nothing configured it returns nil.
func (a *App) newNotifier() (alerting.Notifier, error) {
	if !a.Config.Alerting.Enabled {
		return nil, nil
	}

	var notifiers []alerting.Notifier
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger))
	}
	if dc := a.Config.Alerting.Discord; dc.Enabled {
		discord, err := alerting.NewDiscordNotifier(dc.BotToken, dc.ChannelID, a.Logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, discord)
	}

	multi := alerting.NewMulti(notifiers...)
	if multi.Empty() {
		return nil, nil
	}
	return multi, nil
}

// alertChannel names the delivery route recorded on each outbox row.
func (a *App) alertChannel() string {
	var parts []string
	if a.Config.Alerting.Enabled {
		if a.Config.Alerting.Telegram.Enabled {
			parts = append(parts, "telegram")
		}
		if a.Config.Alerting.Discord.Enabled {
			parts = append(parts, "discord")
		}
	}
	if len(parts) == 0 {
		return "log"
	}
	return strings.Join(parts, "+")
}

func (a *App) newGate() *gate.Gate {
	rate := a.Config.Alerting.Rate
	return gate.New(gate.Options{
		BucketCapacity:  rate.BucketCapacity,
		RefillPerSecond: rate.PerMinute / 60,
		Cooldown:        rate.MinGap,
		DedupWindow:     rate.DedupWindow,
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

// mustOpenStore is for commands that cannot run without persistence.
func (a *App) mustOpenStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn 未配置")
	}
	return store, closeStore, nil
}

// Run executes the long-running trigger engine: warm start, both sweep
// schedulers, and (when enabled) the status API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("no alert transport configured; alerts will only be logged")
		notifier = alerting.NewLogNotifier(a.Logger)
	}

	stream := alerting.NewStream(a.Logger)
	outbx := outbox.New(store, notifier, stream, a.alertChannel(), a.Logger)

	svc := service.New(service.Deps{
		Window:   window.New(a.Config.SampleRetention(), a.Logger),
		Long:     longwatch.New(a.Logger),
		Hot:      hotwatch.New(a.Logger),
		Gate:     a.newGate(),
		Outbox:   outbx,
		Fetcher:  a.newFetcher(),
		Supply:   a.newSupply(),
		Samples:  store,
		States:   store,
		Watches:  store,
		HotStore: store,
		Locker:   store,
	}, service.Options{
		FetchTimeout:   a.Config.Feed.RequestTimeout,
		Retention:      a.Config.SampleRetention(),
		WarmupRequired: a.Config.Engine.WarmupRequired,
		LongLockKey:    a.Config.Scheduler.LongLockKey,
		HotLockKey:     a.Config.Scheduler.HotLockKey,
	}, a.Logger)

	if err := svc.WarmStart(ctx); err != nil {
		return err
	}

	longSched := scheduler.New(scheduler.Options{
		Name:          "long",
		Interval:      a.Config.Scheduler.LongWatchInterval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	hotSched := scheduler.New(scheduler.Options{
		Name:          "hot",
		Interval:      a.Config.Scheduler.HotWatchInterval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	errCh := make(chan error, 3)
	go func() { errCh <- longSched.Run(ctx, svc.RunLongWatchCycle) }()
	go func() { errCh <- hotSched.Run(ctx, svc.RunHotWatchCycle) }()

	if a.Config.API.Enabled {
		api := httpapi.New(store, a.Logger)
		go func() { errCh <- api.Run(ctx, a.Config.API.Listen) }()
	}

	a.Logger.Info().Msg("trigger engine started")
	err = <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("trigger engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting one entity's sample history.
type ExportOptions struct {
	EntityID  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the alert history listing.
type ShowOptions struct {
	Limit int
}
