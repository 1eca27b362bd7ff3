package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"aurumpulse/internal/config"
	"aurumpulse/internal/fetcher"
	"aurumpulse/internal/messaging"
	"aurumpulse/internal/scheduler"
	"aurumpulse/internal/server"
	"aurumpulse/internal/service"
	"aurumpulse/internal/storage"
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

func (a *App) newFetcher() fetcher.PriceFetcher {
	if a.Config.GoldAPI.Source == "chainlink" {
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:      a.Config.Ethereum.RPCURL,
			FeedAddress: a.Config.Ethereum.FeedAddress,
			Timeout:     a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
	}

	return fetcher.NewGoldAPI(fetcher.GoldAPIOptions{
		BaseURL:   a.Config.GoldAPI.BaseURL,
		APIKey:    a.Config.GoldAPI.APIKey,
		Metal:     a.Config.GoldAPI.Metal,
		Currency:  a.Config.GoldAPI.Currency,
		Timeout:   a.Config.GoldAPI.RequestTimeout,
		UserAgent: a.Config.GoldAPI.UserAgent,
	}, a.Logger)
}

func (a *App) newMessenger() messaging.Messenger {
	return messaging.NewWhatsApp(messaging.WhatsAppOptions{
		AccountSID: a.Config.Twilio.AccountSID,
		AuthToken:  a.Config.Twilio.AuthToken,
		From:       a.Config.Twilio.WhatsAppFrom,
		PollDelay:  a.Config.Twilio.StatusPollDelay,
	}, a.Logger)
}

// openStore connects to the database. A connection failure is fatal to the
// caller; this system has no degraded no-persistence mode.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
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

func (a *App) newService(store *storage.Store) *service.Service {
	return service.New(a.Config, a.newFetcher(), store, store, a.newMessenger(), a.Logger)
}

// Run starts the scheduler and the HTTP surface and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("database connection failed")
		return err
	}
	defer closeStore()

	svc := a.newService(store)

	sched, err := scheduler.New(scheduler.Options{
		CheckCron:  a.Config.Scheduler.CheckCron,
		DigestTime: a.Config.Scheduler.DigestTime,
		Timezone:   a.Config.Scheduler.Timezone,
	}, a.Logger)
	if err != nil {
		return err
	}

	checkJob := func(ctx context.Context) error {
		_, err := svc.CheckPrice(ctx)
		return err
	}
	if err := sched.Start(ctx, checkJob, svc.SendDailyDigest); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(a.Config.Server, svc, store, store, a.Logger)
	httpServer := &http.Server{
		Addr:    a.Config.Server.Addr,
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		a.Logger.Error().Err(err).Msg("http server terminated with error")
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting historical readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
