// quaked is the earthquake alert service: it polls the KOERI bulletin,
// stores new events, fans them out to notification channels and WhatsApp
// subscription polls, and serves the REST query API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/quakewatch/quake-alert-service/internal/api"
	"github.com/quakewatch/quake-alert-service/internal/config"
	"github.com/quakewatch/quake-alert-service/internal/dispatch"
	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/feed"
	"github.com/quakewatch/quake-alert-service/internal/notify"
	"github.com/quakewatch/quake-alert-service/internal/observability"
	"github.com/quakewatch/quake-alert-service/internal/scheduler"
	"github.com/quakewatch/quake-alert-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	fetcher := feed.NewClient(cfg.FeedURL, cfg.FeedTimeout, logger)
	factory := notify.NewFactory(logger, cfg.WADefaultRecipient)

	var templates dispatch.TemplateSender
	if cfg.WANumberID != "" && cfg.WAAPIToken != "" {
		templates = notify.NewTemplateClient(
			cfg.WANumberID, cfg.WAAPIToken, cfg.WATemplateName, cfg.WATemplateLanguage, logger)
		logger.Info("whatsapp template sending enabled", "template", cfg.WATemplateName)
	} else {
		logger.Info("whatsapp template sending disabled")
	}

	clock := clockwork.NewRealClock()

	dispatcher := dispatch.New(st,
		func(ch domain.Channel) (dispatch.Sender, error) { return factory.ForChannel(ch) },
		templates, clock, cfg.DispatchPacing, logger, metrics)

	sched := scheduler.New(fetcher, st, dispatcher, clock, cfg.PollInterval, cfg.DebugDir, logger, metrics)

	srv := api.NewServer(cfg.HTTPAddr, st, sched, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
