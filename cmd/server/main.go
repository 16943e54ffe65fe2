// Command server runs the insider-trading sentinel's HTTP API alongside
// its background ingestion monitor.
//
// Startup order: load config, open the store, construct collaborators,
// start the monitor and server, wait for a signal, shut down gracefully.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/form4sentinel/internal/alertsvc"
	"github.com/aristath/form4sentinel/internal/anomaly"
	"github.com/aristath/form4sentinel/internal/composite"
	"github.com/aristath/form4sentinel/internal/config"
	"github.com/aristath/form4sentinel/internal/database"
	"github.com/aristath/form4sentinel/internal/filingsource/edgar"
	"github.com/aristath/form4sentinel/internal/monitor"
	"github.com/aristath/form4sentinel/internal/server"
	"github.com/aristath/form4sentinel/internal/store"
	"github.com/aristath/form4sentinel/internal/universe"
	"github.com/aristath/form4sentinel/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true, Service: "form4sentinel-server"})
	log.Info().Msg("starting form4sentinel")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode, Service: "form4sentinel-server"})

	db, err := database.New(database.Config{
		Path:    cfg.DBPath(),
		Profile: database.ProfileStandard,
		Name:    "insider",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(database.InsiderSchema()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	txStore := store.New(db.Conn(), log)
	source := edgar.New(cfg.SECUserAgent, cfg.IngestRateLimit, log)

	entries, err := universe.Load(cfg.UniverseFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load universe")
	}
	tickers := universe.Tickers(entries)

	anomalyEngine := anomaly.New(txStore, anomaly.Config{
		LookbackDays:      cfg.LookbackDays,
		ClusterWindowDays: cfg.ClusterWindowDays,
	}, log)
	compositeEngine := composite.New(nil, log)
	alertService := alertsvc.New(txStore, cfg.AnomalyThreshold, log)

	mon := monitor.New(txStore, source, tickers, monitor.Config{
		AtomPollIntervalMarket: cfg.AtomPollIntervalMarket,
		AtomPollIntervalOff:    cfg.AtomPollIntervalOff,
		MarketOpen:             cfg.MarketOpen,
		MarketClose:            cfg.MarketClose,
		BatchIntervalMinutes:   cfg.BatchIntervalMinutes,
		BatchOverlapHours:      cfg.BatchOverlapHours,
	}, log)

	if err := mon.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start monitor")
	}

	srv := server.New(server.Config{
		Port:            cfg.Port,
		Log:             log,
		Store:           txStore,
		Source:          source,
		Anomaly:         anomalyEngine,
		Composite:       compositeEngine,
		Alerts:          alertService,
		DefaultDaysBack: 90,
		DevMode:         cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := mon.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("monitor did not stop cleanly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}
