// Command insider is the operator CLI for the insider-trading sentinel:
// one-shot ingest/analyze/scan runs, alert listing, and universe refresh,
// all driven from the same collaborators the server process wires up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/alertsvc"
	"github.com/aristath/form4sentinel/internal/anomaly"
	"github.com/aristath/form4sentinel/internal/composite"
	"github.com/aristath/form4sentinel/internal/config"
	"github.com/aristath/form4sentinel/internal/database"
	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/filingsource/edgar"
	"github.com/aristath/form4sentinel/internal/monitor"
	"github.com/aristath/form4sentinel/internal/store"
	"github.com/aristath/form4sentinel/internal/universe"
	"github.com/aristath/form4sentinel/pkg/logger"
)

// zerologLogger is a short alias used only to keep this file's helper
// signatures readable.
type zerologLogger = zerolog.Logger

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode, Service: "form4sentinel-cli"})

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
	anomalyEngine := anomaly.New(txStore, anomaly.Config{
		LookbackDays:      cfg.LookbackDays,
		ClusterWindowDays: cfg.ClusterWindowDays,
	}, log)
	compositeEngine := composite.New(nil, log)
	alertService := alertsvc.New(txStore, cfg.AnomalyThreshold, log)

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var cmdErr error
	switch cmd {
	case "ingest":
		cmdErr = runIngest(ctx, args, cfg, source, txStore, log)
	case "analyze":
		cmdErr = runAnalyze(ctx, args, anomalyEngine, compositeEngine, log)
	case "scan":
		cmdErr = runScan(ctx, args, cfg, source, txStore, anomalyEngine, compositeEngine, alertService, log)
	case "monitor":
		cmdErr = runMonitorForeground(ctx, cfg, source, txStore, log)
	case "alerts":
		cmdErr = runAlerts(ctx, args, alertService, log)
	case "universe-refresh":
		cmdErr = runUniverseRefresh(cfg, log)
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		log.Error().Err(cmdErr).Str("command", cmd).Msg("command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: insider <command> [flags]

commands:
  ingest --days-back N       one-shot batch ingest over the universe
  analyze --ticker T         run the anomaly engine for one ticker
  scan --days-back N         ingest + analyze + alert across the universe
  monitor                    run the dual-path monitor in the foreground
  alerts --limit N           list undelivered alerts
  universe-refresh           reload and re-save the universe CSV`)
}

func loadUniverseTickers(cfg *config.Config, log zerologLogger) ([]string, error) {
	entries, err := universe.Load(cfg.UniverseFile, log)
	if err != nil {
		return nil, err
	}
	return universe.Tickers(entries), nil
}

func runIngest(ctx context.Context, args []string, cfg *config.Config, source *edgar.Client, txStore *store.SQLiteStore, log zerologLogger) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	daysBack := fs.Int("days-back", 90, "days of history to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tickers, err := loadUniverseTickers(cfg, log)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		log.Warn().Msg("universe is empty, nothing to ingest")
		return nil
	}

	txns, err := source.BatchFetch(ctx, tickers, *daysBack)
	if err != nil {
		return fmt.Errorf("batch fetch: %w", err)
	}

	newCount, err := txStore.UpsertTransactions(ctx, txns)
	if err != nil {
		return fmt.Errorf("upsert transactions: %w", err)
	}

	log.Info().
		Int("tickers", len(tickers)).
		Int("fetched", len(txns)).
		Int("new", newCount).
		Msg("ingest complete")
	return nil
}

func runAnalyze(ctx context.Context, args []string, anomalyEngine *anomaly.Engine, compositeEngine *composite.Engine, log zerologLogger) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	ticker := fs.String("ticker", "", "ticker to analyze")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ticker == "" {
		return fmt.Errorf("--ticker is required")
	}

	signal, err := anomalyEngine.Analyze(ctx, *ticker)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", *ticker, err)
	}
	enriched := compositeEngine.Compose(ctx, *ticker, nil, &signal)

	log.Info().
		Str("ticker", enriched.Ticker).
		Float64("anomaly_score", enriched.AnomalyScore).
		Str("sentiment", string(enriched.InsiderSentiment)).
		Str("recommendation", enriched.Recommendation).
		Int("anomalies", len(enriched.Anomalies)).
		Msg("analysis complete")
	return nil
}

func runScan(
	ctx context.Context,
	args []string,
	cfg *config.Config,
	source *edgar.Client,
	txStore *store.SQLiteStore,
	anomalyEngine *anomaly.Engine,
	compositeEngine *composite.Engine,
	alertService *alertsvc.Service,
	log zerologLogger,
) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	daysBack := fs.Int("days-back", 90, "days of history to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tickers, err := loadUniverseTickers(cfg, log)
	if err != nil {
		return err
	}
	if len(tickers) == 0 {
		log.Warn().Msg("universe is empty, nothing to scan")
		return nil
	}

	txns, err := source.BatchFetch(ctx, tickers, *daysBack)
	if err != nil {
		return fmt.Errorf("batch fetch: %w", err)
	}
	newCount, err := txStore.UpsertTransactions(ctx, txns)
	if err != nil {
		return fmt.Errorf("upsert transactions: %w", err)
	}
	log.Info().Int("fetched", len(txns)).Int("new", newCount).Msg("scan ingest complete")

	var signals []domain.InsiderSignal
	for _, ticker := range tickers {
		signal, err := anomalyEngine.Analyze(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("analyze failed during scan")
			continue
		}
		enriched := compositeEngine.Compose(ctx, ticker, nil, &signal)
		signals = append(signals, enriched)
	}

	actionable, err := alertService.Evaluate(ctx, signals)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	log.Info().
		Int("scanned", len(signals)).
		Int("actionable", len(actionable)).
		Msg("scan complete")
	return nil
}

func runMonitorForeground(ctx context.Context, cfg *config.Config, source *edgar.Client, txStore *store.SQLiteStore, log zerologLogger) error {
	tickers, err := loadUniverseTickers(cfg, log)
	if err != nil {
		return err
	}

	mon := newMonitor(txStore, source, tickers, cfg, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := mon.Start(runCtx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	sig := waitForSignal()
	log.Info().Str("signal", sig.String()).Msg("stopping monitor")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return mon.Stop(stopCtx)
}

func runAlerts(ctx context.Context, args []string, alertService *alertsvc.Service, log zerologLogger) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	limit := fs.Int("limit", 50, "max alerts to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	alerts, err := alertService.GetActive(ctx, *limit)
	if err != nil {
		return fmt.Errorf("get active alerts: %w", err)
	}

	for _, a := range alerts {
		log.Info().
			Str("ticker", a.Ticker).
			Float64("anomaly_score", a.AnomalyScore).
			Str("sentiment", string(a.InsiderSentiment)).
			Time("created_at", a.CreatedAt).
			Msg("alert")
	}
	log.Info().Int("count", len(alerts)).Msg("alerts listed")
	return nil
}

func newMonitor(txStore *store.SQLiteStore, source *edgar.Client, tickers []string, cfg *config.Config, log zerologLogger) *monitor.Monitor {
	return monitor.New(txStore, source, tickers, monitor.Config{
		AtomPollIntervalMarket: cfg.AtomPollIntervalMarket,
		AtomPollIntervalOff:    cfg.AtomPollIntervalOff,
		MarketOpen:             cfg.MarketOpen,
		MarketClose:            cfg.MarketClose,
		BatchIntervalMinutes:   cfg.BatchIntervalMinutes,
		BatchOverlapHours:      cfg.BatchOverlapHours,
	}, log)
}

func waitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return <-quit
}

func runUniverseRefresh(cfg *config.Config, log zerologLogger) error {
	entries, err := universe.Load(cfg.UniverseFile, log)
	if err != nil {
		return err
	}
	n, err := universe.Save(cfg.UniverseFile, entries, log)
	if err != nil {
		return err
	}
	log.Info().Int("count", n).Msg("universe refreshed")
	return nil
}
