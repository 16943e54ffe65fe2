// Package monitor implements the dual-path Form 4 ingestion monitor:
// an ATOM-feed poller (Path A) for near-real-time detection and a
// periodic batch sweep (Path B) as a safety net. Either path alone
// eventually delivers every filing in the universe.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/filingsource"
	"github.com/aristath/form4sentinel/internal/store"
)

// State is the monitor's lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// Config holds the monitor's tunables, all sourced from internal/config.
type Config struct {
	AtomPollIntervalMarket time.Duration
	AtomPollIntervalOff    time.Duration
	MarketOpen             string // "15:04"
	MarketClose            string // "15:04"
	BatchIntervalMinutes   int
	BatchOverlapHours      int
}

// PostInsertHook is invoked with the newly inserted subset after a
// successful batch sweep.
type PostInsertHook func(ctx context.Context, inserted []domain.InsiderTransaction)

// AccessionResolver is implemented by filing sources that can resolve an
// ATOM feed accession id to the ticker it concerns, without waiting for
// the next batch sweep. Optional: Path A degrades to a liveness-only hint
// when the configured Source doesn't implement it.
type AccessionResolver interface {
	ResolveAccession(ctx context.Context, cik, accession string) (string, error)
}

// Monitor runs the two supervised ingestion loops: a goroutine for Path A
// (market-hours-dependent poll interval, not expressible as a fixed cron
// schedule) and a cron.Cron for Path B's fixed-interval batch sweep.
type Monitor struct {
	store       store.TransactionStore
	source      filingsource.Source
	universe    []string
	universeSet map[string]struct{}
	cfg         Config
	log         zerolog.Logger

	hook PostInsertHook

	warnedNoResolver bool

	// Now returns "today"/"now" for market-hours and window math;
	// overridable for deterministic tests.
	Now func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// Option configures optional Monitor behavior.
type Option func(*Monitor)

// WithPostInsertHook registers a callback invoked with newly inserted
// transactions after each batch sweep.
func WithPostInsertHook(hook PostInsertHook) Option {
	return func(m *Monitor) { m.hook = hook }
}

// New constructs a Monitor over store s, filing source src, and a ticker
// universe. cfg supplies interval/window tunables; log is the base logger.
func New(s store.TransactionStore, src filingsource.Source, universe []string, cfg Config, log zerolog.Logger, opts ...Option) *Monitor {
	universeSet := make(map[string]struct{}, len(universe))
	for _, t := range universe {
		universeSet[t] = struct{}{}
	}
	m := &Monitor{
		store:       s,
		source:      src,
		universe:    universe,
		universeSet: universeSet,
		cfg:         cfg,
		log:         log.With().Str("component", "monitor").Logger(),
		state:       StateIdle,
		Now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches both loops. Idempotent while already Running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateRunning {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.cron = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %dm", m.cfg.BatchIntervalMinutes)
	if _, err := m.cron.AddFunc(spec, func() {
		if err := m.runBatchSweep(runCtx); err != nil {
			m.log.Error().Err(err).Msg("batch sweep error")
		}
	}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("schedule batch sweep: %w", err)
	}
	m.cron.Start()

	m.state = StateRunning
	m.mu.Unlock()

	m.wg.Add(1)
	go m.atomLoop(runCtx)

	m.log.Info().
		Int("universe_size", len(m.universe)).
		Dur("atom_interval_market", m.cfg.AtomPollIntervalMarket).
		Int("batch_interval_minutes", m.cfg.BatchIntervalMinutes).
		Msg("filing monitor started")
	return nil
}

// Stop cancels both loops and blocks until they return, or ctx expires.
// Idempotent: calling Stop on an already-stopped monitor is a no-op.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	cancel := m.cancel
	c := m.cron
	m.mu.Unlock()

	cancel()
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return fmt.Errorf("monitor stop timed out: %w", ctx.Err())
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.log.Info().Msg("filing monitor stopped")
	return nil
}

// ------------------------------------------------------------------
// Path A: ATOM feed poller
// ------------------------------------------------------------------

func (m *Monitor) atomLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		if err := m.pollAtomFeed(ctx); err != nil {
			m.log.Error().Err(err).Msg("ATOM poll error")
		}

		interval := m.currentPollInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (m *Monitor) currentPollInterval() time.Duration {
	open, errOpen := time.Parse("15:04", m.cfg.MarketOpen)
	close, errClose := time.Parse("15:04", m.cfg.MarketClose)
	if errOpen != nil || errClose != nil {
		return m.cfg.AtomPollIntervalMarket
	}

	now := m.Now()
	nowClock := time.Date(0, 1, 1, now.Hour(), now.Minute(), 0, 0, time.UTC)
	openClock := time.Date(0, 1, 1, open.Hour(), open.Minute(), 0, 0, time.UTC)
	closeClock := time.Date(0, 1, 1, close.Hour(), close.Minute(), 0, 0, time.UTC)

	if !nowClock.Before(openClock) && !nowClock.After(closeClock) {
		return m.cfg.AtomPollIntervalMarket
	}
	return m.cfg.AtomPollIntervalOff
}

// pollAtomFeed polls the system-wide, ticker-agnostic Form 4 feed for
// today, compares against the persisted watermark, resolves each new
// accession's issuer ticker, and ingests anything that falls inside the
// configured universe. The watermark always advances to the newest
// accession seen, even when none of today's filings resolve to a
// tracked ticker, so the poller never reprocesses the same page.
//
// When the configured Source doesn't implement AccessionResolver, this
// degrades to a liveness hint: it still advances the watermark so the
// state machine reflects a live feed, but ingestion is left entirely to
// the batch sweep (Path B), which doesn't need per-accession resolution
// because it already iterates the universe by ticker.
func (m *Monitor) pollAtomFeed(ctx context.Context) error {
	watermark, _, err := m.store.GetWatermark(ctx, domain.WatermarkFeed)
	if err != nil {
		return fmt.Errorf("get watermark: %w", err)
	}

	filings, err := m.source.FetchRecentFilings(ctx, m.Now())
	if err != nil {
		return fmt.Errorf("fetch recent filings: %w", err)
	}

	var newest string
	resolver, canResolve := m.source.(AccessionResolver)
	if !canResolve && !m.warnedNoResolver {
		m.warnedNoResolver = true
		m.log.Warn().Msg("filing source has no AccessionResolver; ATOM path will only advance the watermark, batch sweep remains the sole ingestion path")
	}

	for _, f := range filings {
		if f.AccessionNumber == "" || f.AccessionNumber == watermark {
			break
		}
		if newest == "" {
			newest = f.AccessionNumber
		}
		if !canResolve {
			continue
		}

		ticker, err := resolver.ResolveAccession(ctx, f.CIK, f.AccessionNumber)
		if err != nil {
			m.log.Warn().Err(err).Str("accession", f.AccessionNumber).Msg("accession resolution failed, skipping filing (batch sweep will catch it)")
			continue
		}
		if _, tracked := m.universeSet[ticker]; !tracked {
			continue
		}

		f.Ticker = ticker
		txs, err := m.source.Parse(ctx, f, ticker)
		if err != nil {
			m.log.Warn().Err(err).Str("accession", f.AccessionNumber).Msg("parse failed for resolved accession")
			continue
		}
		if _, err := m.store.UpsertTransactions(ctx, txs); err != nil {
			return fmt.Errorf("upsert from ATOM path: %w", err)
		}
	}

	if newest == "" {
		return nil
	}
	return m.store.SetWatermark(ctx, domain.WatermarkFeed, newest)
}

// ------------------------------------------------------------------
// Path B: batch sweep, scheduled by m.cron in Start.
// ------------------------------------------------------------------

func (m *Monitor) runBatchSweep(ctx context.Context) error {
	sweepID := uuid.New().String()
	overlapDays := m.cfg.BatchOverlapHours/24 + 1
	if overlapDays < 1 {
		overlapDays = 1
	}

	m.log.Info().Str("sweep_id", sweepID).Int("tickers", len(m.universe)).Int("overlap_days", overlapDays).Msg("starting batch sweep")

	txs, err := m.source.BatchFetch(ctx, m.universe, overlapDays)
	if err != nil {
		return fmt.Errorf("batch fetch: %w", err)
	}

	inserted := 0
	var newlyInserted []domain.InsiderTransaction
	for _, tx := range txs {
		created, err := m.store.UpsertTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("upsert during batch sweep: %w", err)
		}
		if created {
			inserted++
			newlyInserted = append(newlyInserted, tx)
		}
	}

	m.log.Info().Str("sweep_id", sweepID).Int("new_transactions", inserted).Int("total_fetched", len(txs)).Msg("batch sweep complete")

	if inserted > 0 && m.hook != nil {
		m.hook(ctx, newlyInserted)
	}
	return nil
}
