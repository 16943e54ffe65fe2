package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/filingsource"
)

type fakeMonitorStore struct {
	mu         sync.Mutex
	watermarks map[string]string
	upserted   []domain.InsiderTransaction
}

func newFakeMonitorStore() *fakeMonitorStore {
	return &fakeMonitorStore{watermarks: map[string]string{}}
}

func (f *fakeMonitorStore) UpsertTransaction(ctx context.Context, tx domain.InsiderTransaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, tx)
	return true, nil
}
func (f *fakeMonitorStore) UpsertTransactions(ctx context.Context, txs []domain.InsiderTransaction) (int, error) {
	for _, tx := range txs {
		_, _ = f.UpsertTransaction(ctx, tx)
	}
	return len(txs), nil
}
func (f *fakeMonitorStore) GetTransactions(ctx context.Context, ticker string, daysBack int, insiderName string) ([]domain.InsiderTransaction, error) {
	return nil, nil
}
func (f *fakeMonitorStore) GetRecentSellers(ctx context.Context, ticker string, windowDays int) ([]string, error) {
	return nil, nil
}
func (f *fakeMonitorStore) GetProfile(ctx context.Context, ticker, insiderName string) (*domain.InsiderProfile, error) {
	return nil, nil
}
func (f *fakeMonitorStore) SaveAnomaly(ctx context.Context, a domain.InsiderAnomaly) (int64, error) {
	return 0, nil
}
func (f *fakeMonitorStore) GetAnomalies(ctx context.Context, ticker string, minScore float64, limit int) ([]domain.InsiderAnomaly, error) {
	return nil, nil
}
func (f *fakeMonitorStore) SaveAlert(ctx context.Context, a domain.Alert) (int64, error) { return 0, nil }
func (f *fakeMonitorStore) GetAlerts(ctx context.Context, delivered *bool, limit int) ([]domain.Alert, error) {
	return nil, nil
}
func (f *fakeMonitorStore) GetWatermark(ctx context.Context, feed string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.watermarks[feed]
	return v, ok, nil
}
func (f *fakeMonitorStore) SetWatermark(ctx context.Context, feed, accession string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks[feed] = accession
	return nil
}

// fakeSource is the ticker-scoped double used by most tests. feed holds
// the ticker-agnostic page returned by FetchRecentFilings; resolve maps
// accession number to issuer ticker and is only consulted through the
// fakeSourceResolver wrapper. A bare *fakeSource does NOT satisfy
// AccessionResolver, for exercising Path A's no-resolver degradation.
type fakeSource struct {
	filings map[string][]filingsource.RawFiling
	feed    []filingsource.RawFiling
	resolve map[string]string
}

func (f *fakeSource) FetchLatest(ctx context.Context, ticker string, limit int) ([]filingsource.RawFiling, error) {
	return f.filings[ticker], nil
}
func (f *fakeSource) FetchRecentFilings(ctx context.Context, day time.Time) ([]filingsource.RawFiling, error) {
	return f.feed, nil
}
func (f *fakeSource) Parse(ctx context.Context, raw filingsource.RawFiling, ticker string) ([]domain.InsiderTransaction, error) {
	return []domain.InsiderTransaction{{Ticker: ticker, InsiderName: "Jane Doe", TransactionCode: domain.CodeSale, Shares: 10}}, nil
}
func (f *fakeSource) BatchFetch(ctx context.Context, tickers []string, daysBack int) ([]domain.InsiderTransaction, error) {
	return nil, nil
}

// ResolveAccession is only reachable through the AccessionResolver type
// assertion; fakeSourceResolver below wraps fakeSource to opt into it so
// plain fakeSource literals (no resolve map) can still exercise the
// no-resolver degradation path.
type fakeSourceResolver struct {
	*fakeSource
}

func (f fakeSourceResolver) ResolveAccession(ctx context.Context, cik, accession string) (string, error) {
	if ticker, ok := f.resolve[accession]; ok {
		return ticker, nil
	}
	return "", fmt.Errorf("no resolution for accession %s", accession)
}

func TestStartStop_IsIdempotentAndTransitionsState(t *testing.T) {
	m := New(newFakeMonitorStore(), &fakeSource{}, []string{"AAPL"}, Config{
		AtomPollIntervalMarket: time.Hour,
		AtomPollIntervalOff:    time.Hour,
		MarketOpen:             "09:30",
		MarketClose:            "16:00",
		BatchIntervalMinutes:   60,
		BatchOverlapHours:      2,
	}, zerolog.Nop())

	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateRunning, m.State())
	require.NoError(t, m.Start(context.Background())) // idempotent

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, StateStopped, m.State())
	require.NoError(t, m.Stop(ctx)) // idempotent
}

func TestPollAtomFeed_AdvancesWatermarkAndIngests(t *testing.T) {
	store := newFakeMonitorStore()
	base := &fakeSource{
		feed: []filingsource.RawFiling{
			{AccessionNumber: "0000000000-26-000002", CIK: "0000320193"},
			{AccessionNumber: "0000000000-26-000001", CIK: "0000789019"},
		},
		resolve: map[string]string{
			"0000000000-26-000002": "AAPL",
			"0000000000-26-000001": "MSFT",
		},
	}
	source := fakeSourceResolver{base}

	m := New(store, source, []string{"AAPL", "MSFT"}, Config{}, zerolog.Nop())

	err := m.pollAtomFeed(context.Background())
	require.NoError(t, err)

	watermark, ok, err := store.GetWatermark(context.Background(), domain.WatermarkFeed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0000000000-26-000002", watermark, "watermark advances to the newest accession in the feed page")
	assert.Len(t, store.upserted, 2, "both accessions resolve to tracked tickers")
}

func TestPollAtomFeed_StopsAtKnownWatermark(t *testing.T) {
	store := newFakeMonitorStore()
	require.NoError(t, store.SetWatermark(context.Background(), domain.WatermarkFeed, "0000000000-26-000001"))

	base := &fakeSource{
		feed: []filingsource.RawFiling{
			{AccessionNumber: "0000000000-26-000002", CIK: "0000320193"},
			{AccessionNumber: "0000000000-26-000001", CIK: "0000789019"},
		},
		resolve: map[string]string{
			"0000000000-26-000002": "AAPL",
			"0000000000-26-000001": "MSFT",
		},
	}
	source := fakeSourceResolver{base}
	m := New(store, source, []string{"AAPL", "MSFT"}, Config{}, zerolog.Nop())

	err := m.pollAtomFeed(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.upserted, 1, "only the filing newer than the watermark should be ingested")
}

func TestPollAtomFeed_SkipsAccessionsOutsideUniverse(t *testing.T) {
	store := newFakeMonitorStore()
	base := &fakeSource{
		feed: []filingsource.RawFiling{
			{AccessionNumber: "0000000000-26-000001", CIK: "0000320193"},
		},
		resolve: map[string]string{
			"0000000000-26-000001": "TSLA",
		},
	}
	source := fakeSourceResolver{base}
	m := New(store, source, []string{"AAPL"}, Config{}, zerolog.Nop())

	err := m.pollAtomFeed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.upserted, "resolved ticker outside the tracked universe is not ingested")

	watermark, ok, err := store.GetWatermark(context.Background(), domain.WatermarkFeed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0000000000-26-000001", watermark, "watermark still advances so the page is never reprocessed")
}

func TestPollAtomFeed_DegradesToWatermarkOnlyWithoutResolver(t *testing.T) {
	store := newFakeMonitorStore()
	source := &fakeSource{
		feed: []filingsource.RawFiling{
			{AccessionNumber: "0000000000-26-000001", CIK: "0000320193"},
		},
	}

	m := New(store, source, []string{"AAPL"}, Config{}, zerolog.Nop())

	err := m.pollAtomFeed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.upserted, "no AccessionResolver means Path A never ingests, only advances the watermark")

	watermark, ok, err := store.GetWatermark(context.Background(), domain.WatermarkFeed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0000000000-26-000001", watermark)
}

func TestCurrentPollInterval_SelectsMarketVsOffHours(t *testing.T) {
	m := New(newFakeMonitorStore(), &fakeSource{}, nil, Config{
		AtomPollIntervalMarket: time.Minute,
		AtomPollIntervalOff:    time.Hour,
		MarketOpen:             "09:30",
		MarketClose:            "16:00",
	}, zerolog.Nop())

	m.Now = func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, time.Minute, m.currentPollInterval())

	m.Now = func() time.Time { return time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC) }
	assert.Equal(t, time.Hour, m.currentPollInterval())
}
