package alertsvc

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/form4sentinel/internal/domain"
)

type fakeAlertStore struct {
	saved []domain.Alert
	err   error
}

func (f *fakeAlertStore) UpsertTransaction(ctx context.Context, tx domain.InsiderTransaction) (bool, error) {
	return false, nil
}
func (f *fakeAlertStore) UpsertTransactions(ctx context.Context, txs []domain.InsiderTransaction) (int, error) {
	return 0, nil
}
func (f *fakeAlertStore) GetTransactions(ctx context.Context, ticker string, daysBack int, insiderName string) ([]domain.InsiderTransaction, error) {
	return nil, nil
}
func (f *fakeAlertStore) GetRecentSellers(ctx context.Context, ticker string, windowDays int) ([]string, error) {
	return nil, nil
}
func (f *fakeAlertStore) GetProfile(ctx context.Context, ticker, insiderName string) (*domain.InsiderProfile, error) {
	return nil, nil
}
func (f *fakeAlertStore) SaveAnomaly(ctx context.Context, a domain.InsiderAnomaly) (int64, error) {
	return 0, nil
}
func (f *fakeAlertStore) GetAnomalies(ctx context.Context, ticker string, minScore float64, limit int) ([]domain.InsiderAnomaly, error) {
	return nil, nil
}
func (f *fakeAlertStore) SaveAlert(ctx context.Context, a domain.Alert) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, a)
	return int64(len(f.saved)), nil
}
func (f *fakeAlertStore) GetAlerts(ctx context.Context, delivered *bool, limit int) ([]domain.Alert, error) {
	return f.saved, nil
}
func (f *fakeAlertStore) GetWatermark(ctx context.Context, feed string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeAlertStore) SetWatermark(ctx context.Context, feed, accession string) error { return nil }

func TestEvaluate_KeepsOnlySignalsAtOrAboveThreshold(t *testing.T) {
	store := &fakeAlertStore{}
	svc := New(store, 0.6, zerolog.Nop())

	signals := []domain.InsiderSignal{
		{Ticker: "AAPL", AnomalyScore: 0.8},
		{Ticker: "MSFT", AnomalyScore: 0.3},
		{Ticker: "GOOG", AnomalyScore: 0.6},
	}

	actionable, err := svc.Evaluate(context.Background(), signals)
	require.NoError(t, err)
	require.Len(t, actionable, 2)
	assert.Equal(t, "AAPL", actionable[0].Ticker)
	assert.Equal(t, "GOOG", actionable[1].Ticker)
	assert.Len(t, store.saved, 2)
}

func TestGetActive_DelegatesWithUndeliveredFilter(t *testing.T) {
	store := &fakeAlertStore{saved: []domain.Alert{{Ticker: "AAPL"}}}
	svc := New(store, 0.6, zerolog.Nop())

	alerts, err := svc.GetActive(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "AAPL", alerts[0].Ticker)
}
