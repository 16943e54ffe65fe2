package composite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/form4sentinel/internal/domain"
)

func TestCompose_NilInsiderProducesWellFormedNeutralSignal(t *testing.T) {
	e := New(nil, zerolog.Nop())
	signal := e.Compose(context.Background(), "AAPL", nil, nil)

	require.NotNil(t, signal.CompositeAlphaScore)
	assert.Equal(t, 0.0, *signal.CompositeAlphaScore)
	assert.Equal(t, domain.SentimentNeutral, signal.InsiderSentiment)
	assert.Contains(t, signal.Recommendation, "AAPL")
}

func TestCompose_ConvergenceBoostWhenBothSignalsStrong(t *testing.T) {
	e := New(nil, zerolog.Nop())
	insider := &domain.InsiderSignal{
		Ticker: "AAPL", AnomalyScore: 0.8, InsiderSentiment: domain.SentimentBearish,
		Anomalies: []domain.InsiderAnomaly{{AnomalyType: domain.AnomalyVolume, SeverityScore: 0.8}},
	}
	filing := &FilingSentiment{Score: 0.8, Confidence: 0.9}

	signal := e.Compose(context.Background(), "AAPL", filing, insider)

	require.NotNil(t, signal.CompositeAlphaScore)
	composite := *signal.CompositeAlphaScore
	assert.GreaterOrEqual(t, composite, 0.5*(filing.Score+insider.AnomalyScore))
	assert.GreaterOrEqual(t, composite, 0.96)
	assert.LessOrEqual(t, composite, 1.0)
	lower := strings.ToLower(signal.Recommendation)
	assert.True(t, strings.Contains(lower, "sell") || strings.Contains(lower, "caution"))
}

func TestCompose_FallbackUsedWhenNarratorFails(t *testing.T) {
	e := New(NoOpNarrator{}, zerolog.Nop())
	signal := e.Compose(context.Background(), "AAPL", nil, &domain.InsiderSignal{
		Ticker: "AAPL", AnomalyScore: 0.1, InsiderSentiment: domain.SentimentNeutral,
	})
	assert.Contains(t, signal.Recommendation, "No immediate action")
}

type stubNarrator struct {
	text string
	err  error
}

func (s stubNarrator) Narrate(ctx context.Context, ticker string, filing *FilingSentiment, signal domain.InsiderSignal, composite float64) (string, error) {
	return s.text, s.err
}

func TestCompose_UsesNarratorWhenAvailable(t *testing.T) {
	e := New(stubNarrator{text: "custom narration"}, zerolog.Nop())
	signal := e.Compose(context.Background(), "AAPL", nil, &domain.InsiderSignal{Ticker: "AAPL"})
	assert.Equal(t, "custom narration", signal.Recommendation)
}

func TestBlendScores_RoundTrip(t *testing.T) {
	assert.Equal(t, 0.0, blendScores(0, 0))
	assert.InDelta(t, 0.5, blendScores(1, 0), 1e-9)
	assert.InDelta(t, 0.5, blendScores(0, 1), 1e-9)
}

func TestNewNeutralSignal_AnalysisDateTruncated(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	sig := domain.NewNeutralSignal("MSFT", now.Truncate(24*time.Hour))
	assert.Equal(t, 0, sig.AnalysisDate.Hour())
}
