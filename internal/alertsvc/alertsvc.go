// Package alertsvc filters composite-enriched signals against a threshold
// and persists the actionable subset as alerts.
package alertsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/store"
)

// Service evaluates signals against a configured threshold and persists
// actionable alerts.
type Service struct {
	store     store.TransactionStore
	threshold float64
	log       zerolog.Logger

	Now func() time.Time
}

// New builds a Service with the given alert threshold (default 0.6 is
// applied by internal/config, not here).
func New(s store.TransactionStore, threshold float64, log zerolog.Logger) *Service {
	return &Service{
		store:     s,
		threshold: threshold,
		log:       log.With().Str("component", "alert_service").Logger(),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate keeps signals with AnomalyScore >= threshold, persists each as
// an alert, and returns the kept subset. Persistence failures surface to
// the caller; the service holds no state of its own.
func (s *Service) Evaluate(ctx context.Context, signals []domain.InsiderSignal) ([]domain.InsiderSignal, error) {
	var actionable []domain.InsiderSignal
	for _, sig := range signals {
		if sig.AnomalyScore < s.threshold {
			continue
		}

		alert := domain.Alert{
			Ticker:              sig.Ticker,
			AnomalyScore:        sig.AnomalyScore,
			InsiderSentiment:    sig.InsiderSentiment,
			Recommendation:      sig.Recommendation,
			CompositeAlphaScore: sig.CompositeAlphaScore,
			CreatedAt:           s.Now(),
		}
		if _, err := s.store.SaveAlert(ctx, alert); err != nil {
			return actionable, fmt.Errorf("save alert for %s: %w", sig.Ticker, err)
		}
		actionable = append(actionable, sig)
	}

	s.log.Info().
		Int("total", len(signals)).
		Int("actionable", len(actionable)).
		Float64("threshold", s.threshold).
		Msg("alert evaluation complete")
	return actionable, nil
}

// GetActive returns up to limit undelivered alerts, newest first.
func (s *Service) GetActive(ctx context.Context, limit int) ([]domain.Alert, error) {
	delivered := false
	return s.store.GetAlerts(ctx, &delivered, limit)
}
