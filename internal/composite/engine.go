// Package composite fuses the insider-trading anomaly signal with an
// optional external filing-sentiment score into a single composite alpha
// score and a natural-language recommendation.
//
// The Narrator collaborator keeps any heavy LLM/retrieval dependency out
// of this package entirely; a nil Narrator falls back to a template.
package composite

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/domain"
)

// FilingSentiment is the optional external signal produced by the
// unrelated 10-K/10-Q retrieval pipeline; this package only consumes its
// three fields.
type FilingSentiment struct {
	Score      float64
	Confidence float64
	Summary    string
}

// Narrator generates the plain-text recommendation. Implementations may
// call out to an LLM; NoOpNarrator always fails so the deterministic
// fallback path is exercised wherever no narrator is wired up.
type Narrator interface {
	Narrate(ctx context.Context, ticker string, filing *FilingSentiment, signal domain.InsiderSignal, composite float64) (string, error)
}

// NoOpNarrator always returns an error, forcing callers onto the
// deterministic fallback template.
type NoOpNarrator struct{}

// Narrate implements Narrator.
func (NoOpNarrator) Narrate(context.Context, string, *FilingSentiment, domain.InsiderSignal, float64) (string, error) {
	return "", fmt.Errorf("no narrator configured")
}

// Engine blends insider and filing signals into an enriched InsiderSignal.
type Engine struct {
	narrator Narrator
	log      zerolog.Logger

	// Now supplies "today" when a fresh zero-score signal must be
	// constructed for a ticker with no insider signal.
	Now func() time.Time
}

// New builds an Engine. A nil narrator is replaced with NoOpNarrator so
// the fallback path is always exercised.
func New(narrator Narrator, log zerolog.Logger) *Engine {
	if narrator == nil {
		narrator = NoOpNarrator{}
	}
	return &Engine{
		narrator: narrator,
		log:      log.With().Str("component", "composite_engine").Logger(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Compose blends filing and insider signals for ticker, returning an
// enriched InsiderSignal with CompositeAlphaScore and Recommendation
// populated. When insider is nil, a fresh zero-score signal is
// constructed so the return type is always well-formed.
func (e *Engine) Compose(ctx context.Context, ticker string, filing *FilingSentiment, insider *domain.InsiderSignal) domain.InsiderSignal {
	base := domain.NewNeutralSignal(ticker, e.Now().Truncate(24*time.Hour))
	if insider != nil {
		base = *insider
	}

	filingScore := 0.0
	if filing != nil {
		filingScore = filing.Score
	}

	composite := blendScores(filingScore, base.AnomalyScore)
	base.CompositeAlphaScore = &composite

	recommendation, err := e.narrator.Narrate(ctx, ticker, filing, base, composite)
	if err != nil {
		e.log.Debug().Err(err).Str("ticker", ticker).Msg("narrator unavailable, using fallback recommendation")
		recommendation = fallbackRecommendation(ticker, base, composite)
	}
	base.Recommendation = recommendation

	return base
}

// blendScores implements the weighted blend with a convergence boost when
// both signals independently agree and are strong.
func blendScores(filingScore, insiderScore float64) float64 {
	blended := 0.5*filingScore + 0.5*insiderScore
	if filingScore > 0.5 && insiderScore > 0.5 {
		blended = math.Min(1.0, blended*1.2)
	}
	return roundTo(blended, 4)
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

func fallbackRecommendation(ticker string, signal domain.InsiderSignal, composite float64) string {
	var action string
	switch {
	case composite > 0.7:
		action = "Strong sell signal"
	case composite > 0.4:
		action = "Elevated caution"
	default:
		action = "No immediate action"
	}
	return fmt.Sprintf(
		"%s for %s. Composite score: %.2f, insider sentiment: %s, anomalies detected: %d.",
		action, ticker, composite, signal.InsiderSentiment, len(signal.Anomalies),
	)
}
