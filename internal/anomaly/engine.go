// Package anomaly implements the two-tier per-ticker detection engine:
// Tier-1 statistical rules over each insider's own history, a
// cross-insider cluster rule, and a Tier-2 isolation-forest outlier
// score, fused into a single composite anomaly score and sentiment.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/form4sentinel/internal/anomaly/isoforest"
	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/store"
)

const (
	volumeZThreshold        = 2.0
	frequencyRatioThreshold = 0.25
	clusterSellerThreshold  = 3
	holdingsPctThreshold    = 0.20

	roleWeightCEO      = 1.5
	roleWeightCFO      = 1.5
	roleWeightOfficer  = 1.2
	roleWeightBaseline = 1.0

	plannedTradeDiscount = 0.5

	isoforestSeed          = 42
	isoforestEstimators    = 100
	isoforestContamination = 0.1
	isoforestMinRows       = 10
)

// Config supplies the engine's configurable thresholds, all sourced from
// internal/config.
type Config struct {
	LookbackDays      int
	ClusterWindowDays int
}

// Engine runs the two-tier anomaly detection pipeline for a ticker.
type Engine struct {
	store store.TransactionStore
	cfg   Config
	log   zerolog.Logger

	// Now returns "today" for date-math; overridable for deterministic
	// tests per the "today must be injectable" design note.
	Now func() time.Time
}

// New builds an Engine over s with the given configuration.
func New(s store.TransactionStore, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "anomaly_engine").Logger(),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Analyze runs the full detection pipeline for ticker and persists every
// emitted anomaly. It never returns an error for data-quality reasons —
// only for infrastructure failures the caller can act on (the underlying
// store being down).
func (e *Engine) Analyze(ctx context.Context, ticker string) (domain.InsiderSignal, error) {
	today := e.Now().Truncate(24 * time.Hour)

	txns, err := e.store.GetTransactions(ctx, ticker, e.cfg.LookbackDays, "")
	if err != nil {
		return domain.InsiderSignal{}, fmt.Errorf("fetch transactions for %s: %w", ticker, err)
	}
	if len(txns) == 0 {
		return domain.NewNeutralSignal(ticker, today), nil
	}

	insiders := distinctInsiders(txns)
	var allAnomalies []domain.InsiderAnomaly

	for _, name := range insiders {
		profile, err := e.store.GetProfile(ctx, ticker, name)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", ticker).Str("insider", name).Msg("profile lookup failed, skipping tier-1 for this insider")
			continue
		}
		if profile == nil {
			continue
		}
		personTxns := filterByInsider(txns, name)
		allAnomalies = append(allAnomalies, e.tier1Detect(personTxns, *profile, ticker, today)...)
	}

	clusterAnomaly, err := e.detectClusterSelling(ctx, ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("cluster rule failed, continuing without it")
	} else if clusterAnomaly != nil {
		allAnomalies = append(allAnomalies, *clusterAnomaly)
	}

	mlScore := e.tier2Score(txns)

	anomalyScore := computeAnomalyScore(allAnomalies, mlScore, txns)
	sentiment := deriveSentiment(anomalyScore, txns)

	for i := range allAnomalies {
		if _, err := e.store.SaveAnomaly(ctx, allAnomalies[i]); err != nil {
			e.log.Warn().Err(err).Str("ticker", ticker).Msg("failed to persist anomaly")
		}
	}

	return domain.InsiderSignal{
		Ticker:           ticker,
		AnalysisDate:     today,
		AnomalyScore:     anomalyScore,
		Anomalies:        allAnomalies,
		InsiderSentiment: sentiment,
	}, nil
}

func distinctInsiders(txns []domain.InsiderTransaction) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range txns {
		if !seen[t.InsiderName] {
			seen[t.InsiderName] = true
			names = append(names, t.InsiderName)
		}
	}
	return names
}

func filterByInsider(txns []domain.InsiderTransaction, name string) []domain.InsiderTransaction {
	var out []domain.InsiderTransaction
	for _, t := range txns {
		if t.InsiderName == name {
			out = append(out, t)
		}
	}
	return out
}

// tier1Detect runs the volume, frequency, and holdings-percentage rules
// against a single insider's own transaction history. txns is assumed
// newest-first, matching TransactionStore.GetTransactions's contract.
func (e *Engine) tier1Detect(txns []domain.InsiderTransaction, profile domain.InsiderProfile, ticker string, today time.Time) []domain.InsiderAnomaly {
	if len(txns) == 0 {
		return nil
	}
	latest := txns[0]
	name := latest.InsiderName
	var anomalies []domain.InsiderAnomaly

	// Volume rule.
	var sizes []float64
	for _, t := range txns {
		if t.PricePerShare != nil {
			sizes = append(sizes, t.Shares*(*t.PricePerShare))
		}
	}
	if len(sizes) >= 3 {
		if latestSize, ok := latest.DollarSize(); ok {
			mean := stat.Mean(sizes, nil)
			std := stat.StdDev(sizes, nil)
			if std > 0 {
				z := (latestSize - mean) / std
				if math.Abs(z) > volumeZThreshold {
					anomalies = append(anomalies, domain.InsiderAnomaly{
						Ticker:        ticker,
						InsiderName:   name,
						AnomalyType:   domain.AnomalyVolume,
						SeverityScore: domain.ClampSeverity(math.Abs(z) / 5.0),
						ZScore:        z,
						Description:   fmt.Sprintf("transaction size z-score=%.2f vs historical mean", z),
						Transactions:  []domain.InsiderTransaction{latest},
						DetectedAt:    today,
					})
				}
			}
		}
	}

	// Frequency rule.
	if profile.AvgFrequencyDays > 0 && len(txns) >= 2 {
		daysSince := txns[0].TransactionDate.Sub(txns[1].TransactionDate).Hours() / 24
		if daysSince > 0 {
			ratio := daysSince / profile.AvgFrequencyDays
			if ratio < frequencyRatioThreshold {
				anomalies = append(anomalies, domain.InsiderAnomaly{
					Ticker:        ticker,
					InsiderName:   name,
					AnomalyType:   domain.AnomalyFrequency,
					SeverityScore: domain.ClampSeverity(1.0 - ratio),
					ZScore:        0,
					Description:   fmt.Sprintf("traded %.0fd after previous vs avg %.0fd", daysSince, profile.AvgFrequencyDays),
					Transactions:  []domain.InsiderTransaction{txns[0], txns[1]},
					DetectedAt:    today,
				})
			}
		}
	}

	// Holdings-percentage rule.
	if latest.TransactionCode == domain.CodeSale {
		if pctSold, ok := latest.PctSold(); ok && pctSold > holdingsPctThreshold {
			anomalies = append(anomalies, domain.InsiderAnomaly{
				Ticker:        ticker,
				InsiderName:   name,
				AnomalyType:   domain.AnomalyHoldingsPercentage,
				SeverityScore: domain.ClampSeverity(pctSold),
				ZScore:        0,
				Description:   fmt.Sprintf("sold %.1f%% of holdings in single transaction", pctSold*100),
				Transactions:  []domain.InsiderTransaction{latest},
				DetectedAt:    today,
			})
		}
	}

	return anomalies
}

func (e *Engine) detectClusterSelling(ctx context.Context, ticker string) (*domain.InsiderAnomaly, error) {
	sellers, err := e.store.GetRecentSellers(ctx, ticker, e.cfg.ClusterWindowDays)
	if err != nil {
		return nil, fmt.Errorf("get recent sellers: %w", err)
	}
	if len(sellers) < clusterSellerThreshold {
		return nil, nil
	}
	return &domain.InsiderAnomaly{
		Ticker:        ticker,
		InsiderName:   domain.ClusterInsiderName,
		AnomalyType:   domain.AnomalyCluster,
		SeverityScore: domain.ClampSeverity(float64(len(sellers)) / 6.0),
		ZScore:        0,
		Description:   fmt.Sprintf("%d insiders sold within %dd window", len(sellers), e.cfg.ClusterWindowDays),
		DetectedAt:    e.Now(),
	}, nil
}

// tier2Score builds the ticker's feature matrix and fits an isolation
// forest, returning the mapped [0,1] anomaly score for the most recent
// transaction. Any unexpected failure (e.g. a malformed feature row)
// degrades to 0 rather than propagating, matching the engine's
// never-raises contract.
func (e *Engine) tier2Score(txns []domain.InsiderTransaction) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn().Interface("panic", r).Msg("tier-2 model scoring panicked, using score 0")
			score = 0
		}
	}()

	if len(txns) < isoforestMinRows {
		return 0
	}

	features := buildFeatureMatrix(txns)
	if len(features) < 5 {
		return 0
	}

	rng := rand.New(rand.NewSource(isoforestSeed))
	forest := isoforest.Fit(features, isoforestEstimators, isoforestContamination, rng)
	raw := forest.DecisionFunction(features[len(features)-1])
	return math.Min(1, math.Max(0, 1.0-(raw+0.5)))
}

// buildFeatureMatrix constructs rows in chronological order: each row is
// [dollar_size, days_since_prev, pct_sold, is_officer].
func buildFeatureMatrix(txns []domain.InsiderTransaction) [][]float64 {
	sorted := make([]domain.InsiderTransaction, len(txns))
	copy(sorted, txns)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
	})

	rows := make([][]float64, 0, len(sorted))
	for i, tx := range sorted {
		size, _ := tx.DollarSize()
		var daysSince float64
		if i > 0 {
			daysSince = tx.TransactionDate.Sub(sorted[i-1].TransactionDate).Hours() / 24
		}
		pctSold, _ := tx.PctSold()
		isOfficer := 0.0
		if tx.IsOfficer {
			isOfficer = 1.0
		}
		rows = append(rows, []float64{size, daysSince, pctSold, isOfficer})
	}
	return rows
}

// computeAnomalyScore fuses tier-1 severities, the tier-2 model score,
// role weighting, and the planned-trade discount into the final
// per-ticker score.
func computeAnomalyScore(anomalies []domain.InsiderAnomaly, mlScore float64, txns []domain.InsiderTransaction) float64 {
	if len(anomalies) == 0 && mlScore == 0 {
		return 0
	}

	tier1Max := 0.0
	types := make(map[domain.AnomalyType]bool)
	for _, a := range anomalies {
		if a.SeverityScore > tier1Max {
			tier1Max = a.SeverityScore
		}
		types[a.AnomalyType] = true
	}
	typeCount := len(types)

	coOccurrence := 0.0
	if typeCount > 1 {
		coOccurrence = math.Min(0.2, 0.05*float64(typeCount))
	}

	base := 0.6*tier1Max + 0.4*mlScore + coOccurrence

	roleWeight := roleWeightBaseline
	recent := txns
	if len(recent) > 5 {
		recent = recent[:5]
	}
	for _, tx := range recent {
		title := strings.ToLower(tx.InsiderTitle)
		switch {
		case strings.Contains(title, "ceo") || strings.Contains(title, "chief executive"):
			roleWeight = math.Max(roleWeight, roleWeightCEO)
		case strings.Contains(title, "cfo") || strings.Contains(title, "chief financial"):
			roleWeight = math.Max(roleWeight, roleWeightCFO)
		case tx.IsOfficer:
			roleWeight = math.Max(roleWeight, roleWeightOfficer)
		}
	}

	window := txns
	if len(window) > 10 {
		window = window[:10]
	}
	planned := 0
	for _, tx := range window {
		if tx.Is10b51 {
			planned++
		}
	}
	denom := len(window)
	if denom == 0 {
		denom = 1
	}
	plannedRatio := float64(planned) / float64(denom)
	plannedDiscount := 1.0 - plannedRatio*(1.0-plannedTradeDiscount)

	return domain.ClampSeverity(base * roleWeight * plannedDiscount)
}

func deriveSentiment(anomalyScore float64, txns []domain.InsiderTransaction) domain.InsiderSentiment {
	sells, buys := 0, 0
	for _, t := range txns {
		switch t.TransactionCode {
		case domain.CodeSale:
			sells++
		case domain.CodePurchase:
			buys++
		}
	}
	if anomalyScore > 0.6 && sells > buys {
		return domain.SentimentBearish
	}
	if buys > sells {
		return domain.SentimentBullish
	}
	return domain.SentimentNeutral
}
