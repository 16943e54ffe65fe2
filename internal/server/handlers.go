package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Tickers  []string `json:"tickers,omitempty"`
	DaysBack int      `json:"days_back,omitempty"`
}

type ingestResponse struct {
	Tickers []string `json:"tickers"`
	Fetched int      `json:"fetched"`
	New     int      `json:"new"`
}

// handleIngest implements POST /insider/ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil || s.cfg.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest not configured")
		return
	}

	var req ingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	daysBack := req.DaysBack
	if daysBack == 0 {
		daysBack = s.cfg.DefaultDaysBack
	}
	if daysBack < 1 || daysBack > 365 {
		writeError(w, http.StatusBadRequest, "days_back must be in [1,365]")
		return
	}

	tickers := req.Tickers
	if len(tickers) == 0 {
		writeError(w, http.StatusBadRequest, "tickers must not be empty")
		return
	}

	ctx := r.Context()
	txns, err := s.cfg.Source.BatchFetch(ctx, tickers, daysBack)
	if err != nil {
		s.log.Error().Err(err).Msg("batch fetch failed")
		writeError(w, http.StatusBadGateway, "fetch failed")
		return
	}

	newCount := 0
	for _, tx := range txns {
		inserted, err := s.cfg.Store.UpsertTransaction(ctx, tx)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", tx.Ticker).Msg("upsert failed during ingest")
			continue
		}
		if inserted {
			newCount++
		}
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Tickers: tickers,
		Fetched: len(txns),
		New:     newCount,
	})
}

// handleTickerAnomalies implements GET /insider/anomalies/{ticker}.
func (s *Server) handleTickerAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	ticker := chi.URLParam(r, "ticker")
	limit := parseIntParam(r, "limit", 100, 1, 1000)
	minScore := parseFloatParam(r, "min_score", 0, 0, 1)

	anomalies, err := s.cfg.Store.GetAnomalies(r.Context(), ticker, minScore, limit)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", ticker).Msg("get anomalies failed")
		writeError(w, http.StatusInternalServerError, "failed to load anomalies")
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// handleListAnomalies implements GET /insider/anomalies?min_score,limit.
func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	limit := parseIntParam(r, "limit", 100, 1, 1000)
	minScore := parseFloatParam(r, "min_score", 0, 0, 1)

	anomalies, err := s.cfg.Store.GetAnomalies(r.Context(), "", minScore, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("get anomalies failed")
		writeError(w, http.StatusInternalServerError, "failed to load anomalies")
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// handleProfile implements GET /insider/profile/{ticker}/{insiderName}.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	ticker := chi.URLParam(r, "ticker")
	insiderName := chi.URLParam(r, "insiderName")

	profile, err := s.cfg.Store.GetProfile(r.Context(), ticker, insiderName)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", ticker).Msg("get profile failed")
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleSignal implements GET /insider/signal/{ticker}, returning the
// composite-enriched InsiderSignal.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil || s.cfg.Anomaly == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis engine not initialized")
		return
	}
	ticker := chi.URLParam(r, "ticker")

	signal, err := s.cfg.Anomaly.Analyze(r.Context(), ticker)
	if err != nil {
		s.log.Error().Err(err).Str("ticker", ticker).Msg("analyze failed")
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	if s.cfg.Composite != nil {
		signal = s.cfg.Composite.Compose(r.Context(), ticker, nil, &signal)
	}
	writeJSON(w, http.StatusOK, signal)
}

// handleAlerts implements GET /insider/alerts?limit.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert service not initialized")
		return
	}
	limit := parseIntParam(r, "limit", 100, 1, 500)

	alerts, err := s.cfg.Alerts.GetActive(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("get alerts failed")
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func parseIntParam(r *http.Request, name string, fallback, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseFloatParam(r *http.Request, name string, fallback, min, max float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
