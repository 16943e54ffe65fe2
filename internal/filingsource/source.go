// Package filingsource defines the contract for fetching and parsing SEC
// Form 4 filings into domain transactions. internal/filingsource/edgar
// provides the only shipped implementation.
package filingsource

import (
	"context"
	"time"

	"github.com/aristath/form4sentinel/internal/domain"
)

// RawFiling is an unparsed reference to a single Form 4 filing, enough to
// retrieve and parse its transaction detail. Ticker is empty when the
// filing came from a ticker-agnostic feed (FetchRecentFilings) and has
// not yet been resolved.
type RawFiling struct {
	AccessionNumber string
	CIK             string
	Ticker          string
	FilingDate      time.Time
	URL             string
}

// Source fetches and parses Form 4 filings for a ticker universe.
type Source interface {
	// FetchLatest returns up to limit most recent Form 4 filings for ticker,
	// newest first. Transient network errors are logged and yield an empty
	// slice, never an error — the caller treats missing data as "no update
	// this cycle".
	FetchLatest(ctx context.Context, ticker string, limit int) ([]RawFiling, error)

	// FetchRecentFilings returns the most recent Form 4 filings across the
	// entire EDGAR system for the given day, newest first, with no ticker
	// filter applied — this is the feed a near-real-time poller watches.
	// Each entry's Ticker is unset; callers resolve it separately (see
	// AccessionResolver) before the filing can be attributed. Transient
	// network errors are logged and yield an empty slice, never an error.
	FetchRecentFilings(ctx context.Context, day time.Time) ([]RawFiling, error)

	// Parse extracts transactions from a single filing. Malformed
	// individual transactions are skipped with a warning; the filing as a
	// whole never fails outright.
	Parse(ctx context.Context, raw RawFiling, ticker string) ([]domain.InsiderTransaction, error)

	// BatchFetch iterates tickers respecting the source's rate-limit
	// budget, returning transactions with TransactionDate >= today-daysBack.
	BatchFetch(ctx context.Context, tickers []string, daysBack int) ([]domain.InsiderTransaction, error)
}
