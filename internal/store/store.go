// Package store implements the persistence layer for insider transactions,
// anomalies, alerts, and feed watermarks over a single SQLite database.
//
// Grounded on the repository shape of
// internal/modules/universe/security_repository.go (explicit column lists,
// a scan helper, a zerolog logger threaded through the struct) and on the
// exact query semantics of the Python original's insider_store.py.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/domain"
)

// TransactionStore is the persistence contract consumed by the monitor,
// the anomaly engine, and the HTTP/CLI surfaces.
type TransactionStore interface {
	UpsertTransaction(ctx context.Context, tx domain.InsiderTransaction) (bool, error)
	UpsertTransactions(ctx context.Context, txs []domain.InsiderTransaction) (int, error)
	GetTransactions(ctx context.Context, ticker string, daysBack int, insiderName string) ([]domain.InsiderTransaction, error)
	GetRecentSellers(ctx context.Context, ticker string, windowDays int) ([]string, error)
	GetProfile(ctx context.Context, ticker, insiderName string) (*domain.InsiderProfile, error)
	SaveAnomaly(ctx context.Context, a domain.InsiderAnomaly) (int64, error)
	GetAnomalies(ctx context.Context, ticker string, minScore float64, limit int) ([]domain.InsiderAnomaly, error)
	SaveAlert(ctx context.Context, a domain.Alert) (int64, error)
	GetAlerts(ctx context.Context, delivered *bool, limit int) ([]domain.Alert, error)
	GetWatermark(ctx context.Context, feed string) (string, bool, error)
	SetWatermark(ctx context.Context, feed, accession string) error
}

// transactionColumns avoids SELECT * so schema additions don't silently
// break row scanning.
const transactionColumns = `id, ticker, insider_name, insider_title, is_officer, is_director,
	transaction_code, shares, price_per_share, total_value, shares_owned_after,
	is_10b5_1, transaction_date, filing_date`

const dateLayout = "2006-01-02"

// SQLiteStore is the SQLite-backed TransactionStore implementation.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
	// Now returns the current UTC calendar date; overridable for
	// deterministic tests per the "today must be injectable" design note.
	Now func() time.Time
}

// New builds a SQLiteStore over an already-migrated *sql.DB.
func New(db *sql.DB, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
		Now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLiteStore) today() time.Time {
	return s.Now().Truncate(24 * time.Hour)
}

// UpsertTransaction inserts tx, returning true iff a new row was created.
// A conflict on the identity key is a silent no-op, never an error.
func (s *SQLiteStore) UpsertTransaction(ctx context.Context, tx domain.InsiderTransaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_transactions (
			ticker, insider_name, insider_title, is_officer, is_director,
			transaction_code, shares, price_per_share, total_value,
			shares_owned_after, is_10b5_1, transaction_date, filing_date
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (ticker, insider_name, transaction_date, shares, transaction_code)
		DO NOTHING
	`,
		tx.Ticker, tx.InsiderName, tx.InsiderTitle, boolToInt(tx.IsOfficer), boolToInt(tx.IsDirector),
		string(tx.TransactionCode), tx.Shares, nullFloat(tx.PricePerShare), nullFloat(tx.TotalValue),
		nullFloat(tx.SharesOwnedAfter), boolToInt(tx.Is10b51),
		tx.TransactionDate.Format(dateLayout), tx.FilingDate.Format(dateLayout),
	)
	if err != nil {
		return false, fmt.Errorf("upsert transaction for %s/%s: %w", tx.Ticker, tx.InsiderName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected after upsert: %w", err)
	}
	return n == 1, nil
}

// UpsertTransactions inserts txs sequentially, returning the count of
// newly created rows.
func (s *SQLiteStore) UpsertTransactions(ctx context.Context, txs []domain.InsiderTransaction) (int, error) {
	n := 0
	for _, tx := range txs {
		created, err := s.UpsertTransaction(ctx, tx)
		if err != nil {
			return n, err
		}
		if created {
			n++
		}
	}
	return n, nil
}

// GetTransactions returns transactions for ticker (optionally filtered by
// insiderName) with transaction_date >= today-daysBack, newest first.
func (s *SQLiteStore) GetTransactions(ctx context.Context, ticker string, daysBack int, insiderName string) ([]domain.InsiderTransaction, error) {
	cutoff := s.today().AddDate(0, 0, -daysBack).Format(dateLayout)

	var rows *sql.Rows
	var err error
	if insiderName != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+transactionColumns+` FROM insider_transactions
			WHERE ticker = ? AND insider_name = ? AND transaction_date >= ?
			ORDER BY transaction_date DESC
		`, ticker, insiderName, cutoff)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+transactionColumns+` FROM insider_transactions
			WHERE ticker = ? AND transaction_date >= ?
			ORDER BY transaction_date DESC
		`, ticker, cutoff)
	}
	if err != nil {
		return nil, fmt.Errorf("query transactions for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []domain.InsiderTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("skipping corrupted transaction row")
			continue
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// GetRecentSellers returns distinct insider names with a sale in the
// trailing windowDays.
func (s *SQLiteStore) GetRecentSellers(ctx context.Context, ticker string, windowDays int) ([]string, error) {
	cutoff := s.today().AddDate(0, 0, -windowDays).Format(dateLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT insider_name FROM insider_transactions
		WHERE ticker = ? AND transaction_code = 'S' AND transaction_date >= ?
	`, ticker, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent sellers for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan seller name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetProfile builds a rolling baseline from the insider_profiles_daily view
// plus min/max transaction date. Returns nil, nil when the insider has no
// transactions.
func (s *SQLiteStore) GetProfile(ctx context.Context, ticker, insiderName string) (*domain.InsiderProfile, error) {
	var total int
	var avgSize, avgPctSold sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT total_transactions, avg_transaction_size, avg_pct_sold
		FROM insider_profiles_daily
		WHERE ticker = ? AND insider_name = ?
	`, ticker, insiderName).Scan(&total, &avgSize, &avgPctSold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile for %s/%s: %w", ticker, insiderName, err)
	}

	var firstStr, lastStr sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(transaction_date), MAX(transaction_date)
		FROM insider_transactions WHERE ticker = ? AND insider_name = ?
	`, ticker, insiderName).Scan(&firstStr, &lastStr)
	if err != nil {
		return nil, fmt.Errorf("query date span for %s/%s: %w", ticker, insiderName, err)
	}

	var avgFreq float64
	var lastDate time.Time
	if lastStr.Valid {
		lastDate, _ = time.Parse(dateLayout, lastStr.String)
	}
	if total > 1 && firstStr.Valid && lastStr.Valid {
		first, _ := time.Parse(dateLayout, firstStr.String)
		last, _ := time.Parse(dateLayout, lastStr.String)
		spanDays := last.Sub(first).Hours() / 24
		avgFreq = spanDays / float64(total-1)
	}

	return &domain.InsiderProfile{
		Ticker:                ticker,
		InsiderName:           insiderName,
		TotalTransactions:     total,
		AvgTransactionSize:    avgSize.Float64,
		AvgFrequencyDays:      avgFreq,
		TypicalSellPercentage: avgPctSold.Float64,
		LastTransactionDate:   lastDate,
	}, nil
}

// SaveAnomaly appends a detection record, returning its row id. Evidence
// transactions attached to a are not separately persisted; they exist only
// for the caller's immediate use (e.g. alert narration).
func (s *SQLiteStore) SaveAnomaly(ctx context.Context, a domain.InsiderAnomaly) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_anomalies (ticker, insider_name, anomaly_type, severity_score, z_score, description)
		VALUES (?,?,?,?,?,?)
	`, a.Ticker, a.InsiderName, string(a.AnomalyType), domain.ClampSeverity(a.SeverityScore), a.ZScore, a.Description)
	if err != nil {
		return 0, fmt.Errorf("save anomaly for %s: %w", a.Ticker, err)
	}
	return res.LastInsertId()
}

// GetAnomalies returns anomalies for ticker (all tickers if empty) with
// severity_score >= minScore, newest detection first.
func (s *SQLiteStore) GetAnomalies(ctx context.Context, ticker string, minScore float64, limit int) ([]domain.InsiderAnomaly, error) {
	var rows *sql.Rows
	var err error
	if ticker != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ticker, insider_name, anomaly_type, severity_score, z_score, description, detected_at
			FROM insider_anomalies
			WHERE ticker = ? AND severity_score >= ?
			ORDER BY detected_at DESC LIMIT ?
		`, ticker, minScore, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ticker, insider_name, anomaly_type, severity_score, z_score, description, detected_at
			FROM insider_anomalies
			WHERE severity_score >= ?
			ORDER BY detected_at DESC LIMIT ?
		`, minScore, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.InsiderAnomaly
	for rows.Next() {
		var a domain.InsiderAnomaly
		var anomalyType, detectedAt string
		if err := rows.Scan(&a.ID, &a.Ticker, &a.InsiderName, &anomalyType, &a.SeverityScore, &a.ZScore, &a.Description, &detectedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		a.AnomalyType = domain.AnomalyType(anomalyType)
		a.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)
		if !a.AnomalyType.Valid() {
			s.log.Warn().Str("ticker", a.Ticker).Str("type", anomalyType).Msg("skipping anomaly with invalid type")
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAlert appends a promoted signal, returning its row id.
func (s *SQLiteStore) SaveAlert(ctx context.Context, a domain.Alert) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_alerts (ticker, anomaly_score, insider_sentiment, recommendation, composite_alpha_score, delivered)
		VALUES (?,?,?,?,?,?)
	`, a.Ticker, a.AnomalyScore, string(a.InsiderSentiment), a.Recommendation, nullFloat(a.CompositeAlphaScore), boolToInt(a.Delivered))
	if err != nil {
		return 0, fmt.Errorf("save alert for %s: %w", a.Ticker, err)
	}
	return res.LastInsertId()
}

// GetAlerts returns alerts filtered by delivered (all if nil), newest first.
func (s *SQLiteStore) GetAlerts(ctx context.Context, delivered *bool, limit int) ([]domain.Alert, error) {
	var rows *sql.Rows
	var err error
	if delivered != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ticker, anomaly_score, insider_sentiment, recommendation, composite_alpha_score, created_at, delivered
			FROM insider_alerts WHERE delivered = ? ORDER BY created_at DESC LIMIT ?
		`, boolToInt(*delivered), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ticker, anomaly_score, insider_sentiment, recommendation, composite_alpha_score, created_at, delivered
			FROM insider_alerts ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var sentiment, createdAt string
		var composite sql.NullFloat64
		var deliveredInt int
		if err := rows.Scan(&a.ID, &a.Ticker, &a.AnomalyScore, &sentiment, &a.Recommendation, &composite, &createdAt, &deliveredInt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.InsiderSentiment = domain.InsiderSentiment(sentiment)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		a.Delivered = deliveredInt != 0
		if composite.Valid {
			v := composite.Float64
			a.CompositeAlphaScore = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetWatermark returns the last-seen accession for feed, and false if the
// feed has never been polled.
func (s *SQLiteStore) GetWatermark(ctx context.Context, feed string) (string, bool, error) {
	var accession string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_accession FROM monitor_watermarks WHERE feed_name = ?`, feed,
	).Scan(&accession)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query watermark for %s: %w", feed, err)
	}
	return accession, true, nil
}

// SetWatermark unconditionally overwrites the watermark for feed. The
// caller is the sole writer, so no compare-and-swap is needed.
func (s *SQLiteStore) SetWatermark(ctx context.Context, feed, accession string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_watermarks (feed_name, last_seen_accession, last_poll_at)
		VALUES (?, ?, ?)
		ON CONFLICT (feed_name) DO UPDATE SET
			last_seen_accession = excluded.last_seen_accession,
			last_poll_at = excluded.last_poll_at
	`, feed, accession, s.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set watermark for %s: %w", feed, err)
	}
	return nil
}

func scanTransaction(rows *sql.Rows) (domain.InsiderTransaction, error) {
	var tx domain.InsiderTransaction
	var id int64
	var isOfficer, isDirector, is10b51 int
	var code, txDate, filingDate string
	var price, totalValue, sharesOwnedAfter sql.NullFloat64

	if err := rows.Scan(
		&id, &tx.Ticker, &tx.InsiderName, &tx.InsiderTitle, &isOfficer, &isDirector,
		&code, &tx.Shares, &price, &totalValue, &sharesOwnedAfter,
		&is10b51, &txDate, &filingDate,
	); err != nil {
		return tx, err
	}

	tx.IsOfficer = isOfficer != 0
	tx.IsDirector = isDirector != 0
	tx.Is10b51 = is10b51 != 0
	tx.TransactionCode = domain.TransactionCode(code)
	if price.Valid {
		v := price.Float64
		tx.PricePerShare = &v
	}
	if totalValue.Valid {
		v := totalValue.Float64
		tx.TotalValue = &v
	}
	if sharesOwnedAfter.Valid {
		v := sharesOwnedAfter.Float64
		tx.SharesOwnedAfter = &v
	}
	var err error
	tx.TransactionDate, err = time.Parse(dateLayout, txDate)
	if err != nil {
		return tx, fmt.Errorf("parse transaction_date %q: %w", txDate, err)
	}
	tx.FilingDate, err = time.Parse(dateLayout, filingDate)
	if err != nil {
		return tx, fmt.Errorf("parse filing_date %q: %w", filingDate, err)
	}

	if err := tx.Validate(); err != nil {
		return tx, fmt.Errorf("corrupted transaction row %d: %w", id, err)
	}
	return tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
