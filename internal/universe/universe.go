// Package universe loads and persists the ticker universe CSV consumed
// by the monitor and batch jobs, using explicit columns, zerolog
// logging, and no bare os.Stat error swallowing.
package universe

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Entry is a single row of the ticker universe.
type Entry struct {
	Ticker        string
	CompanyName   string
	Sector        string
	SubIndustry   string
}

var csvColumns = []string{"ticker", "company_name", "sector", "sub_industry"}

// Load reads the universe CSV at path, returning an empty slice (not an
// error) if the file doesn't exist yet.
func Load(path string, log zerolog.Logger) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("universe file not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open universe file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read universe header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.TrimSpace(h)] = i
	}

	var entries []Entry
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		ticker := strings.ToUpper(strings.TrimSpace(getColumn(row, colIndex, "ticker")))
		if ticker == "" {
			continue
		}
		entries = append(entries, Entry{
			Ticker:      ticker,
			CompanyName: getColumn(row, colIndex, "company_name"),
			Sector:      getColumn(row, colIndex, "sector"),
			SubIndustry: getColumn(row, colIndex, "sub_industry"),
		})
	}

	log.Info().Int("count", len(entries)).Str("path", path).Msg("loaded universe")
	return entries, nil
}

// Tickers returns just the ticker symbols from entries.
func Tickers(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Ticker
	}
	return out
}

// Save writes entries to the universe CSV at path, creating parent
// directories as needed.
func Save(path string, entries []Entry, log zerolog.Logger) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create universe directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create universe file %s: %w", path, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return 0, fmt.Errorf("write universe header: %w", err)
	}
	for _, e := range entries {
		if err := writer.Write([]string{e.Ticker, e.CompanyName, e.Sector, e.SubIndustry}); err != nil {
			return 0, fmt.Errorf("write universe row for %s: %w", e.Ticker, err)
		}
	}

	log.Info().Int("count", len(entries)).Str("path", path).Msg("saved universe")
	return len(entries), nil
}

func getColumn(row []string, colIndex map[string]int, name string) string {
	idx, ok := colIndex[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}
