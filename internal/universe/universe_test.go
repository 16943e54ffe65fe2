package universe

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptyNotError(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "missing.csv"), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.csv")
	entries := []Entry{
		{Ticker: "aapl", CompanyName: "Apple Inc", Sector: "Technology", SubIndustry: "Hardware"},
		{Ticker: "msft", CompanyName: "Microsoft", Sector: "Technology", SubIndustry: "Software"},
	}

	n, err := Save(path, entries, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "AAPL", loaded[0].Ticker)
	assert.Equal(t, "Apple Inc", loaded[0].CompanyName)
	assert.Equal(t, "MSFT", loaded[1].Ticker)
}

func TestLoad_SkipsBlankTickers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.csv")
	entries := []Entry{
		{Ticker: "", CompanyName: "No Ticker"},
		{Ticker: "AAPL", CompanyName: "Apple Inc"},
	}
	_, err := Save(path, entries, zerolog.Nop())
	require.NoError(t, err)

	loaded, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "AAPL", loaded[0].Ticker)
}

func TestTickers_ExtractsSymbolsInOrder(t *testing.T) {
	entries := []Entry{{Ticker: "AAPL"}, {Ticker: "MSFT"}}
	assert.Equal(t, []string{"AAPL", "MSFT"}, Tickers(entries))
}
