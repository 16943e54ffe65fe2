package edgar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/form4sentinel/internal/filingsource"
)

const sampleForm4XML = `<?xml version="1.0"?>
<ownershipDocument>
  <issuer><issuerTradingSymbol>AAPL</issuerTradingSymbol></issuer>
  <reportingOwner>
    <reportingOwnerId><rptOwnerName>Jane Doe</rptOwnerName></reportingOwnerId>
    <reportingOwnerRelationship>
      <isDirector>0</isDirector>
      <isOfficer>1</isOfficer>
      <officerTitle>Chief Executive Officer</officerTitle>
    </reportingOwnerRelationship>
  </reportingOwner>
  <nonDerivativeTable>
    <nonDerivativeTransaction>
      <transactionDate><value>2026-01-15</value></transactionDate>
      <transactionCoding><transactionCode>S</transactionCode></transactionCoding>
      <transactionAmounts>
        <transactionShares><value>5000</value></transactionShares>
        <transactionPricePerShare><value>150.00</value></transactionPricePerShare>
      </transactionAmounts>
      <postTransactionAmounts>
        <sharesOwnedFollowingTransaction><value>20000</value></sharesOwnedFollowingTransaction>
      </postTransactionAmounts>
      <transactionTimeliness><value>P</value></transactionTimeliness>
    </nonDerivativeTransaction>
  </nonDerivativeTable>
</ownershipDocument>`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New("test-agent research@example.com", 8, zerolog.Nop())
	c.baseURL = srv.URL
	return c, srv
}

func TestParse_MapsFieldsFromFormFourXML(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleForm4XML))
	})
	defer srv.Close()

	txs, err := c.Parse(context.Background(), filingsource.RawFiling{
		AccessionNumber: "0000000000-26-000001",
		URL:             srv.URL + "/filing.xml",
		FilingDate:      time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
	}, "AAPL")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, "AAPL", tx.Ticker)
	assert.Equal(t, "Jane Doe", tx.InsiderName)
	assert.True(t, tx.IsOfficer)
	assert.False(t, tx.IsDirector)
	assert.Equal(t, "Chief Executive Officer", tx.InsiderTitle)
	assert.EqualValues(t, 5000, tx.Shares)
	require.NotNil(t, tx.PricePerShare)
	assert.InDelta(t, 150.0, *tx.PricePerShare, 1e-9)
	require.NotNil(t, tx.TotalValue)
	assert.InDelta(t, 750000.0, *tx.TotalValue, 1e-9)
	require.NotNil(t, tx.SharesOwnedAfter)
	assert.InDelta(t, 20000.0, *tx.SharesOwnedAfter, 1e-9)
	assert.True(t, tx.Is10b51)
}

func TestParse_NonOKStatusReturnsNoErrorNoTransactions(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	txs, err := c.Parse(context.Background(), filingsource.RawFiling{URL: srv.URL + "/filing.xml"}, "AAPL")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestFetchRecentFilings_IsTickerAgnosticAndCarriesCIK(t *testing.T) {
	const sampleSearchResponse = `{"hits":{"hits":[
		{"_source":{"_id":"0000000000-26-000002","cik":"0000320193","file_date":"2026-01-16"}},
		{"_source":{"_id":"0000000000-26-000001","cik":"0000789019","file_date":"2026-01-16"}}
	]}}`

	var gotURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleSearchResponse))
	})
	defer srv.Close()

	filings, err := c.FetchRecentFilings(context.Background(), time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, filings, 2)

	assert.NotContains(t, gotURL, "text=", "the system-wide feed query carries no ticker term")
	assert.Equal(t, "0000000000-26-000002", filings[0].AccessionNumber)
	assert.Equal(t, "0000320193", filings[0].CIK)
	assert.Empty(t, filings[0].Ticker, "ticker is unresolved until the caller resolves it")
}

func TestResolveAccession_ReturnsIssuerSymbol(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleForm4XML))
	})
	defer srv.Close()

	symbol, err := c.ResolveAccession(context.Background(), "0000320193", "0000000000-26-000001")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", symbol)
}
