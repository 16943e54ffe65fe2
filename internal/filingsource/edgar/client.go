// Package edgar is a best-effort SEC EDGAR adapter implementing
// filingsource.Source. It fetches Form 4 filings from EDGAR's full-text
// search feed and parses each filing's ownership XML.
//
// Field-mapping conventions: unknown transaction codes map to OTHER,
// a missing price yields a nil total_value, and a missing filing date
// defaults to today.
package edgar

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/form4sentinel/internal/domain"
	"github.com/aristath/form4sentinel/internal/filingsource"
)

const defaultBaseURL = "https://www.sec.gov"

// Client is the EDGAR Form 4 adapter.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	log        zerolog.Logger
	rateLimit  int // requests/second budget

	// Now returns "today" for days-back filtering; overridable for tests.
	Now func() time.Time
}

// New builds an EDGAR client. userAgent must identify the requester per
// SEC's fair-access policy; rateLimit bounds BatchFetch's pace.
func New(userAgent string, rateLimit int, log zerolog.Logger) *Client {
	if rateLimit <= 0 {
		rateLimit = 8
	}
	return &Client{
		baseURL:   defaultBaseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:       log.With().Str("component", "edgar").Logger(),
		rateLimit: rateLimit,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ filingsource.Source = (*Client)(nil)

// edgarSearchHit is the subset of EDGAR's full-text-search JSON API
// this adapter consumes.
type edgarSearchHit struct {
	AccessionNo string `json:"_id"`
	CIK         string `json:"cik"`
	FilingDate  string `json:"file_date"`
}

type edgarSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source edgarSearchHit `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FetchLatest returns up to limit recent Form 4 filings for ticker via
// EDGAR's full-text search endpoint. Network failures are logged and
// yield an empty slice, never an error.
func (c *Client) FetchLatest(ctx context.Context, ticker string, limit int) ([]filingsource.RawFiling, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s/cgi-bin/srqsb?text=%s&forms-type=4&count=%d", c.baseURL, ticker, limit)
	return c.searchAndParse(ctx, url, ticker)
}

// FetchRecentFilings returns the most recent Form 4 filings across every
// EDGAR filer for day, with no ticker query term — the system-wide feed
// Path A polls. Each returned entry's Ticker is left blank; the caller
// resolves it per accession via ResolveAccession.
func (c *Client) FetchRecentFilings(ctx context.Context, day time.Time) ([]filingsource.RawFiling, error) {
	d := day.Format("2006-01-02")
	url := fmt.Sprintf("%s/cgi-bin/srqsb?forms-type=4&startdt=%s&enddt=%s&count=100", c.baseURL, d, d)
	return c.searchAndParse(ctx, url, "")
}

// searchAndParse issues a GET against one of EDGAR's full-text search
// query forms and maps the JSON hits into RawFiling entries. tickerHint
// is stamped onto every result ("" when the caller doesn't know the
// ticker yet, as with the system-wide feed).
func (c *Client) searchAndParse(ctx context.Context, url, tickerHint string) ([]filingsource.RawFiling, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("failed to build EDGAR request")
		return nil, nil
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("EDGAR fetch failed, skipping this cycle")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("EDGAR returned non-200")
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("failed to read EDGAR response body")
		return nil, nil
	}

	var parsed edgarSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Warn().Err(err).Str("url", url).Msg("failed to decode EDGAR search response")
		return nil, nil
	}

	out := make([]filingsource.RawFiling, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		fd, err := time.Parse("2006-01-02", h.Source.FilingDate)
		if err != nil {
			fd = c.Now()
		}
		out = append(out, filingsource.RawFiling{
			AccessionNumber: h.Source.AccessionNo,
			CIK:             h.Source.CIK,
			Ticker:          tickerHint,
			FilingDate:      fd,
			URL:             c.filingXMLURL(h.Source.CIK, h.Source.AccessionNo),
		})
	}
	return out, nil
}

func (c *Client) filingXMLURL(cik, accession string) string {
	clean := strings.ReplaceAll(accession, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/primary_doc.xml", c.baseURL, cik, clean)
}

// ownershipDocument mirrors the subset of SEC's Form 4 XML schema this
// adapter consumes.
type ownershipDocument struct {
	XMLName xml.Name `xml:"ownershipDocument"`
	Issuer  struct {
		TradingSymbol string `xml:"issuerTradingSymbol"`
	} `xml:"issuer"`
	ReportingOwner struct {
		ID struct {
			Name string `xml:"rptOwnerName"`
		} `xml:"reportingOwnerId"`
		Relationship struct {
			IsDirector   string `xml:"isDirector"`
			IsOfficer    string `xml:"isOfficer"`
			OfficerTitle string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
	NonDerivativeTable struct {
		Transactions []nonDerivativeTransaction `xml:"nonDerivativeTransaction"`
	} `xml:"nonDerivativeTable"`
}

type nonDerivativeTransaction struct {
	TransactionDate struct {
		Value string `xml:"value"`
	} `xml:"transactionDate"`
	Coding struct {
		Code string `xml:"transactionCode"`
	} `xml:"transactionCoding"`
	Amounts struct {
		Shares struct {
			Value string `xml:"value"`
		} `xml:"transactionShares"`
		PricePerShare struct {
			Value string `xml:"value"`
		} `xml:"transactionPricePerShare"`
	} `xml:"transactionAmounts"`
	PostAmounts struct {
		SharesOwned struct {
			Value string `xml:"value"`
		} `xml:"sharesOwnedFollowingTransaction"`
	} `xml:"postTransactionAmounts"`
	Coding10b51 struct {
		Value string `xml:"value"`
	} `xml:"transactionTimeliness"`
}

// Parse fetches raw's XML document and extracts its transactions.
// Malformed individual transactions are skipped with a warning; unknown
// codes map to OTHER, a missing price yields a nil total value, and a
// missing filing date falls back to today.
func (c *Client) Parse(ctx context.Context, raw filingsource.RawFiling, ticker string) ([]domain.InsiderTransaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw.URL, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("url", raw.URL).Msg("failed to build filing XML request")
		return nil, nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("accession", raw.AccessionNumber).Msg("failed to fetch filing XML")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("accession", raw.AccessionNumber).Msg("filing XML fetch returned non-200")
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("accession", raw.AccessionNumber).Msg("failed to read filing XML body")
		return nil, nil
	}

	var doc ownershipDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		c.log.Warn().Err(err).Str("accession", raw.AccessionNumber).Msg("could not parse Form 4 XML")
		return nil, nil
	}

	filingDate := raw.FilingDate
	if filingDate.IsZero() {
		filingDate = c.Now()
	}

	isOfficer := doc.ReportingOwner.Relationship.IsOfficer == "1" || strings.EqualFold(doc.ReportingOwner.Relationship.IsOfficer, "true")
	isDirector := doc.ReportingOwner.Relationship.IsDirector == "1" || strings.EqualFold(doc.ReportingOwner.Relationship.IsDirector, "true")

	txTicker := ticker
	if txTicker == "" && doc.Issuer.TradingSymbol != "" {
		txTicker = doc.Issuer.TradingSymbol
	}

	var out []domain.InsiderTransaction
	for _, rawTx := range doc.NonDerivativeTable.Transactions {
		txDate, err := time.Parse("2006-01-02", rawTx.TransactionDate.Value)
		if err != nil {
			txDate = filingDate
		}

		code := domain.TransactionCode(strings.ToUpper(strings.TrimSpace(rawTx.Coding.Code)))
		if !code.Valid() {
			code = domain.CodeOther
		}

		shares, err := strconv.ParseFloat(rawTx.Amounts.Shares.Value, 64)
		if err != nil {
			c.log.Warn().Str("accession", raw.AccessionNumber).Msg("skipping transaction with unparsable shares")
			continue
		}

		var price *float64
		var totalValue *float64
		if p, err := strconv.ParseFloat(rawTx.Amounts.PricePerShare.Value, 64); err == nil {
			price = &p
			v := shares * p
			totalValue = &v
		}

		var sharesOwnedAfter *float64
		if v, err := strconv.ParseFloat(rawTx.PostAmounts.SharesOwned.Value, 64); err == nil {
			sharesOwnedAfter = &v
		}

		out = append(out, domain.InsiderTransaction{
			Ticker:           txTicker,
			InsiderName:      doc.ReportingOwner.ID.Name,
			InsiderTitle:     doc.ReportingOwner.Relationship.OfficerTitle,
			IsOfficer:        isOfficer,
			IsDirector:       isDirector,
			TransactionCode:  code,
			Shares:           shares,
			PricePerShare:    price,
			TotalValue:       totalValue,
			SharesOwnedAfter: sharesOwnedAfter,
			Is10b51:          strings.EqualFold(rawTx.Coding10b51.Value, "P"),
			TransactionDate:  txDate,
			FilingDate:       filingDate,
		})
	}
	return out, nil
}

// BatchFetch iterates tickers at the configured rate-limit budget,
// returning transactions dated on or after today-daysBack across all tickers.
func (c *Client) BatchFetch(ctx context.Context, tickers []string, daysBack int) ([]domain.InsiderTransaction, error) {
	cutoff := c.Now().Truncate(24*time.Hour).AddDate(0, 0, -daysBack)
	rateDelay := time.Second / time.Duration(c.rateLimit)

	var all []domain.InsiderTransaction
	for i, ticker := range tickers {
		filings, err := c.FetchLatest(ctx, ticker, 20)
		if err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("fetch failed during batch, continuing")
			continue
		}
		for _, f := range filings {
			txs, err := c.Parse(ctx, f, ticker)
			if err != nil {
				continue
			}
			for _, tx := range txs {
				if !tx.TransactionDate.Before(cutoff) {
					all = append(all, tx)
				}
			}
		}

		if i < len(tickers)-1 {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(rateDelay):
			}
		}
	}

	c.log.Info().Int("tickers", len(tickers)).Int("transactions", len(all)).Msg("batch fetch complete")
	return all, nil
}

// ResolveAccession fetches the ownership XML document for accession and
// extracts its issuer ticker. This backs Path A's per-accession resolution (the
// resolved design choice for the dual-path monitor's open question): the
// ATOM poller can act on a single new accession without waiting for the
// next batch sweep.
func (c *Client) ResolveAccession(ctx context.Context, cik, accession string) (string, error) {
	url := c.filingXMLURL(cik, accession)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch filing for accession %s: %w", accession, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve accession %s: status %d", accession, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read filing for accession %s: %w", accession, err)
	}

	var doc ownershipDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse filing for accession %s: %w", accession, err)
	}

	if doc.Issuer.TradingSymbol == "" {
		return "", fmt.Errorf("accession %s has no issuer trading symbol", accession)
	}
	return strings.ToUpper(doc.Issuer.TradingSymbol), nil
}
