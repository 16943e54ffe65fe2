package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsiderTransaction_Validate(t *testing.T) {
	price := 150.0
	total := 150000.0

	tests := []struct {
		name    string
		tx      InsiderTransaction
		wantErr bool
	}{
		{
			name: "valid purchase",
			tx: InsiderTransaction{
				Ticker: "AAPL", InsiderName: "Jane Doe", TransactionCode: CodePurchase,
				Shares: 1000, PricePerShare: &price, TotalValue: &total,
				TransactionDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				FilingDate:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			},
			wantErr: false,
		},
		{
			name:    "missing ticker",
			tx:      InsiderTransaction{InsiderName: "Jane", TransactionCode: CodePurchase, TransactionDate: time.Now(), FilingDate: time.Now()},
			wantErr: true,
		},
		{
			name:    "invalid code",
			tx:      InsiderTransaction{Ticker: "AAPL", InsiderName: "Jane", TransactionCode: "X", TransactionDate: time.Now(), FilingDate: time.Now()},
			wantErr: true,
		},
		{
			name:    "negative shares",
			tx:      InsiderTransaction{Ticker: "AAPL", InsiderName: "Jane", TransactionCode: CodePurchase, Shares: -1, TransactionDate: time.Now(), FilingDate: time.Now()},
			wantErr: true,
		},
		{
			name: "filing before transaction",
			tx: InsiderTransaction{
				Ticker: "AAPL", InsiderName: "Jane", TransactionCode: CodePurchase, Shares: 10,
				TransactionDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
				FilingDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			wantErr: true,
		},
		{
			name: "total value mismatch",
			tx: func() InsiderTransaction {
				bad := 1.0
				return InsiderTransaction{
					Ticker: "AAPL", InsiderName: "Jane", TransactionCode: CodePurchase, Shares: 1000,
					PricePerShare: &price, TotalValue: &bad,
					TransactionDate: time.Now(), FilingDate: time.Now(),
				}
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInsiderTransaction_PctSold(t *testing.T) {
	after := 4000.0
	sale := InsiderTransaction{TransactionCode: CodeSale, Shares: 1000, SharesOwnedAfter: &after}
	pct, ok := sale.PctSold()
	require.True(t, ok)
	assert.InDelta(t, 0.2, pct, 1e-9)

	purchase := InsiderTransaction{TransactionCode: CodePurchase, Shares: 1000, SharesOwnedAfter: &after}
	_, ok = purchase.PctSold()
	assert.False(t, ok)

	noAfter := InsiderTransaction{TransactionCode: CodeSale, Shares: 1000}
	_, ok = noAfter.PctSold()
	assert.False(t, ok)
}

func TestClampSeverity(t *testing.T) {
	assert.Equal(t, 0.0, ClampSeverity(-5))
	assert.Equal(t, 1.0, ClampSeverity(5))
	assert.Equal(t, 0.42, ClampSeverity(0.42))
}

func TestNewNeutralSignal(t *testing.T) {
	sig := NewNeutralSignal("AAPL", time.Now())
	assert.Equal(t, "AAPL", sig.Ticker)
	assert.Equal(t, 0.0, sig.AnomalyScore)
	assert.Equal(t, SentimentNeutral, sig.InsiderSentiment)
	assert.Empty(t, sig.Anomalies)
	assert.Nil(t, sig.CompositeAlphaScore)
}
