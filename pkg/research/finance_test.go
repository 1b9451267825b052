package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/pkg/market"
)

func TestFinancialData_Execute(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]*market.Quote{
		"TSLA": testQuote("TSLA", "Tesla, Inc.", 200, 250, 3.2),
	}}
	tool := NewFinancialData(quotes)

	result, err := tool.Execute(context.Background(), map[string]any{"symbol": "TSLA"})
	require.NoError(t, err)

	assert.Equal(t, []string{"TSLA"}, quotes.gotSymbols)
	assert.Equal(t, "1y", quotes.gotPeriod)

	assert.Equal(t, "TSLA", result.Payload["symbol"])
	assert.Equal(t, "Tesla, Inc.", result.Payload["company_name"])
	assert.Equal(t, "stock", result.Payload["data_type"])
	assert.Equal(t, 250.0, result.Payload["current_price"])
	assert.Equal(t, 50.0, result.Payload["price_change"])
	assert.Equal(t, 25.0, result.Payload["percentage_change"])
	assert.Equal(t, 2, result.Payload["data_points"])

	metrics, ok := result.Payload["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 25.0, metrics["percentage_change"])

	analysis, ok := result.Payload["analysis_text"].(string)
	require.True(t, ok)
	assert.Contains(t, analysis, "Tesla, Inc. (TSLA)")
	assert.Contains(t, analysis, "🟢 Positive growth")
	assert.Contains(t, analysis, "+25.00%")
}

func TestFinancialData_CryptoSymbolNormalized(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]*market.Quote{
		"BTC-USD": testQuote("BTC-USD", "Bitcoin USD", 40000, 60000, 4.5),
	}}
	tool := NewFinancialData(quotes)

	_, err := tool.Execute(context.Background(), map[string]any{
		"symbol":    "btc",
		"data_type": "crypto",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD"}, quotes.gotSymbols)
}

func TestFinancialData_ProviderError(t *testing.T) {
	tool := NewFinancialData(&fakeQuotes{})

	_, err := tool.Execute(context.Background(), map[string]any{"symbol": "GHOST"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch financial data")
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "TSLA", normalizeSymbol(" TSLA ", "stock"))
	assert.Equal(t, "ETH-USD", normalizeSymbol("eth", "crypto"))
	assert.Equal(t, "BTC-USD", normalizeSymbol("BTC-USD", "crypto"))
}

func TestCompareAssets_Execute(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]*market.Quote{
		"AAPL": testQuote("AAPL", "Apple Inc.", 100, 110, 1.2),
		"TSLA": testQuote("TSLA", "Tesla, Inc.", 100, 150, 4.8),
		"MSFT": testQuote("MSFT", "Microsoft Corporation", 100, 125, 2.1),
	}}
	tool := NewCompareAssets(quotes)

	result, err := tool.Execute(context.Background(), map[string]any{
		"symbols": []any{"AAPL", "TSLA", "MSFT"},
	})
	require.NoError(t, err)

	assert.Equal(t, "1y", result.Payload["period"])
	assert.Equal(t, 3, result.Payload["total_assets"])

	comparison, ok := result.Payload["comparison_data"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, comparison, 3)
	// Ranked by performance, best first.
	assert.Equal(t, "TSLA", comparison[0]["symbol"])
	assert.Equal(t, "MSFT", comparison[1]["symbol"])
	assert.Equal(t, "AAPL", comparison[2]["symbol"])

	best := result.Payload["best_performer"].(map[string]any)
	assert.Equal(t, "TSLA", best["symbol"])
	worst := result.Payload["worst_performer"].(map[string]any)
	assert.Equal(t, "AAPL", worst["symbol"])

	text := result.Payload["comparison_text"].(string)
	assert.Contains(t, text, "🏆 Best Performer")
	assert.Contains(t, text, "Tesla, Inc. (TSLA)")
	assert.Contains(t, text, "🟢 Winner")
}

func TestCompareAssets_SkipsFailingSymbols(t *testing.T) {
	quotes := &fakeQuotes{quotes: map[string]*market.Quote{
		"AAPL": testQuote("AAPL", "Apple Inc.", 100, 110, 1.2),
		"MSFT": testQuote("MSFT", "Microsoft Corporation", 100, 125, 2.1),
	}}
	tool := NewCompareAssets(quotes)

	result, err := tool.Execute(context.Background(), map[string]any{
		"symbols": []any{"AAPL", "DELISTED", "MSFT"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Payload["total_assets"])
}

func TestCompareAssets_NeedsTwoWorkingSymbols(t *testing.T) {
	tool := NewCompareAssets(&fakeQuotes{})

	_, err := tool.Execute(context.Background(), map[string]any{"symbols": []any{"AAPL"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 symbols")

	_, err = tool.Execute(context.Background(), map[string]any{"symbols": []any{"A", "B"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not fetch data")
}

func TestQuoteAnalysisDecline(t *testing.T) {
	analysis := quoteAnalysis(testQuote("XYZ", "Xyz Corp", 100, 80, 0.8))
	assert.Contains(t, analysis, "🔴 Decline")
	assert.Contains(t, analysis, "lost")
	assert.Contains(t, analysis, "-20.00%")
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "45,231,890", groupThousands(45231890))
	assert.Equal(t, "-1,234,567", groupThousands(-1234567))
}

func TestWordScales(t *testing.T) {
	assert.Equal(t, "high", volatilityWord(5))
	assert.Equal(t, "moderate", volatilityWord(2))
	assert.Equal(t, "low", volatilityWord(0.5))

	assert.Equal(t, "Above average", volumeWord(60_000_000))
	assert.Equal(t, "Moderate", volumeWord(20_000_000))
	assert.Equal(t, "Light", volumeWord(1_000_000))
}
