package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chartFixture builds a v8 chart payload. nil closes mark market holidays.
func chartFixture(symbol, longName string, timestamps []int64, closes, volumes []any) string {
	payload := map[string]any{
		"chart": map[string]any{
			"result": []any{
				map[string]any{
					"meta":      map[string]any{"symbol": symbol, "longName": longName},
					"timestamp": timestamps,
					"indicators": map[string]any{
						"quote": []any{
							map[string]any{
								"close":  closes,
								"high":   closes,
								"low":    closes,
								"volume": volumes,
							},
						},
					},
				},
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func TestHistory_ParsesQuote(t *testing.T) {
	// 2024-01-01 through 2024-01-04, one day apart.
	timestamps := []int64{1704067200, 1704153600, 1704240000, 1704326400}
	closes := []any{10.0, nil, 12.0, 14.0}
	volumes := []any{100.0, nil, 200.0, 300.0}

	var gotPath, gotQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotQuery.Store(r.URL.RawQuery)
		w.Write([]byte(chartFixture("NVDA", "NVIDIA Corporation", timestamps, closes, volumes)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.Client(), server.URL)
	quote, err := c.History(context.Background(), "NVDA", "1y")
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/NVDA", gotPath.Load())
	assert.Equal(t, "range=1y&interval=1d", gotQuery.Load())

	assert.Equal(t, "NVDA", quote.Symbol)
	assert.Equal(t, "NVIDIA Corporation", quote.CompanyName)
	assert.Equal(t, "1y", quote.Period)

	// The null row is a holiday and must be dropped.
	require.Len(t, quote.Points, 3)
	assert.Equal(t, "2024-01-01", quote.Points[0].Date)
	assert.Equal(t, "2024-01-03", quote.Points[1].Date)
	assert.Equal(t, "2024-01-04", quote.Points[2].Date)

	assert.Equal(t, 10.0, quote.StartPrice)
	assert.Equal(t, 14.0, quote.CurrentPrice)
	assert.Equal(t, 14.0, quote.HighPrice)
	assert.Equal(t, 10.0, quote.LowPrice)
	assert.InDelta(t, 200.0, quote.AverageVolume, 0.001)
}

func TestHistory_DefaultPeriod(t *testing.T) {
	var gotQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		w.Write([]byte(chartFixture("AAPL", "Apple Inc.", []int64{1704067200}, []any{190.0}, []any{100.0})))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.Client(), server.URL)
	_, err := c.History(context.Background(), "AAPL", "")
	require.NoError(t, err)
	assert.Equal(t, "range=1y&interval=1d", gotQuery.Load())
}

func TestHistory_RejectsBadInput(t *testing.T) {
	c := NewClient()

	_, err := c.History(context.Background(), "", "1y")
	require.Error(t, err)

	_, err = c.History(context.Background(), "AAPL", "7y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid period")
}

func TestHistory_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.Client(), server.URL)
	_, err := c.History(context.Background(), "NOPE", "1y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol may be delisted")
}

func TestHistory_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.Client(), server.URL)
	_, err := c.History(context.Background(), "AAPL", "1y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yahoo finance http 401")
}

func TestHistory_EmptySeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(chartFixture("GHOST", "", nil, nil, nil)))
	}))
	defer server.Close()

	c := NewClientWithBaseURL(server.Client(), server.URL)
	_, err := c.History(context.Background(), "GHOST", "1y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data found")
}

func TestQuoteChangeMetrics(t *testing.T) {
	q := &Quote{StartPrice: 100, CurrentPrice: 125}
	assert.Equal(t, 25.0, q.PriceChange())
	assert.Equal(t, 25.0, q.PercentChange())

	zero := &Quote{StartPrice: 0, CurrentPrice: 50}
	assert.Equal(t, 0.0, zero.PercentChange())
}

func TestDailyVolatility(t *testing.T) {
	// Returns +10% then -10%: mean 0, sample stddev 0.1*sqrt(2) as percent.
	assert.InDelta(t, 14.1421, dailyVolatility([]float64{100, 110, 99}), 0.001)

	assert.Zero(t, dailyVolatility([]float64{100, 110}))
	assert.Zero(t, dailyVolatility(nil))
}

func TestCompanyNameFallbacks(t *testing.T) {
	assert.Equal(t, "Long Name", companyName("Long Name", "Short", "SYM"))
	assert.Equal(t, "Short", companyName("", "Short", "SYM"))
	assert.Equal(t, "SYM", companyName("", "", "SYM"))
}
