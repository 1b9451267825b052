// Package market fetches historical price data from Yahoo Finance's public
// chart API and derives the summary metrics the research tools report.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is Yahoo's public chart endpoint host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// validPeriods mirrors the ranges the chart API accepts.
var validPeriods = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

// PricePoint is one daily observation.
type PricePoint struct {
	Date   string  `json:"date"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Quote holds a symbol's history over a period plus derived metrics.
type Quote struct {
	Symbol        string       `json:"symbol"`
	CompanyName   string       `json:"company_name"`
	Period        string       `json:"period"`
	CurrentPrice  float64      `json:"current_price"`
	StartPrice    float64      `json:"start_price"`
	HighPrice     float64      `json:"high_price"`
	LowPrice      float64      `json:"low_price"`
	AverageVolume float64      `json:"average_volume"`
	Volatility    float64      `json:"volatility"`
	Points        []PricePoint `json:"points"`
}

// PriceChange is the absolute move over the period.
func (q *Quote) PriceChange() float64 {
	return q.CurrentPrice - q.StartPrice
}

// PercentChange is the relative move over the period.
func (q *Quote) PercentChange() float64 {
	if q.StartPrice == 0 {
		return 0
	}
	return (q.CurrentPrice - q.StartPrice) / q.StartPrice * 100
}

// Client queries the Yahoo chart API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a market client against the public endpoint.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    DefaultBaseURL,
	}
}

// NewClientWithBaseURL points the client at an alternate host, used by tests.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// chartResponse mirrors the slice of the v8 chart payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// History fetches daily bars for symbol over period and computes the quote
// metrics. Period must be one of the chart API ranges (1d through max).
func (c *Client) History(ctx context.Context, symbol, period string) (*Quote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is empty")
	}
	if period == "" {
		period = "1y"
	}
	if !validPeriods[period] {
		return nil, fmt.Errorf("invalid period %q", period)
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d", c.baseURL, symbol, period)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Yahoo rejects requests without a browser-like agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo finance http %d", resp.StatusCode)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo finance: %s", parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data found for symbol %s", symbol)
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no data found for symbol %s", symbol)
	}
	bars := result.Indicators.Quote[0]

	quote := &Quote{
		Symbol:      symbol,
		CompanyName: companyName(result.Meta.LongName, result.Meta.ShortName, symbol),
		Period:      period,
	}

	// Holidays come back as nulls; skip those rows like a dropna would.
	var closes []float64
	for i, ts := range result.Timestamp {
		if i >= len(bars.Close) || bars.Close[i] == nil {
			continue
		}
		point := PricePoint{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Price: *bars.Close[i],
		}
		if i < len(bars.Volume) && bars.Volume[i] != nil {
			point.Volume = *bars.Volume[i]
		}
		quote.Points = append(quote.Points, point)
		closes = append(closes, point.Price)
	}
	if len(quote.Points) == 0 {
		return nil, fmt.Errorf("no data found for symbol %s", symbol)
	}

	quote.StartPrice = quote.Points[0].Price
	quote.CurrentPrice = quote.Points[len(quote.Points)-1].Price

	quote.HighPrice = highest(bars.High)
	quote.LowPrice = lowest(bars.Low)
	if quote.HighPrice == 0 {
		quote.HighPrice = highestOf(closes)
	}
	if quote.LowPrice == 0 {
		quote.LowPrice = lowestOf(closes)
	}

	var volumeSum float64
	var volumeCount int
	for _, p := range quote.Points {
		if p.Volume > 0 {
			volumeSum += p.Volume
			volumeCount++
		}
	}
	if volumeCount > 0 {
		quote.AverageVolume = volumeSum / float64(volumeCount)
	}

	quote.Volatility = dailyVolatility(closes)

	return quote, nil
}

func companyName(longName, shortName, symbol string) string {
	if longName != "" {
		return longName
	}
	if shortName != "" {
		return shortName
	}
	return symbol
}

func highest(values []*float64) float64 {
	max := 0.0
	for _, v := range values {
		if v != nil && *v > max {
			max = *v
		}
	}
	return max
}

func lowest(values []*float64) float64 {
	min := math.Inf(1)
	for _, v := range values {
		if v != nil && *v < min {
			min = *v
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

func highestOf(values []float64) float64 {
	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

func lowestOf(values []float64) float64 {
	min := math.Inf(1)
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

// dailyVolatility is the sample standard deviation of day-over-day returns,
// in percent.
func dailyVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq/float64(len(returns)-1)) * 100
}
