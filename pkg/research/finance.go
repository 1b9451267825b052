package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"scholar/pkg/api"
	"scholar/pkg/market"
	"scholar/pkg/tools"
)

type financialDataArgs struct {
	Symbol   string `json:"symbol" jsonschema_description:"Stock or crypto ticker symbol (e.g. TSLA, BTC)"`
	Period   string `json:"period,omitempty" jsonschema:"default=1y" jsonschema_description:"Time period: 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max"`
	DataType string `json:"data_type,omitempty" jsonschema:"default=stock" jsonschema_description:"Type of financial instrument: stock or crypto"`
}

// FinancialData fetches price history for one symbol and reports derived
// metrics with a markdown analysis.
type FinancialData struct {
	quotes   MarketData
	params   map[string]any
	required []string
}

func NewFinancialData(quotes MarketData) *FinancialData {
	params, required := tools.ReflectParameters(financialDataArgs{})
	return &FinancialData{quotes: quotes, params: params, required: required}
}

func (t *FinancialData) Name() string {
	return "get_financial_data"
}

func (t *FinancialData) Description() string {
	return "Fetch price history and performance metrics for a stock or cryptocurrency from Yahoo Finance"
}

func (t *FinancialData) Parameters() map[string]any {
	return t.params
}

func (t *FinancialData) RequiredParameters() []string {
	return t.required
}

func (t *FinancialData) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed financialDataArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Period == "" {
		parsed.Period = "1y"
	}
	if parsed.DataType == "" {
		parsed.DataType = "stock"
	}

	symbol := normalizeSymbol(parsed.Symbol, parsed.DataType)
	quote, err := t.quotes.History(ctx, symbol, parsed.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch financial data: %w", err)
	}

	return &api.ToolResult{
		Payload: quotePayload(quote, parsed.DataType),
	}, nil
}

// normalizeSymbol appends the USD pair suffix for crypto tickers.
func normalizeSymbol(symbol, dataType string) string {
	symbol = strings.TrimSpace(symbol)
	if strings.EqualFold(dataType, "crypto") && !strings.Contains(strings.ToUpper(symbol), "-USD") {
		return strings.ToUpper(symbol) + "-USD"
	}
	return symbol
}

func quotePayload(q *market.Quote, dataType string) map[string]any {
	return map[string]any{
		"symbol":            q.Symbol,
		"company_name":      q.CompanyName,
		"data_type":         dataType,
		"period":            q.Period,
		"current_price":     q.CurrentPrice,
		"start_price":       q.StartPrice,
		"price_change":      q.PriceChange(),
		"percentage_change": q.PercentChange(),
		"high_price":        q.HighPrice,
		"low_price":         q.LowPrice,
		"average_volume":    q.AverageVolume,
		"data_points":       len(q.Points),
		"volatility":        q.Volatility,
		"analysis_text":     quoteAnalysis(q),
		"metrics": map[string]any{
			"current_price":     q.CurrentPrice,
			"percentage_change": q.PercentChange(),
			"volatility":        q.Volatility,
			"volume_avg":        q.AverageVolume,
		},
	}
}

func quoteAnalysis(q *market.Quote) string {
	pct := q.PercentChange()

	trend := "🟡 Neutral"
	if pct > 0 {
		trend = "🟢 Positive growth"
	} else if pct < 0 {
		trend = "🔴 Decline"
	}

	direction := "lost"
	if pct > 0 {
		direction = "gained"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## 📈 **%s (%s)** - Financial Analysis\n\n", q.CompanyName, q.Symbol)
	b.WriteString("### **Key Performance Metrics**\n\n")
	b.WriteString("| Metric | Value | Analysis |\n")
	b.WriteString("|--------|-------|----------|\n")
	fmt.Fprintf(&b, "| **Current Price** | $%.2f | Latest trading price |\n", q.CurrentPrice)
	fmt.Fprintf(&b, "| **Start Price (%s)** | $%.2f | Price at beginning of period |\n", q.Period, q.StartPrice)
	fmt.Fprintf(&b, "| **Price Change** | $%.2f | Absolute price movement |\n", q.PriceChange())
	fmt.Fprintf(&b, "| **Percentage Change** | **%+.2f%%** | %s |\n", pct, trend)
	fmt.Fprintf(&b, "| **Period High** | $%.2f | Peak price in period |\n", q.HighPrice)
	fmt.Fprintf(&b, "| **Period Low** | $%.2f | Lowest price in period |\n", q.LowPrice)
	fmt.Fprintf(&b, "| **Average Volume** | %s shares | Daily trading activity |\n", groupThousands(q.AverageVolume))
	fmt.Fprintf(&b, "| **Volatility** | %.2f%% | Price fluctuation measure |\n", q.Volatility)

	b.WriteString("\n### **Performance Summary**\n")
	fmt.Fprintf(&b, "Over the past %s, **%s** has %s **%.2f%%** in value. The asset has traded in a range from **$%.2f** to **$%.2f**, showing %s volatility.\n",
		q.Period, q.CompanyName, direction, abs(pct), q.LowPrice, q.HighPrice, volatilityWord(q.Volatility))

	b.WriteString("\n### **Recent Price Action**\n")
	fmt.Fprintf(&b, "- **Current Level**: $%.2f\n", q.CurrentPrice)
	if q.HighPrice > 0 {
		fmt.Fprintf(&b, "- **Distance from High**: %.1f%% below peak\n", (q.HighPrice-q.CurrentPrice)/q.HighPrice*100)
	}
	if q.LowPrice > 0 {
		fmt.Fprintf(&b, "- **Distance from Low**: %.1f%% above trough\n", (q.CurrentPrice-q.LowPrice)/q.LowPrice*100)
	}
	fmt.Fprintf(&b, "- **Trading Volume**: %s volume suggests %s investor interest\n", volumeWord(q.AverageVolume), interestWord(q.AverageVolume))

	return b.String()
}

type compareAssetsArgs struct {
	Symbols   []string `json:"symbols" jsonschema_description:"Symbols to compare, at least two"`
	Period    string   `json:"period,omitempty" jsonschema:"default=1y" jsonschema_description:"Time period for the comparison"`
	DataTypes []string `json:"data_types,omitempty" jsonschema_description:"Instrument type per symbol: stock or crypto"`
}

// CompareAssets ranks several symbols by performance over a period.
type CompareAssets struct {
	quotes   MarketData
	params   map[string]any
	required []string
}

func NewCompareAssets(quotes MarketData) *CompareAssets {
	params, required := tools.ReflectParameters(compareAssetsArgs{})
	return &CompareAssets{quotes: quotes, params: params, required: required}
}

func (t *CompareAssets) Name() string {
	return "compare_financial_assets"
}

func (t *CompareAssets) Description() string {
	return "Compare the performance of multiple stocks or cryptocurrencies over a period and rank them"
}

func (t *CompareAssets) Parameters() map[string]any {
	return t.params
}

func (t *CompareAssets) RequiredParameters() []string {
	return t.required
}

type assetSummary struct {
	name        string
	symbol      string
	performance float64
	volatility  float64
	current     float64
}

func (t *CompareAssets) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed compareAssetsArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Symbols) < 2 {
		return nil, errors.New("Need at least 2 symbols for comparison")
	}
	if parsed.Period == "" {
		parsed.Period = "1y"
	}
	if len(parsed.DataTypes) != len(parsed.Symbols) {
		parsed.DataTypes = make([]string, len(parsed.Symbols))
		for i := range parsed.DataTypes {
			parsed.DataTypes[i] = "stock"
		}
	}

	var assets []assetSummary
	for i, symbol := range parsed.Symbols {
		quote, err := t.quotes.History(ctx, normalizeSymbol(symbol, parsed.DataTypes[i]), parsed.Period)
		if err != nil {
			slog.Warn("⚠️ Skipping symbol in asset comparison", "symbol", symbol, "error", err)
			continue
		}
		assets = append(assets, assetSummary{
			name:        fmt.Sprintf("%s (%s)", quote.CompanyName, quote.Symbol),
			symbol:      quote.Symbol,
			performance: quote.PercentChange(),
			volatility:  quote.Volatility,
			current:     quote.CurrentPrice,
		})
	}
	if len(assets) < 2 {
		return nil, errors.New("Could not fetch data for enough symbols")
	}

	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].performance > assets[j].performance
	})

	comparison := make([]map[string]any, 0, len(assets))
	for _, asset := range assets {
		comparison = append(comparison, map[string]any{
			"name":   asset.name,
			"symbol": asset.symbol,
			"metrics": map[string]any{
				"percentage_change": asset.performance,
				"volatility":        asset.volatility,
				"current_price":     asset.current,
			},
			"performance": asset.performance,
		})
	}

	return &api.ToolResult{
		Payload: map[string]any{
			"comparison_data":  comparison,
			"period":           parsed.Period,
			"best_performer":   comparison[0],
			"worst_performer":  comparison[len(comparison)-1],
			"total_assets":     len(comparison),
			"comparison_text":  comparisonText(assets, parsed.Period),
			"analysis_summary": fmt.Sprintf("Compared %d assets over %s", len(comparison), parsed.Period),
		},
	}, nil
}

func comparisonText(assets []assetSummary, period string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## 📊 **Financial Assets Comparison** (%s)\n\n", period)
	b.WriteString("### **Performance Ranking**\n\n")
	b.WriteString("| Rank | Company | Symbol | Performance | Current Price | Volatility | Status |\n")
	b.WriteString("|------|---------|--------|-------------|---------------|------------|--------|\n")

	for i, asset := range assets {
		status := "🟡 Middle"
		if i == 0 {
			status = "🟢 Winner"
		} else if i == len(assets)-1 {
			status = "🔴 Loser"
		}
		company := strings.TrimSpace(strings.SplitN(asset.name, "(", 2)[0])
		fmt.Fprintf(&b, "| **%d** | %s | %s | **%+.2f%%** | $%.2f | %.2f%% | %s |\n",
			i+1, company, asset.symbol, asset.performance, asset.current, asset.volatility, status)
	}

	best, worst := assets[0], assets[len(assets)-1]
	var total float64
	for _, asset := range assets {
		total += asset.performance
	}
	sentiment := "Mixed sentiment"
	if total > 0 {
		sentiment = "Bullish overall"
	} else if total < 0 {
		sentiment = "Bearish overall"
	}

	b.WriteString("\n### **Key Insights**\n\n")
	fmt.Fprintf(&b, "- **🏆 Best Performer**: **%s** with **%+.2f%%** gain\n", best.name, best.performance)
	fmt.Fprintf(&b, "- **📉 Worst Performer**: **%s** with **%+.2f%%** change\n", worst.name, worst.performance)
	fmt.Fprintf(&b, "- **📊 Performance Spread**: %.2f percentage points between best and worst\n", best.performance-worst.performance)
	fmt.Fprintf(&b, "- **⚖️ Market Sentiment**: %s\n", sentiment)

	b.WriteString("\n### **Volatility Analysis**\n\n")
	b.WriteString("| Asset | Volatility | Risk Level |\n")
	b.WriteString("|-------|------------|------------|\n")
	for _, asset := range assets {
		risk := "🟢 Low Risk"
		if asset.volatility > 4 {
			risk = "🔴 High Risk"
		} else if asset.volatility > 2 {
			risk = "🟡 Medium Risk"
		}
		fmt.Fprintf(&b, "| %s | %.2f%% | %s |\n", asset.symbol, asset.volatility, risk)
	}

	fmt.Fprintf(&b, "\n**Analysis Period**: %s | **Assets Compared**: %d\n", period, len(assets))
	return b.String()
}

func volatilityWord(v float64) string {
	switch {
	case v > 3:
		return "high"
	case v > 1.5:
		return "moderate"
	default:
		return "low"
	}
}

func volumeWord(v float64) string {
	switch {
	case v > 50_000_000:
		return "Above average"
	case v > 10_000_000:
		return "Moderate"
	default:
		return "Light"
	}
}

func interestWord(v float64) string {
	switch {
	case v > 50_000_000:
		return "strong"
	case v > 10_000_000:
		return "moderate"
	default:
		return "limited"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// groupThousands renders a volume figure with comma separators.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
