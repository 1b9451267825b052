// Package research implements the capability tools the assistant can call
// while answering a question: document retrieval, web search, metric
// extraction, comparisons, chart rendering, report synthesis and market
// data. Each tool satisfies api.Tool and declares its parameter schema from
// a typed argument struct.
package research

import (
	"context"

	"scholar/pkg/api"
	"scholar/pkg/market"
	"scholar/pkg/retrieval"
	"scholar/pkg/search"
)

// DocumentSearcher finds chunks in the private document index.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Document, error)
}

// WebSearcher runs a live web query.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// MarketData fetches historical quotes for a symbol.
type MarketData interface {
	History(ctx context.Context, symbol, period string) (*market.Quote, error)
}

// FriendlyNames maps tool identifiers to the display names shown in the
// answer footer. Unmapped tools render under their raw name.
var FriendlyNames = map[string]string{
	"search_documents":              "📚 Document Search",
	"search_web":                    "🌐 Web Search",
	"extract_performance_metrics":   "📊 Performance Analysis",
	"create_performance_comparison": "⚖️ Performance Comparison",
	"create_performance_chart":      "📈 Chart Generation",
	"synthesize_research_report":    "📋 Report Synthesis",
	"get_financial_data":            "💹 Financial Data",
	"compare_financial_assets":      "🏦 Asset Comparison",
}

// FriendlyName resolves a display name for a tool identifier.
func FriendlyName(tool string) string {
	if name, ok := FriendlyNames[tool]; ok {
		return name
	}
	return tool
}

// Options selects the providers behind the toolkit. Nil providers leave
// their tools out so an unconfigured capability never gets advertised to
// the model.
type Options struct {
	Documents DocumentSearcher
	Web       WebSearcher
	Market    MarketData
	// MatchCount and WebResultLimit are the result counts used when the
	// model omits num_results. Values below 1 mean 5.
	MatchCount     int
	WebResultLimit int
	// MetricPatterns overrides the built-in extraction regexes.
	MetricPatterns map[string]string
}

// Toolkit assembles the full tool set in registration order.
func Toolkit(opts Options) ([]api.Tool, error) {
	extract, err := NewExtractMetricsWithPatterns(opts.MetricPatterns)
	if err != nil {
		return nil, err
	}

	var toolkit []api.Tool
	if opts.Documents != nil {
		toolkit = append(toolkit, NewSearchDocuments(opts.Documents, opts.MatchCount))
	}
	if opts.Web != nil {
		toolkit = append(toolkit, NewSearchWeb(opts.Web, opts.WebResultLimit))
	}
	toolkit = append(toolkit,
		extract,
		NewComparison(),
		NewChart(),
		NewReport(),
	)
	if opts.Market != nil {
		toolkit = append(toolkit, NewFinancialData(opts.Market), NewCompareAssets(opts.Market))
	}
	return toolkit, nil
}
