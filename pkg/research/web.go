package research

import (
	"context"
	"fmt"

	"scholar/pkg/api"
	"scholar/pkg/tools"
)

type searchWebArgs struct {
	Query      string `json:"query" jsonschema_description:"The search query for current information"`
	NumResults int    `json:"num_results,omitempty" jsonschema:"default=5" jsonschema_description:"Number of search results to return (default: 5)"`
}

// SearchWeb runs a live web lookup. Result URLs become web citations.
type SearchWeb struct {
	web      WebSearcher
	defaultK int
	params   map[string]any
	required []string
}

// NewSearchWeb builds the web search tool. defaultK is the hit count used
// when the model omits num_results; values below 1 mean 5.
func NewSearchWeb(web WebSearcher, defaultK int) *SearchWeb {
	if defaultK < 1 {
		defaultK = 5
	}
	params, required := tools.ReflectParameters(searchWebArgs{})
	return &SearchWeb{web: web, defaultK: defaultK, params: params, required: required}
}

func (t *SearchWeb) Name() string {
	return "search_web"
}

func (t *SearchWeb) Description() string {
	return "Search the web for current information about AI/ML topics, latest research, benchmarks"
}

func (t *SearchWeb) Parameters() map[string]any {
	return t.params
}

func (t *SearchWeb) RequiredParameters() []string {
	return t.required
}

func (t *SearchWeb) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed searchWebArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.NumResults < 1 {
		parsed.NumResults = t.defaultK
	}

	hits, err := t.web.Search(ctx, parsed.Query, parsed.NumResults)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	results := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]any{
			"title":   hit.Title,
			"snippet": hit.Snippet,
			"url":     hit.URL,
			"source":  "Web Search",
		})
	}

	return &api.ToolResult{
		Payload: map[string]any{
			"results":     results,
			"total_found": len(results),
			"query":       parsed.Query,
			"search_type": "web",
		},
	}, nil
}
