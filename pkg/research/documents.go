package research

import (
	"context"
	"fmt"

	"scholar/pkg/api"
	"scholar/pkg/tools"
)

type searchDocumentsArgs struct {
	Query      string `json:"query" jsonschema_description:"The search query to find relevant document chunks"`
	NumResults int    `json:"num_results,omitempty" jsonschema:"default=5" jsonschema_description:"Number of relevant chunks to retrieve (default: 5)"`
}

// SearchDocuments queries the private document index. Its payload carries a
// sources list the aggregator folds into the citation footer.
type SearchDocuments struct {
	docs     DocumentSearcher
	defaultK int
	params   map[string]any
	required []string
}

// NewSearchDocuments builds the document search tool. defaultK is the chunk
// count used when the model omits num_results; values below 1 mean 5.
func NewSearchDocuments(docs DocumentSearcher, defaultK int) *SearchDocuments {
	if defaultK < 1 {
		defaultK = 5
	}
	params, required := tools.ReflectParameters(searchDocumentsArgs{})
	return &SearchDocuments{docs: docs, defaultK: defaultK, params: params, required: required}
}

func (t *SearchDocuments) Name() string {
	return "search_documents"
}

func (t *SearchDocuments) Description() string {
	return "Search through the PDF document database for relevant information about ML/AI topics"
}

func (t *SearchDocuments) Parameters() map[string]any {
	return t.params
}

func (t *SearchDocuments) RequiredParameters() []string {
	return t.required
}

func (t *SearchDocuments) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed searchDocumentsArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.NumResults < 1 {
		parsed.NumResults = t.defaultK
	}

	docs, err := t.docs.Search(ctx, parsed.Query, parsed.NumResults)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}

	results := make([]map[string]any, 0, len(docs))
	var sources []string
	seen := make(map[string]bool)
	for _, doc := range docs {
		results = append(results, map[string]any{
			"content":  doc.Content,
			"metadata": doc.Metadata,
			"source":   doc.Source,
		})
		if doc.Source != "" && doc.Source != "Unknown" && !seen[doc.Source] {
			seen[doc.Source] = true
			sources = append(sources, doc.Source)
		}
	}

	return &api.ToolResult{
		Payload: map[string]any{
			"results":     results,
			"sources":     sources,
			"total_found": len(results),
			"query":       parsed.Query,
		},
		Details: map[string]any{"documents": len(results)},
	}, nil
}
