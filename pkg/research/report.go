package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"scholar/pkg/api"
	"scholar/pkg/tools"
)

type reportArgs struct {
	DocumentResults map[string]any `json:"document_results" jsonschema_description:"Results from document search"`
	WebResults      map[string]any `json:"web_results" jsonschema_description:"Results from web search"`
	ComparisonData  map[string]any `json:"comparison_data,omitempty" jsonschema_description:"Optional comparison analysis data"`
}

// Report merges document, web and comparison findings into one markdown
// document.
type Report struct {
	params   map[string]any
	required []string
}

func NewReport() *Report {
	params, required := tools.ReflectParameters(reportArgs{})
	return &Report{params: params, required: required}
}

func (t *Report) Name() string {
	return "synthesize_research_report"
}

func (t *Report) Description() string {
	return "Create a comprehensive report from document and web search results"
}

func (t *Report) Parameters() map[string]any {
	return t.params
}

func (t *Report) RequiredParameters() []string {
	return t.required
}

func (t *Report) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	var parsed reportArgs
	if err := tools.DecodeArgs(args, &parsed); err != nil {
		return nil, err
	}

	var sections []string
	sections = append(sections, "# 📊 Comprehensive Research Report")
	sections = append(sections, fmt.Sprintf("*Generated on %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	docResults := resultEntries(parsed.DocumentResults)
	if len(docResults) > 0 {
		sections = append(sections, "## 📚 Document Database Findings")
		sections = append(sections, fmt.Sprintf("Found %d relevant documents.", len(docResults)))
		for i, entry := range docResults {
			if i >= 3 {
				break
			}
			source := stringEntry(entry, "source")
			if source == "" {
				source = "Unknown"
			}
			sections = append(sections, fmt.Sprintf("**%d. %s**", i+1, source))
			sections = append(sections, previewText(stringEntry(entry, "content"), 200))
			sections = append(sections, "")
		}
	}

	webResults := resultEntries(parsed.WebResults)
	if len(webResults) > 0 {
		sections = append(sections, "## 🌐 Current Web Information")
		sections = append(sections, fmt.Sprintf("Found %d current sources.", len(webResults)))
		for i, entry := range webResults {
			if i >= 3 {
				break
			}
			sections = append(sections, fmt.Sprintf("**%d. %s**", i+1, stringEntry(entry, "title")))
			sections = append(sections, stringEntry(entry, "snippet"))
			sections = append(sections, fmt.Sprintf("*Source: %s*", stringEntry(entry, "url")))
			sections = append(sections, "")
		}
	}

	if analysis, ok := parsed.ComparisonData["analysis"].(string); ok && analysis != "" {
		sections = append(sections, "## ⚖️ Performance Analysis")
		sections = append(sections, analysis)
	}

	// Sources section: document names first, then every web URL, deduped.
	sourceSet := make(map[string]bool)
	for _, src := range stringEntries(parsed.DocumentResults, "sources") {
		sourceSet[src] = true
	}
	for _, entry := range webResults {
		if url := stringEntry(entry, "url"); url != "" {
			sourceSet[url] = true
		}
	}
	if len(sourceSet) > 0 {
		allSources := make([]string, 0, len(sourceSet))
		for src := range sourceSet {
			allSources = append(allSources, src)
		}
		sort.Strings(allSources)
		sections = append(sections, "## 🔗 Sources")
		for _, src := range allSources {
			sections = append(sections, fmt.Sprintf("- %s", src))
		}
	}

	return &api.ToolResult{
		Payload: map[string]any{
			"report": strings.Join(sections, "\n"),
		},
	}, nil
}

// resultEntries digs the results list out of a prior tool payload; the model
// may echo it either as the raw payload or wrapped in the success envelope.
func resultEntries(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}
	raw, ok := payload["results"]
	if !ok {
		if data, isMap := payload["data"].(map[string]any); isMap {
			return resultEntries(data)
		}
		return nil
	}
	switch list := raw.(type) {
	case []map[string]any:
		return list
	case []any:
		entries := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, isMap := item.(map[string]any); isMap {
				entries = append(entries, m)
			}
		}
		return entries
	}
	return nil
}

func stringEntry(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringEntries(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key]
	if !ok {
		if data, isMap := payload["data"].(map[string]any); isMap {
			return stringEntries(data, key)
		}
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, isStr := item.(string); isStr && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func previewText(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
