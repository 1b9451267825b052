// Package sources collects citation material during one research turn:
// document names, web URLs, and rendered chart artifacts. One Aggregator
// lives for exactly one turn and is shared by the concurrently executing
// tools of that turn.
package sources

import (
	"sort"
	"strings"
	"sync"
)

// WebSourceLimit caps how many distinct web URLs a single answer cites.
// The cap is enforced here, not by prompt wording, so it is testable.
const WebSourceLimit = 3

// Chart is one rendered chart artifact attached to the answer.
type Chart struct {
	Title string
	PNG   string // base64-encoded PNG bytes
}

// Aggregator accumulates the sources of one turn. Safe for concurrent use:
// tool executions of one round record from separate goroutines.
type Aggregator struct {
	mu       sync.Mutex
	docs     map[string]struct{}
	webOrder []string
	webSeen  map[string]struct{}
	charts   []Chart
}

// NewAggregator creates an empty per-turn aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		docs:    make(map[string]struct{}),
		webSeen: make(map[string]struct{}),
	}
}

// RecordDocument notes a document source. Duplicates collapse; rendering
// sorts lexicographically.
func (a *Aggregator) RecordDocument(name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs[name] = struct{}{}
}

// RecordWeb notes a web URL. Order of first appearance is kept, duplicates
// collapse, and only the first WebSourceLimit distinct URLs are retained.
func (a *Aggregator) RecordWeb(url string) {
	if url == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.webSeen[url]; seen {
		return
	}
	if len(a.webOrder) >= WebSourceLimit {
		return
	}
	a.webSeen[url] = struct{}{}
	a.webOrder = append(a.webOrder, url)
}

// RecordChart notes a rendered chart in arrival order.
func (a *Aggregator) RecordChart(title, pngBase64 string) {
	if pngBase64 == "" {
		return
	}
	if title == "" {
		title = "Chart"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charts = append(a.charts, Chart{Title: title, PNG: pngBase64})
}

// Documents returns the recorded document names, deduplicated and sorted.
func (a *Aggregator) Documents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]string, 0, len(a.docs))
	for name := range a.docs {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// WebSources returns the retained web URLs in first-appearance order.
func (a *Aggregator) WebSources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]string, len(a.webOrder))
	copy(result, a.webOrder)
	return result
}

// Charts returns the recorded chart artifacts in arrival order.
func (a *Aggregator) Charts() []Chart {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]Chart, len(a.charts))
	copy(result, a.charts)
	return result
}

// Empty reports whether nothing was recorded this turn.
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs) == 0 && len(a.webOrder) == 0 && len(a.charts) == 0
}

// Render produces the citation suffix appended to the final answer. Sections
// with nothing recorded are omitted entirely.
func (a *Aggregator) Render() string {
	var sb strings.Builder

	if docs := a.Documents(); len(docs) > 0 {
		sb.WriteString("\n\n📚 **Sources:**")
		for _, name := range docs {
			sb.WriteString("\nSource: " + name)
		}
	}

	if web := a.WebSources(); len(web) > 0 {
		sb.WriteString("\n\n🌐 **Web Sources:**")
		for _, url := range web {
			sb.WriteString("\nSource: " + url)
		}
	}

	return sb.String()
}
