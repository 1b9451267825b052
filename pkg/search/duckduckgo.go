// Package search provides the live web lookup capability, scraping
// DuckDuckGo's lite HTML interface. The lite page is stable enough for
// regex extraction and needs no API key.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultEndpoint is the lite HTML interface, more stable for scraping than
// the full site.
const DefaultEndpoint = "https://lite.duckduckgo.com/lite/"

// rateLimit enforces a global limit of 1 query per second across all
// DuckDuckGo instances and goroutines.
var rateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// DuckDuckGo scrapes the lite HTML endpoint.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
}

// NewDuckDuckGo creates a searcher with a modest timeout.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: DefaultEndpoint,
	}
}

// NewDuckDuckGoWithClient creates a searcher using the supplied HTTP client
// and endpoint. Used to point the searcher at a test server or proxy.
func NewDuckDuckGoWithClient(client *http.Client, endpoint string) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &DuckDuckGo{client: client, endpoint: endpoint}
}

// Search scrapes the result page for the query. limit caps the number of
// returned hits; values below 1 fall back to 5.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if limit < 1 {
		limit = 5
	}

	if err := d.throttle(ctx); err != nil {
		return nil, err
	}

	formData := url.Values{}
	formData.Set("q", query)

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(formData.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		// Back off and retry on 429, doubling the delay each time up to 30 s.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseResults(string(body), limit), nil
}

// throttle blocks until the global 1 QPS window allows another request.
func (d *DuckDuckGo) throttle(ctx context.Context) error {
	rateLimit.mu.Lock()
	if wait := time.Until(rateLimit.last.Add(time.Second)); wait > 0 {
		rateLimit.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		rateLimit.mu.Lock()
	}
	rateLimit.last = time.Now()
	rateLimit.mu.Unlock()
	return nil
}

// Result links look like <a rel="nofollow" href="URL" class='result-link'>TITLE</a>;
// snippets sit in <td class="result-snippet"> cells.
var (
	linkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	linkPatternAlt = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	snippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)
	anyLinkPattern = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
)

// parseResults extracts search results from the lite HTML page.
func parseResults(html string, limit int) []Result {
	var results []Result

	matches := linkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = linkPatternAlt.FindAllStringSubmatch(html, -1)
	}

	snippetMatches := snippetPattern.FindAllStringSubmatch(html, -1)

	for i, match := range matches {
		if len(match) < 3 {
			continue
		}

		urlStr := strings.TrimSpace(match[1])
		title := cleanHTML(strings.TrimSpace(match[2]))

		snippet := ""
		if i < len(snippetMatches) && len(snippetMatches[i]) > 1 {
			snippet = cleanHTML(snippetMatches[i][1])
		}

		// Skip ad results or empty results
		if urlStr == "" || title == "" {
			continue
		}

		results = append(results, Result{
			Title:   title,
			Snippet: snippet,
			URL:     urlStr,
		})

		if len(results) >= limit {
			break
		}
	}

	// The lite markup shifts occasionally; fall back to plain link scraping
	// before giving up.
	if len(results) == 0 {
		results = fallbackParse(html, limit)
	}

	return results
}

// fallbackParse collects external links when the class-based patterns find
// nothing.
func fallbackParse(html string, limit int) []Result {
	var results []Result

	matches := anyLinkPattern.FindAllStringSubmatch(html, -1)

	seen := make(map[string]bool)
	for _, match := range matches {
		if len(match) < 3 {
			continue
		}

		urlStr := strings.TrimSpace(match[1])
		title := cleanHTML(strings.TrimSpace(match[2]))

		// Skip DuckDuckGo internal links
		if strings.Contains(urlStr, "duckduckgo.com") ||
			strings.HasPrefix(urlStr, "/") ||
			strings.HasPrefix(urlStr, "#") ||
			strings.HasPrefix(urlStr, "javascript:") {
			continue
		}

		// Skip if title is too short or looks like navigation
		if len(title) < 5 {
			continue
		}

		if seen[urlStr] {
			continue
		}
		seen[urlStr] = true

		results = append(results, Result{
			Title: title,
			URL:   urlStr,
		})

		if len(results) >= limit {
			break
		}
	}

	return results
}

// cleanHTML removes HTML tags and decodes common entities.
func cleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")

	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")

	return strings.TrimSpace(s)
}
