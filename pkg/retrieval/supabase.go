// Package retrieval implements semantic search over the private document
// index. Chunks live in a Supabase table with pgvector embeddings; lookups go
// through the match_chunks RPC so ranking stays server side.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMatchCount is how many chunks a query returns when the caller does
// not ask for a specific number.
const DefaultMatchCount = 5

// DefaultQueryFunction is the Postgres RPC that performs the vector match.
const DefaultQueryFunction = "match_chunks"

// Embedder turns text into an embedding vector. The OpenAI embedder in
// pkg/llm/openailm satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Document is one matched chunk.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Source   string         `json:"source"`
}

// Store queries the Supabase vector index.
type Store struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	queryFunction string
	embedder      Embedder
}

// NewStore creates a store for the given Supabase project URL and service
// key. queryFunction falls back to match_chunks when empty.
func NewStore(baseURL, apiKey, queryFunction string, embedder Embedder) (*Store, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("supabase url is empty")
	}
	if apiKey == "" {
		return nil, errors.New("supabase api key is empty")
	}
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if queryFunction == "" {
		queryFunction = DefaultQueryFunction
	}
	return &Store{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       baseURL,
		apiKey:        apiKey,
		queryFunction: queryFunction,
		embedder:      embedder,
	}, nil
}

// SetHTTPClient swaps the underlying HTTP client, used by tests.
func (s *Store) SetHTTPClient(client *http.Client) {
	if client != nil {
		s.httpClient = client
	}
}

type matchRequest struct {
	QueryEmbedding []float64 `json:"query_embedding"`
	MatchCount     int       `json:"match_count"`
}

type matchRow struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// Search embeds the query and returns the k best-matching chunks. k values
// below 1 fall back to DefaultMatchCount.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if k < 1 {
		k = DefaultMatchCount
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	body, err := json.Marshal(matchRequest{QueryEmbedding: embedding, MatchCount: k})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", s.baseURL, s.queryFunction)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supabase http %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var rows []matchRow
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode vector search response: %w", err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc := Document{
			Content:  row.Content,
			Metadata: row.Metadata,
			Source:   "Unknown",
		}
		if src, ok := row.Metadata["source"].(string); ok && src != "" {
			doc.Source = src
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
