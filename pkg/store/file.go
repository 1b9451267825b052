// Package store provides the persistence backends for conversation
// histories: a flat-file store for single-node deployments and a Redis
// store for shared or ephemeral setups. Both implement llm.HistoryStore.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"scholar/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// FileStore persists each conversation as one JSON file under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	safeID := filenameSafeRegex.ReplaceAllString(key, "_")
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", safeID))
}

// Load implements llm.HistoryStore. A missing file yields (nil, nil).
func (s *FileStore) Load(_ context.Context, key string) (*llm.HistoryRecord, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history %s: %w", key, err)
	}

	var record llm.HistoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse history %s: %w", key, err)
	}
	return &record, nil
}

// Save implements llm.HistoryStore.
func (s *FileStore) Save(_ context.Context, key string, record *llm.HistoryRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history %s: %w", key, err)
	}
	if err := os.WriteFile(s.path(key), data, 0644); err != nil {
		return fmt.Errorf("failed to write history %s: %w", key, err)
	}
	return nil
}

// List implements llm.HistoryStore, returning keys newest first by file
// modification time. Keys come back in their filename-sanitized form;
// ordinary channel_chat keys survive the round trip unchanged.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history dir: %w", err)
	}

	type fileInfo struct {
		key     string
		modTime int64
	}
	var files []fileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !historyFilePattern.MatchString(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		key := historyFilePattern.FindStringSubmatch(name)[1]
		files = append(files, fileInfo{key: key, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.key
	}
	return keys, nil
}

var historyFilePattern = regexp.MustCompile(`^history_(.+)\.json$`)

// Delete implements llm.HistoryStore. Unknown keys are not an error.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history %s: %w", key, err)
	}
	return nil
}
