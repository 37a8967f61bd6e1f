package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// CachePolicy selects how the file store balances memory against consistency.
type CachePolicy int

const (
	// CacheAll reads the backing file once and mirrors every mutation to it.
	CacheAll CachePolicy = iota
	// ReadThrough re-reads the backing file on every call. Lower memory,
	// always consistent with what is on disk.
	ReadThrough
)

// FileStore persists one collection as a JSON array of [key, value] pairs in
// a single file. A missing file is treated as an empty collection and created
// on first write.
//
// Write failures are logged, not returned: the in-memory state has already
// been updated and the next successful write persists it.
type FileStore struct {
	mu      sync.Mutex
	path    string
	policy  CachePolicy
	logger  *zap.Logger
	entries []Entry
	index   map[string]int
}

// NewFileStore opens (or creates) the collection file at path.
func NewFileStore(path string, policy CachePolicy, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		policy: policy,
		logger: logger.With(zap.String("collection", filepath.Base(path))),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	// Make sure the file exists so later re-reads cannot race its creation.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// load reads the backing file into memory.
func (s *FileStore) load() error {
	s.entries = nil
	s.index = make(map[string]int)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("failed to parse key in %s: %w", s.path, err)
		}
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, Entry{Key: key, Value: pair[1]})
	}
	return nil
}

// persist writes the whole collection atomically via a temp file rename.
func (s *FileStore) persist() error {
	pairs := make([][2]json.RawMessage, 0, len(s.entries))
	for _, entry := range s.entries {
		key, err := json.Marshal(entry.Key)
		if err != nil {
			return fmt.Errorf("failed to encode key %q: %w", entry.Key, err)
		}
		pairs = append(pairs, [2]json.RawMessage{key, entry.Value})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// refresh re-reads the file under the read-through policy.
func (s *FileStore) refresh() error {
	if s.policy != ReadThrough {
		return nil
	}
	return s.load()
}

// Get returns the value for key.
func (s *FileStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, false, err
	}
	i, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	return s.entries[i].Value, true, nil
}

// Set inserts or replaces the value for key and persists the collection.
func (s *FileStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return err
	}

	if i, ok := s.index[key]; ok {
		s.entries[i].Value = value
	} else {
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, Entry{Key: key, Value: value})
	}

	if err := s.persist(); err != nil {
		s.logger.Error("failed to persist collection", zap.Error(err))
	}
	return nil
}

// Delete removes the key and persists the collection.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return err
	}

	i, ok := s.index[key]
	if !ok {
		return nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, key)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Key] = j
	}

	if err := s.persist(); err != nil {
		s.logger.Error("failed to persist collection", zap.Error(err))
	}
	return nil
}

// GetAll returns all entries in insertion order.
func (s *FileStore) GetAll(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Search returns entries matching the criteria.
func (s *FileStore) Search(ctx context.Context, criteria map[string]string, opts SearchOptions) ([]Entry, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return searchEntries(entries, criteria, opts)
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}
