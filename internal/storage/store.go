// Package storage provides the key/value store backing every domain
// collection, with file, Redis and Postgres backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one key/value pair of a collection. Values are raw JSON so the
// store stays agnostic of domain types.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// SearchOptions controls field matching behaviour.
type SearchOptions struct {
	// MatchExact requires whole-value equality instead of substring matching.
	MatchExact bool
	// MatchAll requires every criteria field to match instead of any.
	MatchAll bool
	// IgnoreCase makes comparisons case-insensitive.
	IgnoreCase bool
}

// Store is a persistent ordered mapping for one collection.
//
// Durability is best-effort for the file backend: persistence failures are
// logged and the in-memory state keeps serving, so callers must not assume a
// returned Set has hit disk.
type Store interface {
	// Get returns the value for key, with found=false when absent.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Set inserts or replaces the value for key, preserving insertion order.
	Set(ctx context.Context, key string, value json.RawMessage) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// GetAll returns all entries in insertion order.
	GetAll(ctx context.Context) ([]Entry, error)
	// Search returns entries whose values match the criteria over the given
	// top-level fields.
	Search(ctx context.Context, criteria map[string]string, opts SearchOptions) ([]Entry, error)
	// Close releases backend resources.
	Close() error
}

// searchEntries applies criteria matching to a list of entries. Shared by all
// backends so search semantics never drift between them.
func searchEntries(entries []Entry, criteria map[string]string, opts SearchOptions) ([]Entry, error) {
	if len(criteria) == 0 {
		return nil, fmt.Errorf("search criteria must not be empty")
	}

	var matches []Entry
	for _, entry := range entries {
		var fields map[string]interface{}
		if err := json.Unmarshal(entry.Value, &fields); err != nil {
			// Non-object values can never match field criteria.
			continue
		}
		if matchFields(fields, criteria, opts) {
			matches = append(matches, entry)
		}
	}
	return matches, nil
}

// matchFields evaluates the criteria against one decoded value.
func matchFields(fields map[string]interface{}, criteria map[string]string, opts SearchOptions) bool {
	for field, want := range criteria {
		got, ok := fields[field]
		matched := ok && matchValue(fmt.Sprintf("%v", got), want, opts)

		if opts.MatchAll && !matched {
			return false
		}
		if !opts.MatchAll && matched {
			return true
		}
	}
	return opts.MatchAll
}

// matchValue compares a single field value against the wanted text.
func matchValue(got, want string, opts SearchOptions) bool {
	if opts.IgnoreCase {
		got = strings.ToLower(got)
		want = strings.ToLower(want)
	}
	if opts.MatchExact {
		return got == want
	}
	return strings.Contains(got, want)
}
