package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Item is a decoded collection entry.
type Item[T any] struct {
	Key   string
	Value T
}

// Collection is a typed view over a Store. It owns the JSON encoding so
// domain services never touch raw messages.
type Collection[T any] struct {
	store Store
}

// NewCollection wraps a store with a typed codec.
func NewCollection[T any](store Store) *Collection[T] {
	return &Collection[T]{store: store}
}

// Get returns the decoded value for key.
func (c *Collection[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("failed to decode entry %q: %w", key, err)
	}
	return value, true, nil
}

// Set encodes and stores the value under key.
func (c *Collection[T]) Set(ctx context.Context, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode entry %q: %w", key, err)
	}
	return c.store.Set(ctx, key, raw)
}

// Delete removes the key.
func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// All returns every entry decoded, in insertion order.
func (c *Collection[T]) All(ctx context.Context) ([]Item[T], error) {
	entries, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEntries[T](entries)
}

// Search returns decoded entries matching the criteria.
func (c *Collection[T]) Search(ctx context.Context, criteria map[string]string, opts SearchOptions) ([]Item[T], error) {
	entries, err := c.store.Search(ctx, criteria, opts)
	if err != nil {
		return nil, err
	}
	return decodeEntries[T](entries)
}

// decodeEntries decodes raw entries into typed items.
func decodeEntries[T any](entries []Entry) ([]Item[T], error) {
	items := make([]Item[T], 0, len(entries))
	for _, entry := range entries {
		var value T
		if err := json.Unmarshal(entry.Value, &value); err != nil {
			return nil, fmt.Errorf("failed to decode entry %q: %w", entry.Key, err)
		}
		items = append(items, Item[T]{Key: entry.Key, Value: value})
	}
	return items, nil
}
