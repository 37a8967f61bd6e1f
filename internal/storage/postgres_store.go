package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/totem-tech/messaging/internal/config"
)

// NewPostgresPool creates a pgx connection pool from config and verifies the
// connection.
func NewPostgresPool(cfg *config.PostgresConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore persists one collection in the shared collections table.
// Insertion order is preserved through a sequence column that upserts keep.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore creates a store for the named collection.
func NewPostgresStore(pool *pgxpool.Pool, name string) *PostgresStore {
	return &PostgresStore{pool: pool, name: name}
}

// Get returns the value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	query := `SELECT value FROM collections WHERE collection = $1 AND key = $2`

	var value []byte
	err := s.pool.QueryRow(ctx, query, s.name, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", s.name, key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value for key.
func (s *PostgresStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	query := `
		INSERT INTO collections (collection, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value
	`

	if _, err := s.pool.Exec(ctx, query, s.name, key, []byte(value)); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", s.name, key, err)
	}
	return nil
}

// Delete removes the key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM collections WHERE collection = $1 AND key = $2`

	if _, err := s.pool.Exec(ctx, query, s.name, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", s.name, key, err)
	}
	return nil
}

// GetAll returns all entries in insertion order.
func (s *PostgresStore) GetAll(ctx context.Context) ([]Entry, error) {
	query := `SELECT key, value FROM collections WHERE collection = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.name, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", s.name, err)
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", s.name, err)
	}
	return entries, nil
}

// Search returns entries matching the criteria.
func (s *PostgresStore) Search(ctx context.Context, criteria map[string]string, opts SearchOptions) ([]Entry, error) {
	entries, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return searchEntries(entries, criteria, opts)
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresStore) Close() error {
	return nil
}
