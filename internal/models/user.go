// Package models provides the data models persisted by the messaging server.
package models

import "time"

// User represents a registered identity. The record is created at registration
// and never deleted in normal operation; live connections are tracked by the
// session registry, only the online flag is mirrored here.
type User struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"secretHash"`
	Online     bool      `json:"online"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Handle length limits. The upper bound is exclusive.
const (
	HandleMinLen = 3
	HandleMaxLen = 16
)
