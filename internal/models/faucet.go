package models

import "time"

// FaucetRequestStatus is the explicit request state. Legal transitions are
// InProgress -> Funded and InProgress -> Failed.
type FaucetRequestStatus string

const (
	FaucetInProgress FaucetRequestStatus = "in_progress"
	FaucetFunded     FaucetRequestStatus = "funded"
	FaucetFailed     FaucetRequestStatus = "failed"
)

// FaucetRequest is one entry in a user's ordered request history.
type FaucetRequest struct {
	Address   string              `json:"address"`
	Timestamp time.Time           `json:"timestamp"`
	Status    FaucetRequestStatus `json:"status"`
	TxHash    string              `json:"txHash,omitempty"`
}

// FaucetHistory is the per-user ordered list of faucet requests, oldest first,
// trimmed to the configured request limit.
type FaucetHistory struct {
	Requests []FaucetRequest `json:"requests"`
}
