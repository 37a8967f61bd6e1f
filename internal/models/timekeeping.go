package models

import "time"

// TimeKeepingEntry records time worked against a project, keyed by its hash.
// Once Approved is set the entry is immutable.
type TimeKeepingEntry struct {
	Hash        string    `json:"hash"`
	Address     string    `json:"address"`
	ProjectHash string    `json:"projectHash"`
	BlockStart  uint64    `json:"blockStart"`
	BlockEnd    uint64    `json:"blockEnd"`
	RateAmount  float64   `json:"rateAmount"`
	RateUnit    string    `json:"rateUnit"`
	RatePeriod  uint64    `json:"ratePeriod"`
	BlockCount  uint64    `json:"blockCount"`
	Duration    string    `json:"duration"`
	TotalAmount float64   `json:"totalAmount"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UpdatedBy   string    `json:"updatedBy"`
}
