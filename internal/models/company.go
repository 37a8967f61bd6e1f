package models

import "time"

// Company is keyed by its wallet address. Uniqueness is also enforced on the
// exact (name, registration number, country) triple.
type Company struct {
	WalletAddress      string    `json:"walletAddress"`
	Name               string    `json:"name"`
	Country            string    `json:"country"`
	RegistrationNumber string    `json:"registrationNumber"`
	CreatedAt          time.Time `json:"createdAt"`
}
