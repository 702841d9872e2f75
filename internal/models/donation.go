package models

import "time"

type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationConfirmed DonationStatus = "CONFIRMED"
)

type Donation struct {
	ID             int64
	EventID        int64
	Donor          string
	Amount         int64
	Purpose        string
	Status         DonationStatus
	LedgerVerified bool
	CreatedAt      time.Time
}
