package models

import "time"

type FundStatus string

const (
	FundPending     FundStatus = "PENDING"
	FundApproved    FundStatus = "APPROVED"
	FundDistributed FundStatus = "DISTRIBUTED"
	FundRejected    FundStatus = "REJECTED"
)

// FundPool is a bounded custodial allocation tied to one verified event.
// Amounts are minor currency units.
type FundPool struct {
	ID          int64
	EventID     int64
	TotalAmount int64
	Distributed int64
	Status      FundStatus
	ApprovedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (f *FundPool) Remaining() int64 {
	return f.TotalAmount - f.Distributed
}

type Distribution struct {
	ID            int64
	FundID        int64
	Recipient     string
	Amount        int64
	TransferRef   string // custody transfer reference handed to settlement
	DistributedBy string
	CreatedAt     time.Time
}
