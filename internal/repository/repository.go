package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrFingerprintExists = errors.New("fingerprint already processed")
	// ErrConflict means a conditional update matched no row because another
	// writer changed it first.
	ErrConflict = errors.New("concurrent modification")
	// ErrInsufficientCustody means the custody account cannot cover a debit.
	ErrInsufficientCustody = errors.New("insufficient custody balance")
	// ErrCustodyOverflow means a credit would push custody past MaxInt64.
	ErrCustodyOverflow = errors.New("custody balance overflow")
)

type EventRepository interface {
	// InsertEvent stores the event and its processed fingerprint in one
	// transaction and returns the assigned id.
	InsertEvent(ctx context.Context, e *models.DisasterEvent) (int64, error)
	GetEvent(ctx context.Context, id int64) (*models.DisasterEvent, error)
	// MarkVerified flips an unverified event to verified. It reports false
	// when no unverified event with that id exists.
	MarkVerified(ctx context.Context, id int64, by string, at time.Time) (bool, error)
	ListEvents(ctx context.Context, limit, offset int) ([]models.DisasterEvent, error)
	CountEvents(ctx context.Context) (int, error)
	ListFingerprints(ctx context.Context) ([]models.Fingerprint, error)
}

type FundRepository interface {
	InsertFund(ctx context.Context, f *models.FundPool) (int64, error)
	GetFund(ctx context.Context, id int64) (*models.FundPool, error)
	ListFundIDs(ctx context.Context) ([]int64, error)
	// ApplyDistribution advances the fund from prevDistributed to
	// prevDistributed+d.Amount, debits custody and appends d, atomically.
	ApplyDistribution(ctx context.Context, d *models.Distribution, prevDistributed int64, status models.FundStatus) (int64, error)
	ListDistributions(ctx context.Context, fundID int64) ([]models.Distribution, error)
	CustodyBalance(ctx context.Context) (int64, error)
	Deposit(ctx context.Context, amount int64) (int64, error)
}

type DonationRepository interface {
	// InsertDonation stores the donation and credits custody in one transaction.
	InsertDonation(ctx context.Context, d *models.Donation) (int64, error)
	GetDonation(ctx context.Context, id int64) (*models.Donation, error)
	ListDonationsByEvent(ctx context.Context, eventID int64) ([]models.Donation, error)
}

type PrincipalRepository interface {
	SetAuthorized(ctx context.Context, principal string, authorized bool, at time.Time) error
	ListAuthorized(ctx context.Context) ([]string, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, n models.Notification) error
	ListAudit(ctx context.Context, limit, offset int) ([]models.Notification, error)
	CountAudit(ctx context.Context) (int, error)
}
