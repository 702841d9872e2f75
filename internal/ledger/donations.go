package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

// RecordDonation books a donation against a verified event and credits
// custody with it.
func (l *Ledger) RecordDonation(ctx context.Context, eventID int64, donor string, amount int64, purpose string) (*models.Donation, error) {
	d, err := l.recordDonation(ctx, eventID, donor, amount, purpose)
	if err != nil {
		return nil, l.fail("record_donation", err)
	}
	return d, nil
}

func (l *Ledger) recordDonation(ctx context.Context, eventID int64, donor string, amount int64, purpose string) (*models.Donation, error) {
	donor = strings.TrimSpace(donor)
	if donor == "" {
		return nil, fmt.Errorf("%w: donor is required", ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	unlock := l.locks.Lock(eventKey(eventID))
	defer unlock()

	e, err := loadCreated(l, eventsKey, func() (*models.DisasterEvent, error) {
		return l.store.GetEvent(ctx, eventID)
	})
	if err != nil {
		return nil, notFound(err, "event", eventID)
	}
	if !e.Verified {
		return nil, fmt.Errorf("%w: event not verified", ErrValidation)
	}

	unlockCustody := l.locks.Lock(custodyKey)
	defer unlockCustody()

	d := &models.Donation{
		EventID:        eventID,
		Donor:          donor,
		Amount:         amount,
		Purpose:        strings.TrimSpace(purpose),
		Status:         models.DonationPending,
		LedgerVerified: true,
		CreatedAt:      l.now(),
	}
	id, err := l.store.InsertDonation(ctx, d)
	if errors.Is(err, repository.ErrCustodyOverflow) {
		return nil, fmt.Errorf("%w: amount would overflow the custody balance", ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("error storing donation: %w", err)
	}
	d.ID = id

	l.metrics.Donations.Inc()
	l.metrics.DonatedAmount.Add(float64(amount))
	slog.Info("donation recorded", "donation_id", id, "event_id", eventID, "amount", amount)

	l.emit(models.Notification{
		Kind:          models.KindDonationRecorded,
		AggregateType: models.AggregateDonation,
		AggregateID:   strconv.FormatInt(id, 10),
		Principal:     donor,
		Timestamp:     d.CreatedAt,
		Details: map[string]any{
			"event_id": eventID,
			"amount":   amount,
			"purpose":  d.Purpose,
		},
	})
	return d, nil
}

func (l *Ledger) GetDonation(ctx context.Context, id int64) (*models.Donation, error) {
	d, err := l.store.GetDonation(ctx, id)
	if err != nil {
		return nil, notFound(err, "donation", id)
	}
	return d, nil
}

func (l *Ledger) ListDonations(ctx context.Context, eventID int64) ([]models.Donation, error) {
	if _, err := l.store.GetEvent(ctx, eventID); err != nil {
		return nil, notFound(err, "event", eventID)
	}
	out, err := l.store.ListDonationsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("error listing donations: %w", err)
	}
	return out, nil
}
