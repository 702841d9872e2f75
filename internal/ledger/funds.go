package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

// CreateAndApproveFund opens an APPROVED pool of total against a verified
// event.
func (l *Ledger) CreateAndApproveFund(ctx context.Context, eventID, total int64, principal string) (*models.FundPool, error) {
	f, err := l.createFund(ctx, eventID, total, principal)
	if err != nil {
		return nil, l.fail("create_fund", err)
	}
	return f, nil
}

func (l *Ledger) createFund(ctx context.Context, eventID, total int64, principal string) (*models.FundPool, error) {
	if err := l.authorize(principal); err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrValidation)
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

	unlockFunds := l.locks.Lock(fundsKey)
	defer unlockFunds()

	now := l.now()
	f := &models.FundPool{
		EventID:     eventID,
		TotalAmount: total,
		Status:      models.FundApproved,
		ApprovedBy:  principal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := l.store.InsertFund(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("error storing fund: %w", err)
	}
	f.ID = id

	l.metrics.FundsApproved.Inc()
	slog.Info("fund approved", "fund_id", id, "event_id", eventID, "total", total, "principal", principal)

	l.emit(models.Notification{
		Kind:          models.KindFundApproved,
		AggregateType: models.AggregateFund,
		AggregateID:   strconv.FormatInt(id, 10),
		Principal:     principal,
		Timestamp:     now,
		Details: map[string]any{
			"event_id":     eventID,
			"total_amount": total,
		},
	})
	return f, nil
}

// Distribute pays amount from a fund to recipient. The pool never pays out
// more than its total, and custody never goes negative.
func (l *Ledger) Distribute(ctx context.Context, fundID int64, recipient string, amount int64, principal string) (*models.Distribution, error) {
	d, err := l.distribute(ctx, fundID, recipient, amount, principal)
	if err != nil {
		return nil, l.fail("distribute", err)
	}
	return d, nil
}

func (l *Ledger) distribute(ctx context.Context, fundID int64, recipient string, amount int64, principal string) (*models.Distribution, error) {
	if err := l.authorize(principal); err != nil {
		return nil, err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	unlock := l.locks.Lock(fundKey(fundID))
	defer unlock()

	for attempt := 0; ; attempt++ {
		f, err := loadCreated(l, fundsKey, func() (*models.FundPool, error) {
			return l.readFund(ctx, fundID)
		})
		if err != nil {
			return nil, err
		}

		switch f.Status {
		case models.FundApproved:
		case models.FundDistributed:
			return nil, fmt.Errorf("%w: fund %d is fully distributed", ErrInsufficientFunds, fundID)
		default:
			return nil, fmt.Errorf("%w: fund %d is %s", ErrValidation, fundID, f.Status)
		}
		if amount > f.Remaining() {
			return nil, fmt.Errorf("%w: fund %d has %d remaining, requested %d",
				ErrInsufficientFunds, fundID, f.Remaining(), amount)
		}

		d, err := l.applyDistribution(ctx, f, recipient, amount, principal)
		if errors.Is(err, repository.ErrConflict) {
			if attempt >= l.retries {
				return nil, fmt.Errorf("%w: fund %d changed during %d attempts", ErrConcurrencyConflict, fundID, attempt+1)
			}
			l.metrics.ConflictRetries.Inc()
			slog.Warn("distribution lost compare-and-swap, retrying", "fund_id", fundID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		distributed := f.Distributed + amount
		status := statusAfter(f, amount)
		l.metrics.Distributions.Inc()
		l.metrics.DistributedAmount.Add(float64(amount))
		slog.Info("fund distributed",
			"fund_id", fundID,
			"distribution_id", d.ID,
			"amount", amount,
			"distributed", distributed,
			"status", status,
		)

		l.emit(models.Notification{
			Kind:          models.KindFundDistributed,
			AggregateType: models.AggregateFund,
			AggregateID:   strconv.FormatInt(fundID, 10),
			Principal:     principal,
			Timestamp:     d.CreatedAt,
			Details: map[string]any{
				"distribution_id": d.ID,
				"recipient":       d.Recipient,
				"amount":          d.Amount,
				"transfer_ref":    d.TransferRef,
				"distributed":     distributed,
				"remaining":       f.TotalAmount - distributed,
				"status":          string(status),
			},
		})
		return d, nil
	}
}

func (l *Ledger) applyDistribution(ctx context.Context, f *models.FundPool, recipient string, amount int64, principal string) (*models.Distribution, error) {
	unlock := l.locks.Lock(custodyKey)
	defer unlock()

	balance, err := l.store.CustodyBalance(ctx)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, fmt.Errorf("%w: custody holds %d, requested %d", ErrInsufficientBalance, balance, amount)
	}

	d := &models.Distribution{
		FundID:        f.ID,
		Recipient:     recipient,
		Amount:        amount,
		TransferRef:   uuid.NewString(),
		DistributedBy: principal,
		CreatedAt:     l.now(),
	}
	id, err := l.store.ApplyDistribution(ctx, d, f.Distributed, statusAfter(f, amount))
	switch {
	case errors.Is(err, repository.ErrConflict):
		return nil, err
	case errors.Is(err, repository.ErrInsufficientCustody):
		return nil, fmt.Errorf("%w: custody cannot cover %d", ErrInsufficientBalance, amount)
	case err != nil:
		return nil, fmt.Errorf("error storing distribution: %w", err)
	}
	d.ID = id
	return d, nil
}

func statusAfter(f *models.FundPool, amount int64) models.FundStatus {
	if f.Distributed+amount >= f.TotalAmount {
		return models.FundDistributed
	}
	return models.FundApproved
}

// readFund loads a fund and refuses to return one whose persisted state
// breaks the pool invariants.
func (l *Ledger) readFund(ctx context.Context, id int64) (*models.FundPool, error) {
	f, err := l.store.GetFund(ctx, id)
	if err != nil {
		return nil, notFound(err, "fund", id)
	}
	if err := checkFund(f); err != nil {
		slog.Error("fund invariant violated",
			"fund_id", f.ID,
			"total", f.TotalAmount,
			"distributed", f.Distributed,
			"status", f.Status,
			"error", err,
		)
		return nil, err
	}
	return f, nil
}

func checkFund(f *models.FundPool) error {
	switch {
	case f.TotalAmount <= 0:
		return fmt.Errorf("%w: fund %d has total %d", ErrInvariantViolation, f.ID, f.TotalAmount)
	case f.Distributed < 0:
		return fmt.Errorf("%w: fund %d has negative distributed %d", ErrInvariantViolation, f.ID, f.Distributed)
	case f.Distributed > f.TotalAmount:
		return fmt.Errorf("%w: fund %d distributed %d exceeds total %d",
			ErrInvariantViolation, f.ID, f.Distributed, f.TotalAmount)
	case f.Status == models.FundDistributed && f.Distributed != f.TotalAmount:
		return fmt.Errorf("%w: fund %d is DISTRIBUTED with %d of %d paid",
			ErrInvariantViolation, f.ID, f.Distributed, f.TotalAmount)
	case f.Status == models.FundApproved && f.Distributed == f.TotalAmount:
		return fmt.Errorf("%w: fund %d is APPROVED but fully paid", ErrInvariantViolation, f.ID)
	}
	return nil
}

func (l *Ledger) GetFund(ctx context.Context, id int64) (*models.FundPool, error) {
	f, err := l.readFund(ctx, id)
	if err != nil {
		return nil, l.fail("get_fund", err)
	}
	return f, nil
}

func (l *Ledger) ListFundIDs(ctx context.Context) ([]int64, error) {
	ids, err := l.store.ListFundIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing funds: %w", err)
	}
	return ids, nil
}

func (l *Ledger) ListDistributions(ctx context.Context, fundID int64) ([]models.Distribution, error) {
	if _, err := l.store.GetFund(ctx, fundID); err != nil {
		return nil, notFound(err, "fund", fundID)
	}
	out, err := l.store.ListDistributions(ctx, fundID)
	if err != nil {
		return nil, fmt.Errorf("error listing distributions: %w", err)
	}
	return out, nil
}

// Deposit credits custody with amount and returns the new balance. Only the
// owner may deposit.
func (l *Ledger) Deposit(ctx context.Context, amount int64, principal string) (int64, error) {
	balance, err := l.deposit(ctx, amount, principal)
	if err != nil {
		return 0, l.fail("deposit", err)
	}
	return balance, nil
}

func (l *Ledger) deposit(ctx context.Context, amount int64, principal string) (int64, error) {
	if !l.access.IsOwner(principal) {
		return 0, fmt.Errorf("%w: only the owner may deposit", ErrUnauthorized)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	unlock := l.locks.Lock(custodyKey)
	defer unlock()

	balance, err := l.store.Deposit(ctx, amount)
	if errors.Is(err, repository.ErrCustodyOverflow) {
		return 0, fmt.Errorf("%w: amount would overflow the custody balance", ErrValidation)
	}
	if err != nil {
		return 0, fmt.Errorf("error storing deposit: %w", err)
	}

	now := l.now()
	slog.Info("custody deposit", "amount", amount, "balance", balance)
	l.emit(models.Notification{
		Kind:          models.KindCustodyDeposited,
		AggregateType: models.AggregateCustody,
		AggregateID:   custodyKey,
		Principal:     principal,
		Timestamp:     now,
		Details: map[string]any{
			"amount":  amount,
			"balance": balance,
		},
	})
	return balance, nil
}

func (l *Ledger) CustodyBalance(ctx context.Context) (int64, error) {
	balance, err := l.store.CustodyBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("error reading custody balance: %w", err)
	}
	return balance, nil
}
