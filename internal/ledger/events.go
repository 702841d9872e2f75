package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// EventInput is a parsed disaster report. The fingerprint is computed by
// the caller from the submitted image.
type EventInput struct {
	Category    models.Category
	Location    string
	Fingerprint models.Fingerprint
	Severity    severity.Inputs
}

type EventPage struct {
	Events  []models.DisasterEvent `json:"events"`
	Page    int                    `json:"page"`
	PerPage int                    `json:"per_page"`
	Total   int                    `json:"total"`
	Pages   int                    `json:"pages"`
}

// CreateEvent scores and stores a new unverified event. A fingerprint that
// already produced an event is rejected with ErrDuplicate.
func (l *Ledger) CreateEvent(ctx context.Context, in EventInput, reporter string) (*models.DisasterEvent, error) {
	e, err := l.createEvent(ctx, in, reporter)
	if err != nil {
		return nil, l.fail("create_event", err)
	}
	return e, nil
}

func (l *Ledger) createEvent(ctx context.Context, in EventInput, reporter string) (*models.DisasterEvent, error) {
	if in.Fingerprint.IsZero() {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrValidation)
	}

	unlock := l.locks.Lock(fingerprintKey(in.Fingerprint))
	defer unlock()

	if l.guard.IsProcessed(in.Fingerprint) {
		l.metrics.DuplicateSubmissions.Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.Fingerprint)
	}

	category, err := models.ParseCategory(string(in.Category))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}
	reporter = strings.TrimSpace(reporter)
	if reporter == "" {
		return nil, fmt.Errorf("%w: reporter is required", ErrValidation)
	}

	result, err := l.scorer.Compute(in.Severity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Stored as an integer count; float64(MaxInt64) is 2^63, already out of range.
	population := math.Round(valueOr(in.Severity.PopulationAffected))
	if population >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: population_affected exceeds %d", ErrValidation, int64(math.MaxInt64))
	}

	e := &models.DisasterEvent{
		Category:             category,
		Location:             location,
		Fingerprint:          in.Fingerprint,
		SeverityScore:        result.Score,
		SeverityLevel:        result.Level,
		Confidence:           result.Confidence,
		Breakdown:            result.Breakdown,
		Probabilities:        in.Severity.Probabilities,
		Reporter:             reporter,
		PopulationAffected:   int64(population),
		InfrastructureDamage: valueOr(in.Severity.InfrastructureDamage),
		ImpactArea:           valueOr(in.Severity.ImpactAreaKM2),
		CreatedAt:            l.now(),
	}

	unlockEvents := l.locks.Lock(eventsKey)
	defer unlockEvents()

	id, err := l.store.InsertEvent(ctx, e)
	if errors.Is(err, repository.ErrFingerprintExists) {
		// Stored by another process since start-up.
		_ = l.guard.MarkProcessed(in.Fingerprint)
		l.metrics.DuplicateSubmissions.Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.Fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("error storing event: %w", err)
	}
	e.ID = id

	if err := l.guard.MarkProcessed(in.Fingerprint); err != nil {
		slog.Error("fingerprint marked twice under its lock", "fingerprint", in.Fingerprint.String(), "event_id", id)
		return nil, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}

	l.metrics.EventsCreated.Inc()
	l.metrics.SeverityScore.Observe(e.SeverityScore)
	slog.Info("event created",
		"event_id", e.ID,
		"category", e.Category,
		"severity_score", e.SeverityScore,
		"severity_level", e.SeverityLevel,
	)

	l.emit(models.Notification{
		Kind:          models.KindEventCreated,
		AggregateType: models.AggregateEvent,
		AggregateID:   strconv.FormatInt(e.ID, 10),
		Principal:     reporter,
		Timestamp:     e.CreatedAt,
		Details: map[string]any{
			"category":       string(e.Category),
			"location":       e.Location,
			"fingerprint":    e.Fingerprint.String(),
			"severity_score": e.SeverityScore,
			"severity_level": string(e.SeverityLevel),
			"confidence":     e.Confidence,
		},
	})
	return e, nil
}

// VerifyEvent marks an event verified. Verifying twice fails with
// ErrAlreadyVerified.
func (l *Ledger) VerifyEvent(ctx context.Context, id int64, principal string) (*models.DisasterEvent, error) {
	e, err := l.verifyEvent(ctx, id, principal)
	if err != nil {
		return nil, l.fail("verify_event", err)
	}
	return e, nil
}

func (l *Ledger) verifyEvent(ctx context.Context, id int64, principal string) (*models.DisasterEvent, error) {
	if err := l.authorize(principal); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(eventKey(id))
	defer unlock()

	e, err := loadCreated(l, eventsKey, func() (*models.DisasterEvent, error) {
		return l.store.GetEvent(ctx, id)
	})
	if err != nil {
		return nil, notFound(err, "event", id)
	}
	if e.Verified {
		return nil, fmt.Errorf("%w: event %d", ErrAlreadyVerified, id)
	}

	now := l.now()
	ok, err := l.store.MarkVerified(ctx, id, principal, now)
	if err != nil {
		return nil, fmt.Errorf("error verifying event %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: event %d", ErrAlreadyVerified, id)
	}
	e.Verified = true
	e.VerifiedBy = principal
	e.VerifiedAt = &now

	l.metrics.EventsVerified.Inc()
	slog.Info("event verified", "event_id", id, "principal", principal)

	l.emit(models.Notification{
		Kind:          models.KindEventVerified,
		AggregateType: models.AggregateEvent,
		AggregateID:   strconv.FormatInt(id, 10),
		Principal:     principal,
		Timestamp:     now,
	})
	return e, nil
}

func (l *Ledger) GetEvent(ctx context.Context, id int64) (*models.DisasterEvent, error) {
	e, err := l.store.GetEvent(ctx, id)
	if err != nil {
		return nil, notFound(err, "event", id)
	}
	return e, nil
}

// ListEvents returns one page of events in insertion order. Pages are
// numbered from 1.
func (l *Ledger) ListEvents(ctx context.Context, page, perPage int) (*EventPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrValidation)
	}
	if perPage < 1 || perPage > MaxPerPage {
		return nil, fmt.Errorf("%w: per_page must be between 1 and %d", ErrValidation, MaxPerPage)
	}

	total, err := l.store.CountEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting events: %w", err)
	}
	pages := PageCount(total, perPage)

	// Past the last page the offset could overflow; there is nothing to read.
	events := []models.DisasterEvent{}
	if page <= pages {
		events, err = l.store.ListEvents(ctx, perPage, (page-1)*perPage)
		if err != nil {
			return nil, fmt.Errorf("error listing events: %w", err)
		}
	}

	return &EventPage{
		Events:  events,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}, nil
}

// PageCount returns how many pages of perPage hold total items.
func PageCount(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// loadCreated runs read while briefly holding a creation key, so a record
// whose creation notification is still pending is never returned.
func loadCreated[T any](l *Ledger, key string, read func() (T, error)) (T, error) {
	unlock := l.locks.Lock(key)
	defer unlock()
	return read()
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
