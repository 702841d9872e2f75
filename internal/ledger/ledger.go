// Package ledger is the disaster event and fund lifecycle core. It owns the
// duplicate guard, the access policy and the per-aggregate locks, and emits
// one notification per committed transition.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

// Store is the persistence the ledger needs.
type Store interface {
	repository.EventRepository
	repository.FundRepository
	repository.DonationRepository
	repository.PrincipalRepository
}

// Notifier receives a notification for every committed transition.
// Notify must not block.
type Notifier interface {
	Notify(n models.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n models.Notification)

func (f NotifierFunc) Notify(n models.Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(models.Notification) {}

type Config struct {
	Owner string
	// ConflictRetries bounds how often a distribution that lost a
	// compare-and-swap is retried before ErrConcurrencyConflict.
	ConflictRetries int
	Scoring         severity.Config
	Clock           clockwork.Clock
	Metrics         *metrics.Metrics
}

type Ledger struct {
	store    Store
	notifier Notifier
	scorer   *severity.Scorer
	guard    *DuplicateGuard
	access   *AccessPolicy
	locks    *lockTable
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	retries  int
}

// New builds a ledger over store. The duplicate guard and the access policy
// are seeded from persisted state.
func New(ctx context.Context, cfg Config, store Store, notifier Notifier) (*Ledger, error) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}

	access, err := NewAccessPolicy(ctx, cfg.Owner, store)
	if err != nil {
		return nil, err
	}

	fingerprints, err := store.ListFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading processed fingerprints: %w", err)
	}

	slog.Info("ledger ready",
		"owner", access.Owner(),
		"authorized_principals", len(access.Principals()),
		"processed_fingerprints", len(fingerprints),
	)

	return &Ledger{
		store:    store,
		notifier: notifier,
		scorer:   severity.New(cfg.Scoring),
		guard:    NewDuplicateGuard(fingerprints),
		access:   access,
		locks:    newLockTable(),
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		retries:  cfg.ConflictRetries,
	}, nil
}

func (l *Ledger) Scorer() *severity.Scorer {
	return l.scorer
}

func (l *Ledger) Owner() string {
	return l.access.Owner()
}

func (l *Ledger) IsAuthorized(principal string) bool {
	return l.access.IsAuthorized(principal)
}

func (l *Ledger) AuthorizedPrincipals() []string {
	return l.access.Principals()
}

// Grant authorizes principal. Only the owner may call it.
func (l *Ledger) Grant(ctx context.Context, principal, actor string) error {
	return l.setAuthorized(ctx, principal, actor, true)
}

// Revoke removes principal's authorization. It takes effect on the next check.
func (l *Ledger) Revoke(ctx context.Context, principal, actor string) error {
	return l.setAuthorized(ctx, principal, actor, false)
}

func (l *Ledger) setAuthorized(ctx context.Context, principal, actor string, authorized bool) error {
	op, kind := "grant", models.KindPrincipalGranted
	if !authorized {
		op, kind = "revoke", models.KindPrincipalRevoked
	}
	principal = strings.TrimSpace(principal)

	unlock := l.locks.Lock(principalKey(principal))
	defer unlock()

	now := l.now()
	var (
		changed bool
		err     error
	)
	if authorized {
		changed, err = l.access.Grant(ctx, principal, actor, now)
	} else {
		changed, err = l.access.Revoke(ctx, principal, actor, now)
	}
	if err != nil {
		return l.fail(op, err)
	}
	if !changed {
		return nil
	}

	slog.Info("authorized principals changed", "op", op, "principal", principal, "actor", actor)
	l.emit(models.Notification{
		Kind:          kind,
		AggregateType: models.AggregatePrincipal,
		AggregateID:   principal,
		Principal:     actor,
		Timestamp:     now,
	})
	return nil
}

func (l *Ledger) authorize(principal string) error {
	if !l.access.IsAuthorized(principal) {
		return fmt.Errorf("%w: %q", ErrUnauthorized, principal)
	}
	return nil
}

func (l *Ledger) emit(n models.Notification) {
	l.notifier.Notify(n)
}

// fail counts a rejected operation and returns err unchanged.
func (l *Ledger) fail(op string, err error) error {
	reason := Reason(err)
	l.metrics.Rejections.WithLabelValues(op, reason).Inc()
	if reason == "internal" {
		slog.Error("ledger operation failed", "op", op, "error", err)
	} else {
		slog.Debug("ledger operation rejected", "op", op, "reason", reason, "error", err)
	}
	return err
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}
