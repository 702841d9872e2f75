package ledger

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const owner = "owner@relief"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu  sync.Mutex
	got []models.Notification
}

func (r *recorder) Notify(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.got...)
}

func (r *recorder) kinds() []models.NotificationKind {
	var out []models.NotificationKind
	for _, n := range r.all() {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	ledger  *Ledger
	db      *repository.SQLiteDB
	events  *recorder
	clock   *clockwork.FakeClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newFixtureWithStore(t, db, db)
}

func newFixtureWithStore(t *testing.T, db *repository.SQLiteDB, store Store) *fixture {
	t.Helper()
	f := &fixture{
		db:      db,
		events:  &recorder{},
		clock:   clockwork.NewFakeClockAt(testStart),
		metrics: metrics.New(),
	}
	l, err := New(context.Background(), Config{
		Owner:           owner,
		ConflictRetries: 2,
		Scoring:         severity.DefaultConfig(),
		Clock:           f.clock,
		Metrics:         f.metrics,
	}, store, f.events)
	require.NoError(t, err)
	f.ledger = l
	return f
}

func fingerprint(seed string) models.Fingerprint {
	return sha256.Sum256([]byte(seed))
}

func ptr(v float64) *float64 { return &v }

func floodInput(seed string) EventInput {
	return EventInput{
		Category:    models.CategoryFlood,
		Location:    "Chennai",
		Fingerprint: fingerprint(seed),
		Severity: severity.Inputs{
			Probabilities:        models.ClassProbabilities{Low: 0.1, Medium: 0.3, High: 0.6},
			RainfallMM:           ptr(150),
			WaterLevelCM:         ptr(100),
			PopulationAffected:   ptr(10000),
			InfrastructureDamage: ptr(75),
			ImpactAreaKM2:        ptr(50),
		},
	}
}

// verifiedEvent creates an event and verifies it as the owner.
func (f *fixture) verifiedEvent(t *testing.T, seed string) *models.DisasterEvent {
	t.Helper()
	ctx := context.Background()
	e, err := f.ledger.CreateEvent(ctx, floodInput(seed), "reporter-1")
	require.NoError(t, err)
	e, err = f.ledger.VerifyEvent(ctx, e.ID, owner)
	require.NoError(t, err)
	return e
}

// fund creates an approved fund of total on a fresh verified event and
// deposits custody to cover it.
func (f *fixture) fund(t *testing.T, seed string, total int64) *models.FundPool {
	t.Helper()
	ctx := context.Background()
	e := f.verifiedEvent(t, seed)
	_, err := f.ledger.Deposit(ctx, total, owner)
	require.NoError(t, err)
	pool, err := f.ledger.CreateAndApproveFund(ctx, e.ID, total, owner)
	require.NoError(t, err)
	return pool
}
