package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

func TestCreateEvent_ScoresAndStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, 72.75, e.SeverityScore)
	assert.Equal(t, models.SeverityHigh, e.SeverityLevel)
	assert.GreaterOrEqual(t, e.Confidence, 0.0)
	assert.LessOrEqual(t, e.Confidence, 1.0)
	assert.False(t, e.Verified)
	assert.Equal(t, int64(10000), e.PopulationAffected)
	assert.Equal(t, testStart, e.CreatedAt)
	assert.Len(t, e.Breakdown, 6)

	stored, err := f.ledger.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.SeverityScore, stored.SeverityScore)
	assert.Equal(t, e.Fingerprint, stored.Fingerprint)

	assert.Equal(t, []models.NotificationKind{models.KindEventCreated}, f.events.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsCreated))
}

func TestCreateEvent_DuplicateFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	require.NoError(t, err)

	in := floodInput("img-1")
	in.Location = "Somewhere else"
	_, err = f.ledger.CreateEvent(ctx, in, "reporter-2")
	require.ErrorIs(t, err, ErrDuplicate)

	stored, err := f.ledger.GetEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chennai", stored.Location)
	assert.Equal(t, "reporter-1", stored.Reporter)

	total, err := f.db.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, f.events.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicateSubmissions))
}

func TestCreateEvent_DuplicateAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	require.NoError(t, err)

	// A second ledger over the same store seeds its guard from SQLite.
	restarted := newFixtureWithStore(t, f.db, f.db)
	_, err = restarted.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateEvent_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*EventInput)
	}{
		{"zero fingerprint", func(in *EventInput) { in.Fingerprint = models.Fingerprint{} }},
		{"unknown category", func(in *EventInput) { in.Category = "meteor" }},
		{"empty location", func(in *EventInput) { in.Location = "  " }},
		{"probabilities off", func(in *EventInput) { in.Severity.Probabilities.High = 0.9 }},
		{"negative rainfall", func(in *EventInput) { in.Severity.RainfallMM = ptr(-1) }},
		{"damage over 100", func(in *EventInput) { in.Severity.InfrastructureDamage = ptr(101) }},
		{"population beyond int64", func(in *EventInput) { in.Severity.PopulationAffected = ptr(1e20) }},
		{"population at 2^63", func(in *EventInput) { in.Severity.PopulationAffected = ptr(math.Exp2(63)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := floodInput("img-" + tt.name)
			tt.modify(&in)

			_, err := f.ledger.CreateEvent(context.Background(), in, "reporter-1")
			require.ErrorIs(t, err, ErrValidation)

			total, err := f.db.CountEvents(context.Background())
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, f.events.all())
			// A rejected report does not burn its fingerprint.
			assert.False(t, f.ledger.guard.IsProcessed(in.Fingerprint))
		})
	}
}

func TestCreateEvent_LargePopulationStoredExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := floodInput("img-1")
	in.Severity.PopulationAffected = ptr(8e18)
	e, err := f.ledger.CreateEvent(ctx, in, "reporter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8e18), e.PopulationAffected)

	stored, err := f.ledger.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8e18), stored.PopulationAffected)
}

func TestVerifyEvent_NotIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	require.NoError(t, err)

	verified, err := f.ledger.VerifyEvent(ctx, e.ID, owner)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, owner, verified.VerifiedBy)
	require.NotNil(t, verified.VerifiedAt)

	_, err = f.ledger.VerifyEvent(ctx, e.ID, owner)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	assert.Equal(t, []models.NotificationKind{models.KindEventCreated, models.KindEventVerified}, f.events.kinds())
}

func TestVerifyEvent_Unauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.ledger.CreateEvent(ctx, floodInput("img-1"), "reporter-1")
	require.NoError(t, err)

	_, err = f.ledger.VerifyEvent(ctx, e.ID, "mallory")
	require.ErrorIs(t, err, ErrUnauthorized)

	stored, err := f.ledger.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verified)
	assert.Len(t, f.events.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("verify_event", "unauthorized")))
}

func TestVerifyEvent_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.VerifyEvent(context.Background(), 42, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEvent_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.GetEvent(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEvents_Paging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.ledger.CreateEvent(ctx, floodInput(string(rune('a'+i))), "reporter-1")
		require.NoError(t, err)
	}

	page, err := f.ledger.ListEvents(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(3), page.Events[0].ID)
	assert.Equal(t, int64(4), page.Events[1].ID)

	last, err := f.ledger.ListEvents(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Events, 1)
	assert.Equal(t, int64(5), last.Events[0].ID)

	past, err := f.ledger.ListEvents(ctx, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, past.Events)
	assert.Equal(t, 5, past.Total)

	// (page-1)*perPage would overflow; the page is empty, not page one.
	huge, err := f.ledger.ListEvents(ctx, math.MaxInt, MaxPerPage)
	require.NoError(t, err)
	assert.Empty(t, huge.Events)
	assert.Equal(t, math.MaxInt, huge.Page)

	_, err = f.ledger.ListEvents(ctx, 0, 10)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.ledger.ListEvents(ctx, 1, MaxPerPage+1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 20))
	assert.Equal(t, 1, PageCount(20, 20))
	assert.Equal(t, 2, PageCount(21, 20))
	assert.Equal(t, 0, PageCount(5, 0))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "duplicate", Reason(ErrDuplicate))
	assert.Equal(t, "not_found", Reason(notFound(repository.ErrNotFound, "fund", 1)))
	assert.Equal(t, "internal", Reason(assert.AnError))
	assert.Equal(t, "", Reason(nil))
}
