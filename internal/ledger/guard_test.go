package ledger

import (
	"errors"
	"testing"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

func TestDuplicateGuard(t *testing.T) {
	seeded := fingerprint("seeded")
	g := NewDuplicateGuard([]models.Fingerprint{seeded})

	if !g.IsProcessed(seeded) {
		t.Error("expected seeded fingerprint to be processed")
	}

	fresh := fingerprint("fresh")
	if g.IsProcessed(fresh) {
		t.Error("expected fresh fingerprint to be unprocessed")
	}
	if err := g.MarkProcessed(fresh); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := g.MarkProcessed(fresh); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second mark, got %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 fingerprints, got %d", g.Len())
	}
}
