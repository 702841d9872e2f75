package ledger

import (
	"fmt"
	"sync"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

// DuplicateGuard remembers every fingerprint that produced an event.
type DuplicateGuard struct {
	mu   sync.RWMutex
	seen map[models.Fingerprint]struct{}
}

func NewDuplicateGuard(processed []models.Fingerprint) *DuplicateGuard {
	g := &DuplicateGuard{seen: make(map[models.Fingerprint]struct{}, len(processed))}
	for _, fp := range processed {
		g.seen[fp] = struct{}{}
	}
	return g
}

func (g *DuplicateGuard) IsProcessed(fp models.Fingerprint) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.seen[fp]
	return ok
}

// MarkProcessed records fp. Marking the same fingerprint twice is an error.
func (g *DuplicateGuard) MarkProcessed(fp models.Fingerprint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[fp]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, fp)
	}
	g.seen[fp] = struct{}{}
	return nil
}

func (g *DuplicateGuard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seen)
}
