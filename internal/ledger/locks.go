package ledger

import (
	"strconv"
	"sync"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

// Lock keys. An operation that needs custody always takes its aggregate
// key first.
const (
	custodyKey = "custody"
	// Creation of an event or fund holds its table key until the
	// notification is emitted. Readers take it around the first read so
	// they never emit ahead of the creation notice.
	eventsKey = "events"
	fundsKey  = "funds"
)

func fingerprintKey(fp models.Fingerprint) string { return "fingerprint:" + fp.String() }
func eventKey(id int64) string                    { return "event:" + strconv.FormatInt(id, 10) }
func fundKey(id int64) string                     { return "fund:" + strconv.FormatInt(id, 10) }
func principalKey(p string) string                { return "principal:" + p }

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out one mutex per key. Entries are reference counted and
// removed when the last holder or waiter releases them.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

// Lock blocks until key is held and returns the function that releases it.
func (t *lockTable) Lock(key string) (unlock func()) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.entries, key)
			}
			t.mu.Unlock()
		})
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
