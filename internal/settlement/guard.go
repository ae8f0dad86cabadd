package settlement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrInProgress is returned when a settlement for the same trigger is
	// still running.
	ErrInProgress = errors.New("settlement already in progress")
	// ErrRecentlyRun is returned when the trigger completed within the
	// guard's TTL.
	ErrRecentlyRun = errors.New("settlement already ran for this trigger")
)

// recentSize bounds the number of completed triggers remembered.
const recentSize = 1024

// Guard rejects duplicate settlement triggers. A key is held while its run is
// in flight and remembered for a TTL once the run completes.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	recent   *expirable.LRU[string, time.Time]
}

// NewGuard returns a Guard remembering completed keys for ttl. A zero ttl
// only rejects concurrent duplicates.
func NewGuard(ttl time.Duration) *Guard {
	g := &Guard{inFlight: make(map[string]struct{})}
	if ttl > 0 {
		g.recent = expirable.NewLRU[string, time.Time](recentSize, nil, ttl)
	}
	return g
}

// Acquire claims key. Every successful Acquire must be paired with Release.
func (g *Guard) Acquire(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inFlight[key]; ok {
		return fmt.Errorf("%w: %s", ErrInProgress, key)
	}
	if g.recent != nil {
		if at, ok := g.recent.Get(key); ok {
			return fmt.Errorf("%w: %s at %s", ErrRecentlyRun, key, at.Format(time.RFC3339))
		}
	}
	g.inFlight[key] = struct{}{}
	return nil
}

// Release frees key. When completed is set the key is remembered so a retried
// trigger is rejected until the TTL expires.
func (g *Guard) Release(key string, completed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, key)
	if completed && g.recent != nil {
		g.recent.Add(key, time.Now())
	}
}
