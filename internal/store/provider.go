package store

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/event"
)

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Players      PlayerRepository
	Bids         BidRepository
	Windows      WindowRepository
	Budgets      BudgetRepository
	Assignments  TeamAssignmentRepository
	Transactions TransactionRepository
	Settlement   SettlementStore
	Aliases      AliasRepository
	Events       event.Store
	// Closer releases the underlying connection pool.
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under name. It is called from init() in
// each driver package and panics on a nil or duplicate driver.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("store: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("store: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open selects the driver named by cfg.Driver and returns its Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error) {
	driversMu.RLock()
	d, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	repos, err := d(ctx, cfg, clk)
	if err != nil {
		return nil, fmt.Errorf("store driver %s: %w", cfg.Driver, err)
	}
	return repos, nil
}
