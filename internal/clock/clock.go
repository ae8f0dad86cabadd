// Package clock lets window arithmetic and timestamps run against a
// controllable time source.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that returns T until it is moved. It is safe for
// concurrent use once shared; set T only before that.
type Mock struct {
	mu sync.Mutex
	T  time.Time
}

// Now returns the mocked time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.T
}

// Advance moves the mocked time forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.T = m.T.Add(d)
}

// Set moves the mocked time to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.T = t
}
