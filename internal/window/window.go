// Package window derives the half-day free-agency auction windows from wall
// clock time. Two windows exist per civil day in the league's reference time
// zone, split at noon. Nothing here touches storage.
package window

import (
	"errors"
	"fmt"
	"time"
)

// Half identifies the morning or afternoon window of a day.
type Half string

const (
	AM Half = "AM"
	PM Half = "PM"
)

// Status is the lifecycle state of a window.
type Status string

const (
	Active Status = "active"
	Locked Status = "locked"
	Closed Status = "closed"
)

// DefaultZone is the league's reference time zone.
const DefaultZone = "America/New_York"

// DefaultLockGrace is how long before the boundary a window locks.
const DefaultLockGrace = 10 * time.Minute

const idLayout = "2006-01-02"

// ErrInvalidID is returned when a window identifier cannot be parsed.
var ErrInvalidID = errors.New("invalid window id")

// Window is one half-day auction period.
type Window struct {
	ID    string
	Half  Half
	Start time.Time
	// End is the last instant that still belongs to the window.
	End time.Time
	// LockAt is the start of the grace period in which settlement runs.
	LockAt time.Time
}

// Boundary returns the first instant after the window.
func (w Window) Boundary() time.Time {
	return w.End.Add(time.Millisecond)
}

// Locked reports whether t falls inside the window's grace period or later.
func (w Window) Locked(t time.Time) bool {
	return !t.Before(w.LockAt)
}

// StatusAt returns the time-derived status of the window at t.
func (w Window) StatusAt(t time.Time) Status {
	switch {
	case t.Before(w.LockAt):
		return Active
	case t.Before(w.Boundary()):
		return Locked
	default:
		return Closed
	}
}

// Schedule computes windows for a fixed location and grace period.
type Schedule struct {
	loc   *time.Location
	grace time.Duration
}

// NewSchedule returns a Schedule. A nil location falls back to UTC and a
// non-positive grace to DefaultLockGrace.
func NewSchedule(loc *time.Location, grace time.Duration) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	if grace <= 0 {
		grace = DefaultLockGrace
	}
	return &Schedule{loc: loc, grace: grace}
}

// LoadSchedule resolves the named zone and returns a Schedule for it.
func LoadSchedule(zone string, grace time.Duration) (*Schedule, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", zone, err)
	}
	return NewSchedule(loc, grace), nil
}

// Location returns the reference time zone.
func (s *Schedule) Location() *time.Location { return s.loc }

// At returns the window containing t.
func (s *Schedule) At(t time.Time) Window {
	local := t.In(s.loc)
	half := AM
	if local.Hour() >= 12 {
		half = PM
	}
	return s.build(local.Year(), local.Month(), local.Day(), half)
}

// Parse returns the window identified by id, e.g. "2025-11-14-PM".
func (s *Schedule) Parse(id string) (Window, error) {
	if len(id) != len(idLayout)+3 || id[len(idLayout)] != '-' {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	day, err := time.ParseInLocation(idLayout, id[:len(idLayout)], s.loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, id, err)
	}
	half := Half(id[len(idLayout)+1:])
	if half != AM && half != PM {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.build(day.Year(), day.Month(), day.Day(), half), nil
}

// Next returns the window immediately following w.
func (s *Schedule) Next(w Window) Window {
	return s.At(w.Boundary())
}

// Prev returns the window immediately preceding w.
func (s *Schedule) Prev(w Window) Window {
	return s.At(w.Start.Add(-time.Millisecond))
}

// NextLock returns the first window whose lock time is strictly after t.
func (s *Schedule) NextLock(t time.Time) Window {
	w := s.At(t)
	if w.Locked(t) {
		return s.Next(w)
	}
	return w
}

func (s *Schedule) build(y int, m time.Month, d int, half Half) Window {
	var start, boundary time.Time
	if half == AM {
		start = time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		boundary = time.Date(y, m, d, 12, 0, 0, 0, s.loc)
	} else {
		start = time.Date(y, m, d, 12, 0, 0, 0, s.loc)
		boundary = time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	}
	return Window{
		ID:     fmt.Sprintf("%s-%s", start.Format(idLayout), half),
		Half:   half,
		Start:  start,
		End:    boundary.Add(-time.Millisecond),
		LockAt: boundary.Add(-s.grace),
	}
}
