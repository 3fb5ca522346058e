// Package clock supplies the current time and calendar-day boundaries used to
// partition attendance records.
package clock

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Clock is the time provider consumed by the attendance service.
type Clock interface {
	Now() time.Time
	StartOfDay(t time.Time) time.Time
	Location() *time.Location
}

// LoadLocation resolves a zone name. Empty and "Local" mean the process zone.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local", "local":
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// StartOfDay returns 00:00:00.000 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	start := StartOfDay(t, loc)
	y, m, d := start.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

// System reads the wall clock.
type System struct {
	loc *time.Location
}

// New returns a wall clock whose days are cut in loc.
func New(loc *time.Location) System {
	if loc == nil {
		loc = time.Local
	}
	return System{loc: loc}
}

func (s System) Now() time.Time                   { return time.Now().In(s.loc) }
func (s System) StartOfDay(t time.Time) time.Time { return StartOfDay(t, s.loc) }
func (s System) Location() *time.Location         { return s.loc }

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewManual returns a clock frozen at now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now, loc: now.Location()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) StartOfDay(t time.Time) time.Time { return StartOfDay(t, m.loc) }
func (m *Manual) Location() *time.Location         { return m.loc }

var ErrBadDate = errors.New("date must be YYYY-MM-DD or RFC 3339")

// ParseDay parses a calendar date and returns the start of that day in loc.
// RFC 3339 timestamps are accepted and truncated to their day in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return StartOfDay(t, loc), nil
	}
	return time.Time{}, ErrBadDate
}

// Range is an inclusive time window. Zero ends are open.
type Range struct {
	From time.Time
	To   time.Time
}

// DayRange turns optional start/end dates into an inclusive window running
// from 00:00:00 of start through the end of end.
func DayRange(start, end string, loc *time.Location) (Range, error) {
	var r Range
	if start != "" {
		t, err := ParseDay(start, loc)
		if err != nil {
			return Range{}, err
		}
		r.From = t
	}
	if end != "" {
		t, err := ParseDay(end, loc)
		if err != nil {
			return Range{}, err
		}
		r.To = EndOfDay(t, loc)
	}
	return r, nil
}

// Contains reports whether t falls inside the window.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
