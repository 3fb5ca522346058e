package attendance

import (
	"context"
	"time"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/clock"
	"attendancesvc/internal/pagination"
)

// Record is one check-in/check-out session. A nil CheckOutTime means the
// session is still open.
type Record struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	CheckInTime  time.Time  `json:"checkInTime"`
	CheckOutTime *time.Time `json:"checkOutTime"`
	PhotoURL     string     `json:"photoUrl"`

	// DayStart is the day the session was opened under. Stores key the
	// one-open-session rule on it.
	DayStart time.Time `json:"-"`
}

// Open reports whether the session has not been checked out.
func (r Record) Open() bool { return r.CheckOutTime == nil }

// Status is the display state of a user for the current day.
type Status string

const (
	StatusCheckedIn    Status = "CHECKED_IN"
	StatusCheckedOut   Status = "CHECKED_OUT"
	StatusNotCheckedIn Status = "NOT_CHECKED_IN"
)

// StatusResult is returned by Service.Status.
type StatusResult struct {
	Status            Status  `json:"status"`
	Message           string  `json:"message"`
	CurrentAttendance *Record `json:"currentAttendance,omitempty"`
}

// Filter narrows a listing. Zero fields do not filter.
type Filter struct {
	UserID string
	Range  clock.Range
}

// Page is one page of records, newest check-in first.
type Page struct {
	Data []Record        `json:"data"`
	Meta pagination.Meta `json:"meta"`
}

// Store persists attendance records.
//
// FindOpenByUserAndDay and FindLatestClosedByUserAndDay consider records whose
// check-in falls on or after dayStart and return (nil, nil) when nothing
// matches. Create fails with a Conflict when the user already has an open
// record for rec.DayStart. UpdateCheckOut only closes a record that is still
// open and fails with a Conflict otherwise.
type Store interface {
	FindOpenByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error)
	FindLatestClosedByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	UpdateCheckOut(ctx context.Context, id string, at time.Time) (Record, error)
	FindPage(ctx context.Context, f Filter, offset, limit int) ([]Record, int, error)
}

const (
	msgUserNotFound     = "User not found"
	msgAlreadyCheckedIn = "You have already checked in today and have not checked out"
	msgNoActiveCheckIn  = "No active check-in found for today"
)

// errBadWindow rejects a negative offset or limit reaching a store.
var errBadWindow = apperr.InvalidArgument("page is out of range")
