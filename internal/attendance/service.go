package attendance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/clock"
	"attendancesvc/internal/lock"
	"attendancesvc/internal/metrics"
	"attendancesvc/internal/pagination"
	"attendancesvc/internal/users"
)

// Service is the attendance state machine. Per user and day it moves
// NOT_CHECKED_IN -> CHECKED_IN -> CHECKED_OUT, with at most one open session
// at a time. Check-in and check-out for one user are serialized through the
// locker; the store's uniqueness rule catches writers that bypass it.
type Service struct {
	store  Store
	users  users.Directory
	locker lock.Locker
	clock  clock.Clock
	log    *zap.Logger
}

// NewService wires the state machine. A nil locker means an in-process one.
func NewService(store Store, dir users.Directory, locker lock.Locker, clk clock.Clock, log *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewKeyed()
	}
	if clk == nil {
		clk = clock.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, users: dir, locker: locker, clock: clk, log: log}
}

func lockKey(userID string) string { return "attendance:" + userID }

// CheckIn opens a session for userID with the given photo evidence.
func (s *Service) CheckIn(ctx context.Context, userID, photoURL string) (rec Record, err error) {
	defer func() { observe("check-in", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperr.InvalidArgument("userId is required")
	}
	if strings.TrimSpace(photoURL) == "" {
		return Record{}, apperr.InvalidArgument("photoUrl is required")
	}
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, apperr.NotFound(msgUserNotFound)
	}

	release, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return Record{}, fmt.Errorf("lock %s: %w", userID, err)
	}
	defer release()

	// One instant for both the conflict check and the write.
	now := s.clock.Now()
	day := s.clock.StartOfDay(now)

	open, err := s.store.FindOpenByUserAndDay(ctx, userID, day)
	if err != nil {
		return Record{}, err
	}
	if open != nil {
		return Record{}, apperr.Conflict(msgAlreadyCheckedIn)
	}

	rec, err = s.store.Create(ctx, Record{
		UserID:      userID,
		CheckInTime: now,
		DayStart:    day,
		PhotoURL:    photoURL,
	})
	if err != nil {
		return Record{}, err
	}
	s.log.Info("checked in", zap.String("user_id", userID), zap.String("attendance_id", rec.ID))
	return rec, nil
}

// CheckOut closes today's open session for userID.
func (s *Service) CheckOut(ctx context.Context, userID string) (rec Record, err error) {
	defer func() { observe("check-out", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperr.InvalidArgument("userId is required")
	}

	release, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return Record{}, fmt.Errorf("lock %s: %w", userID, err)
	}
	defer release()

	now := s.clock.Now()
	open, err := s.store.FindOpenByUserAndDay(ctx, userID, s.clock.StartOfDay(now))
	if err != nil {
		return Record{}, err
	}
	if open == nil {
		return Record{}, apperr.Conflict(msgNoActiveCheckIn)
	}

	rec, err = s.store.UpdateCheckOut(ctx, open.ID, now)
	if err != nil {
		return Record{}, err
	}
	s.log.Info("checked out", zap.String("user_id", userID), zap.String("attendance_id", rec.ID))
	return rec, nil
}

// Status reports the user's state for today. It never writes.
func (s *Service) Status(ctx context.Context, userID string) (StatusResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return StatusResult{}, apperr.InvalidArgument("userId is required")
	}
	day := s.clock.StartOfDay(s.clock.Now())

	open, err := s.store.FindOpenByUserAndDay(ctx, userID, day)
	if err != nil {
		return StatusResult{}, err
	}
	if open != nil {
		return StatusResult{Status: StatusCheckedIn, Message: "You are currently checked in", CurrentAttendance: open}, nil
	}

	closed, err := s.store.FindLatestClosedByUserAndDay(ctx, userID, day)
	if err != nil {
		return StatusResult{}, err
	}
	if closed != nil {
		return StatusResult{Status: StatusCheckedOut, Message: "You have checked out for today", CurrentAttendance: closed}, nil
	}
	return StatusResult{Status: StatusNotCheckedIn, Message: "You have not checked in today"}, nil
}

// ListMine pages through userID's own records.
func (s *Service) ListMine(ctx context.Context, userID string, q ListQuery) (Page, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Page{}, apperr.InvalidArgument("userId is required")
	}
	q.UserID = userID
	return s.list(ctx, q)
}

// ListAll pages through every user's records, optionally narrowed to one user.
func (s *Service) ListAll(ctx context.Context, q ListQuery) (Page, error) {
	q.UserID = strings.TrimSpace(q.UserID)
	return s.list(ctx, q)
}

func (s *Service) list(ctx context.Context, q ListQuery) (Page, error) {
	page, limit, err := pagination.Normalize(q.Page, q.Limit)
	if err != nil {
		return Page{}, apperr.InvalidArgument(err.Error())
	}
	rng, err := clock.DayRange(q.StartDate, q.EndDate, s.clock.Location())
	if err != nil {
		return Page{}, apperr.InvalidArgument(err.Error())
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.From.After(rng.To) {
		return Page{}, apperr.InvalidArgument("startDate must not be after endDate")
	}

	recs, total, err := s.store.FindPage(ctx, Filter{UserID: q.UserID, Range: rng}, pagination.Offset(page, limit), limit)
	if err != nil {
		return Page{}, err
	}
	if recs == nil {
		recs = []Record{}
	}
	return Page{Data: recs, Meta: pagination.NewMeta(total, page, limit)}, nil
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	metrics.Transitions.WithLabelValues(op, result).Inc()
}
