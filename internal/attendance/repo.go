package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"attendancesvc/internal/apperr"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, day_start, check_in_time, check_out_time, photo_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var out sql.NullTime
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.DayStart, &rec.CheckInTime, &out, &rec.PhotoURL); err != nil {
		return Record{}, err
	}
	if out.Valid {
		t := out.Time
		rec.CheckOutTime = &t
	}
	return rec, nil
}

// FindOpenByUserAndDay returns the open session started on or after dayStart.
func (r *Repository) FindOpenByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error) {
	return r.findOne(ctx, `
		SELECT `+recordColumns+`
		FROM attendances
		WHERE user_id = $1 AND check_in_time >= $2 AND check_out_time IS NULL
		ORDER BY check_in_time DESC
		LIMIT 1
	`, userID, dayStart)
}

// FindLatestClosedByUserAndDay returns the most recent closed session started
// on or after dayStart.
func (r *Repository) FindLatestClosedByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error) {
	return r.findOne(ctx, `
		SELECT `+recordColumns+`
		FROM attendances
		WHERE user_id = $1 AND check_in_time >= $2 AND check_out_time IS NOT NULL
		ORDER BY check_in_time DESC
		LIMIT 1
	`, userID, dayStart)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new open session. The partial unique index on
// (user_id, day_start) rejects a second open session for the same day.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendances (id, user_id, day_start, check_in_time, check_out_time, photo_url)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.UserID, rec.DayStart, rec.CheckInTime, rec.CheckOutTime, rec.PhotoURL)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, apperr.Wrap(apperr.KindConflict, err, msgAlreadyCheckedIn)
		}
		return Record{}, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, nil
}

// UpdateCheckOut closes the session id if it is still open.
func (r *Repository) UpdateCheckOut(ctx context.Context, id string, at time.Time) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		UPDATE attendances
		SET check_out_time = $2
		WHERE id = $1 AND check_out_time IS NULL
		RETURNING `+recordColumns, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, apperr.Conflict(msgNoActiveCheckIn)
		}
		return Record{}, fmt.Errorf("check out attendance: %w", err)
	}
	return rec, nil
}

// FindPage returns one page of records newest first, and the filtered total.
func (r *Repository) FindPage(ctx context.Context, f Filter, offset, limit int) ([]Record, int, error) {
	if offset < 0 || limit < 0 {
		return nil, 0, errBadWindow
	}
	args := []any{}
	clauses := []string{}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.UserID)
	}
	if !f.Range.From.IsZero() {
		clauses = append(clauses, "check_in_time >= $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Range.From)
	}
	if !f.Range.To.IsZero() {
		clauses = append(clauses, "check_in_time <= $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Range.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendances`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attendances: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM attendances` + where +
		" ORDER BY check_in_time DESC, id DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attendances: %w", err)
	}
	defer rows.Close()
	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, rec)
	}
	return res, total, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
