package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"attendancesvc/internal/apperr"
)

// MemoryStore keeps records in process. It enforces the same one-open-session
// rule as the database backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func clone(r Record) Record {
	if r.CheckOutTime != nil {
		t := *r.CheckOutTime
		r.CheckOutTime = &t
	}
	return r
}

func (m *MemoryStore) latest(userID string, dayStart time.Time, open bool) *Record {
	var best *Record
	for i := range m.records {
		r := &m.records[i]
		if r.UserID != userID || r.CheckInTime.Before(dayStart) || r.Open() != open {
			continue
		}
		if best == nil || r.CheckInTime.After(best.CheckInTime) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	c := clone(*best)
	return &c
}

func (m *MemoryStore) FindOpenByUserAndDay(_ context.Context, userID string, dayStart time.Time) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest(userID, dayStart, true), nil
}

func (m *MemoryStore) FindLatestClosedByUserAndDay(_ context.Context, userID string, dayStart time.Time) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest(userID, dayStart, false), nil
}

func (m *MemoryStore) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Open() {
		for _, r := range m.records {
			if r.UserID == rec.UserID && r.Open() && r.DayStart.Equal(rec.DayStart) {
				return Record{}, apperr.Conflict(msgAlreadyCheckedIn)
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.records = append(m.records, clone(rec))
	return rec, nil
}

func (m *MemoryStore) UpdateCheckOut(_ context.Context, id string, at time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if !m.records[i].Open() {
			break
		}
		t := at
		m.records[i].CheckOutTime = &t
		return clone(m.records[i]), nil
	}
	return Record{}, apperr.Conflict(msgNoActiveCheckIn)
}

func (m *MemoryStore) FindPage(_ context.Context, f Filter, offset, limit int) ([]Record, int, error) {
	if offset < 0 || limit < 0 {
		return nil, 0, errBadWindow
	}
	m.mu.RLock()
	matched := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if !f.Range.Contains(r.CheckInTime) {
			continue
		}
		matched = append(matched, clone(r))
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CheckInTime.Equal(matched[j].CheckInTime) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CheckInTime.After(matched[j].CheckInTime)
	})

	total := len(matched)
	if offset >= total {
		return []Record{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}
