// Package users answers whether a user id is known. Users are owned by the
// employee service; this package only reads them.
package users

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Directory resolves user ids.
type Directory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Postgres reads the users table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a directory over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Exists implements Directory.
func (p *Postgres) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// Mongo reads the users collection, keyed by string _id.
type Mongo struct {
	c *mongo.Collection
}

// NewMongo creates a directory over db.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{c: db.Collection("users")}
}

// Exists implements Directory.
func (m *Mongo) Exists(ctx context.Context, id string) (bool, error) {
	err := m.c.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return err == nil, err
}

// Static is a fixed in-memory directory for dev mode and tests.
type Static struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStatic returns a directory that knows ids.
func NewStatic(ids ...string) *Static {
	s := &Static{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Add registers id.
func (s *Static) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Exists implements Directory.
func (s *Static) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}
