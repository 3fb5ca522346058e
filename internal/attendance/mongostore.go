package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"attendancesvc/internal/apperr"
)

// recordDoc is the stored shape. Open mirrors CheckOutTime == nil so the
// partial unique index can filter on it.
type recordDoc struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"userId"`
	DayStart     time.Time  `bson:"dayStart"`
	CheckInTime  time.Time  `bson:"checkInTime"`
	CheckOutTime *time.Time `bson:"checkOutTime"`
	PhotoURL     string     `bson:"photoUrl"`
	Open         bool       `bson:"open"`
}

func (d recordDoc) record() Record {
	return Record{
		ID:           d.ID,
		UserID:       d.UserID,
		DayStart:     d.DayStart,
		CheckInTime:  d.CheckInTime,
		CheckOutTime: d.CheckOutTime,
		PhotoURL:     d.PhotoURL,
	}
}

// MongoStore persists attendance records in MongoDB.
type MongoStore struct {
	c *mongo.Collection
}

// NewMongoStore uses the attendances collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{c: db.Collection("attendances")}
}

// EnsureIndexes creates the lookup indexes and the one-open-session backstop.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "dayStart", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"open": true}).
				SetName("idx_attendance_one_open_per_day"),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "checkInTime", Value: -1}},
			Options: options.Index().SetName("idx_attendance_user_check_in"),
		},
		{
			Keys:    bson.D{{Key: "checkInTime", Value: -1}},
			Options: options.Index().SetName("idx_attendance_check_in"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) findLatest(ctx context.Context, userID string, dayStart time.Time, open bool) (*Record, error) {
	var doc recordDoc
	err := s.c.FindOne(ctx,
		bson.M{"userId": userID, "checkInTime": bson.M{"$gte": dayStart}, "open": open},
		options.FindOne().SetSort(bson.D{{Key: "checkInTime", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := doc.record()
	return &rec, nil
}

func (s *MongoStore) FindOpenByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error) {
	return s.findLatest(ctx, userID, dayStart, true)
}

func (s *MongoStore) FindLatestClosedByUserAndDay(ctx context.Context, userID string, dayStart time.Time) (*Record, error) {
	return s.findLatest(ctx, userID, dayStart, false)
}

func (s *MongoStore) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	doc := recordDoc{
		ID:           rec.ID,
		UserID:       rec.UserID,
		DayStart:     rec.DayStart,
		CheckInTime:  rec.CheckInTime,
		CheckOutTime: rec.CheckOutTime,
		PhotoURL:     rec.PhotoURL,
		Open:         rec.Open(),
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return Record{}, apperr.Wrap(apperr.KindConflict, err, msgAlreadyCheckedIn)
		}
		return Record{}, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, nil
}

func (s *MongoStore) UpdateCheckOut(ctx context.Context, id string, at time.Time) (Record, error) {
	var doc recordDoc
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "open": true},
		bson.M{"$set": bson.M{"checkOutTime": at, "open": false}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, apperr.Conflict(msgNoActiveCheckIn)
	}
	if err != nil {
		return Record{}, fmt.Errorf("check out attendance: %w", err)
	}
	return doc.record(), nil
}

func (s *MongoStore) FindPage(ctx context.Context, f Filter, offset, limit int) ([]Record, int, error) {
	if offset < 0 || limit < 0 {
		return nil, 0, errBadWindow
	}
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if !f.Range.From.IsZero() || !f.Range.To.IsZero() {
		span := bson.M{}
		if !f.Range.From.IsZero() {
			span["$gte"] = f.Range.From
		}
		if !f.Range.To.IsZero() {
			span["$lte"] = f.Range.To
		}
		filter["checkInTime"] = span
	}

	total, err := s.c.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count attendances: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "checkInTime", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list attendances: %w", err)
	}
	defer cur.Close(ctx)

	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	res := make([]Record, 0, len(docs))
	for _, d := range docs {
		res = append(res, d.record())
	}
	return res, int(total), nil
}
