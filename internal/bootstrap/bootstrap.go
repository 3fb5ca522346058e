// Package bootstrap turns configuration into wired components. Both binaries
// go through it so backend selection lives in one place.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
	"attendancesvc/internal/clock"
	"attendancesvc/internal/cloudinary"
	"attendancesvc/internal/config"
	"attendancesvc/internal/gateway"
	"attendancesvc/internal/httpmiddleware"
	"attendancesvc/internal/lock"
	"attendancesvc/internal/queue"
	"attendancesvc/internal/rpc"
	"attendancesvc/internal/store"
	"attendancesvc/internal/users"
)

const (
	queuePrefix     = "attsvc:"
	lockPrefix      = "attsvc:lock:"
	rateLimitPrefix = "attsvc:ratelimit:"
)

// Resources opens connections on first use and closes whatever was opened.
type Resources struct {
	cfg config.App
	log *zap.Logger

	mu    sync.Mutex
	redis *store.Redis
	db    *store.DB
	mongo *store.Mongo
	mem   *queue.InMemory
}

// New returns an empty set of resources for cfg.
func New(cfg config.App, log *zap.Logger) *Resources {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resources{cfg: cfg, log: log}
}

func (r *Resources) redisClient() *store.Redis {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.redis == nil {
		r.redis = store.NewRedis(store.RedisOptions{
			Addr:     r.cfg.RedisAddr,
			Password: r.cfg.RedisPassword,
			DB:       r.cfg.RedisDB,
		})
		r.log.Info("redis client ready", zap.String("addr", r.cfg.RedisAddr))
	}
	return r.redis
}

func (r *Resources) postgres(ctx context.Context) (*store.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	db, err := store.NewDB(ctx, r.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r.db = db
	r.log.Info("postgres connected")
	return db, nil
}

func (r *Resources) mongoDB(ctx context.Context) (*store.Mongo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mongo != nil {
		return r.mongo, nil
	}
	m, err := store.NewMongo(ctx, r.cfg.MongoURI, r.cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	r.mongo = m
	r.log.Info("mongo connected", zap.String("db", r.cfg.MongoDB))
	return m, nil
}

// Transport returns the queue and presence registry both sides of the RPC
// channel use. The memory backend is shared by everything built from r.
func (r *Resources) Transport() (queue.Queue, queue.Presence) {
	if r.cfg.TransportBackend == "memory" {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.mem == nil {
			r.mem = queue.NewInMemory(256)
		}
		return r.mem, r.mem
	}
	q := queue.NewRedisQueue(r.redisClient().Client, queuePrefix)
	return q, q
}

// Store picks the attendance store, preparing its schema or indexes.
func (r *Resources) Store(ctx context.Context) (attendance.Store, error) {
	switch r.cfg.StoreBackend {
	case "postgres":
		db, err := r.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return attendance.NewRepository(db.Client), nil
	case "mongo":
		m, err := r.mongoDB(ctx)
		if err != nil {
			return nil, err
		}
		s := attendance.NewMongoStore(m.DB)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return s, nil
	default:
		return attendance.NewMemoryStore(), nil
	}
}

// Users picks the user directory matching the store backend. The memory
// backend knows only SEED_USER_IDS.
func (r *Resources) Users(ctx context.Context) (users.Directory, error) {
	switch r.cfg.StoreBackend {
	case "postgres":
		db, err := r.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return users.NewPostgres(db.Client), nil
	case "mongo":
		m, err := r.mongoDB(ctx)
		if err != nil {
			return nil, err
		}
		return users.NewMongo(m.DB), nil
	default:
		return users.NewStatic(r.cfg.SeedUserIDs...), nil
	}
}

// Locker picks the per-user lock. Leases outlive one RPC timeout.
func (r *Resources) Locker() lock.Locker {
	if r.cfg.LockBackend == "redis" {
		return lock.NewRedis(r.redisClient().Client, lockPrefix, r.cfg.RPCTimeout)
	}
	return lock.NewKeyed()
}

// AttendanceService wires the state machine.
func (r *Resources) AttendanceService(ctx context.Context) (*attendance.Service, error) {
	loc, err := clock.LoadLocation(r.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", r.cfg.Timezone, err)
	}
	st, err := r.Store(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := r.Users(ctx)
	if err != nil {
		return nil, err
	}
	return attendance.NewService(st, dir, r.Locker(), clock.New(loc), r.log.Named("attendance")), nil
}

// AttendanceServer builds the RPC server exposing svc.
func (r *Resources) AttendanceServer(svc *attendance.Service) *rpc.Server {
	q, presence := r.Transport()
	srv := rpc.NewServer(r.cfg.ServiceName, q, presence, r.log.Named("rpc"), rpc.ServerOptions{Workers: r.cfg.RPCWorkers})
	attendance.Register(srv, svc)
	return srv
}

// AttendanceClient builds the gateway's view of the attendance service.
func (r *Resources) AttendanceClient() *attendance.Client {
	q, presence := r.Transport()
	t := rpc.NewQueueTransport(q, presence, r.cfg.ServiceName)
	return attendance.NewClient(rpc.NewClient(t,
		rpc.WithTimeout(r.cfg.RPCTimeout),
		rpc.WithLogger(r.log.Named("rpc")),
	))
}

// Photos picks where check-in photos are kept.
func (r *Resources) Photos() (gateway.PhotoStore, error) {
	maxBytes := int64(r.cfg.MaxUploadBytes)
	if r.cfg.PhotoBackend == "cloudinary" {
		r.log.Info("photos stored in cloudinary", zap.String("cloud", r.cfg.CloudinaryCloudName))
		c := cloudinary.New(r.cfg.CloudinaryCloudName, r.cfg.CloudinaryAPIKey, r.cfg.CloudinaryAPISecret, r.cfg.CloudinaryFolder)
		return gateway.NewCloudinaryPhotos(c, maxBytes), nil
	}
	return gateway.NewLocalPhotos(r.cfg.UploadDir, maxBytes)
}

// Limiter picks the request limiter. A non-positive rate disables limiting.
func (r *Resources) Limiter() httpmiddleware.Limiter {
	if r.cfg.RateLimitPerMin <= 0 {
		return nil
	}
	if r.cfg.RateLimitBackend == "redis" {
		return httpmiddleware.NewRedisWindow(r.redisClient().Client, rateLimitPrefix, r.cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(r.cfg.RateLimitPerMin, r.cfg.RateLimitPerMin)
}

// Health returns a check for every connection opened so far.
func (r *Resources) Health() map[string]gateway.HealthCheck {
	r.mu.Lock()
	defer r.mu.Unlock()
	checks := map[string]gateway.HealthCheck{}
	if r.redis != nil {
		checks["redis"] = r.redis.Healthy
	}
	if r.db != nil {
		checks["db"] = r.db.Healthy
	}
	if r.mongo != nil {
		checks["mongo"] = r.mongo.Healthy
	}
	return checks
}

// Close releases every opened connection.
func (r *Resources) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem != nil {
		_ = r.mem.Close()
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.log.Warn("close redis", zap.Error(err))
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.log.Warn("close postgres", zap.Error(err))
		}
	}
	if r.mongo != nil {
		if err := r.mongo.Close(); err != nil {
			r.log.Warn("close mongo", zap.Error(err))
		}
	}
}
