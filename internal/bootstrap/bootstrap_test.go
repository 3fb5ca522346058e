package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
	"attendancesvc/internal/config"
	"attendancesvc/internal/gateway"
	"attendancesvc/internal/httpmiddleware"
	"attendancesvc/internal/lock"
)

func memoryConfig(t *testing.T) config.App {
	cfg := config.Defaults()
	cfg.TransportBackend = "memory"
	cfg.StoreBackend = "memory"
	cfg.LockBackend = "memory"
	cfg.RateLimitBackend = "memory"
	cfg.UploadDir = t.TempDir()
	cfg.RPCTimeout = 2 * time.Second
	cfg.RPCWorkers = 2
	cfg.Timezone = "UTC"
	cfg.SeedUserIDs = []string{"u1"}
	return cfg
}

// roundTrip serves the attendance service from res and checks one user in
// through the client side.
func roundTrip(t *testing.T, res *Resources) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := res.AttendanceService(ctx)
	if err != nil {
		t.Fatal(err)
	}
	srv := res.AttendanceServer(svc)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	<-srv.Ready()

	client := res.AttendanceClient()
	rec, err := client.CheckIn(ctx, "u1", "uploads/a.jpg")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	st, err := client.Status(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != attendance.StatusCheckedIn || st.CurrentAttendance == nil || st.CurrentAttendance.ID != rec.ID {
		t.Errorf("status = %+v", st)
	}
	if _, err := client.CheckIn(ctx, "ghost", "uploads/b.jpg"); err == nil {
		t.Error("unseeded user checked in")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("serve: %v", err)
	}
}

func TestResources_Memory(t *testing.T) {
	res := New(memoryConfig(t), zap.NewNop())
	defer res.Close()

	roundTrip(t, res)

	if _, ok := res.Locker().(*lock.Keyed); !ok {
		t.Errorf("locker = %T", res.Locker())
	}
	if _, ok := res.Limiter().(*httpmiddleware.SimpleTokenBucket); !ok {
		t.Errorf("limiter = %T", res.Limiter())
	}
	photos, err := res.Photos()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := photos.(*gateway.LocalPhotos); !ok {
		t.Errorf("photos = %T", photos)
	}
	if checks := res.Health(); len(checks) != 0 {
		t.Errorf("memory backends opened connections: %v", checks)
	}
}

func TestResources_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t)
	cfg.TransportBackend = "redis"
	cfg.LockBackend = "redis"
	cfg.RateLimitBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	res := New(cfg, zap.NewNop())
	defer res.Close()

	roundTrip(t, res)

	if _, ok := res.Locker().(*lock.Redis); !ok {
		t.Errorf("locker = %T", res.Locker())
	}
	if _, ok := res.Limiter().(*httpmiddleware.RedisWindow); !ok {
		t.Errorf("limiter = %T", res.Limiter())
	}
	checks := res.Health()
	if check, ok := checks["redis"]; !ok || !check(context.Background()) {
		t.Errorf("redis health = %v", checks)
	}
}

func TestResources_LimiterDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RateLimitPerMin = 0
	if l := New(cfg, nil).Limiter(); l != nil {
		t.Errorf("limiter = %T, want nil", l)
	}
}

func TestResources_BadTimezone(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := New(cfg, nil).AttendanceService(context.Background()); err == nil {
		t.Error("unknown timezone accepted")
	}
}
