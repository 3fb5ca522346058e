package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RPCTimeout != 30*time.Second {
		t.Errorf("RPCTimeout = %v, want 30s", cfg.RPCTimeout)
	}
	if cfg.ServiceName != "attendance" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "config.yaml")
	yml := strings.Join([]string{
		"rpc_timeout: 5s",
		"store_backend: memory",
		"http_port: \"8088\"",
		"seed_user_ids: [u1, u2]",
	}, "\n")
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RPCTimeout != 5*time.Second {
		t.Errorf("RPCTimeout = %v, want 5s from yaml", cfg.RPCTimeout)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.HTTPPort != "9999" {
		t.Errorf("HTTPPort = %q, env should win over yaml", cfg.HTTPPort)
	}
	if !reflect.DeepEqual(cfg.SeedUserIDs, []string{"u1", "u2"}) {
		t.Errorf("SeedUserIDs = %v", cfg.SeedUserIDs)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should be false from env")
	}
}

func TestLoad_EnvList(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SEED_USER_IDS", " a, b ,,c")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.SeedUserIDs, []string{"a", "b", "c"}) {
		t.Errorf("SeedUserIDs = %v", cfg.SeedUserIDs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr bool
	}{
		{"defaults", func(*App) {}, false},
		{"bad store", func(a *App) { a.StoreBackend = "sqlite" }, true},
		{"bad transport", func(a *App) { a.TransportBackend = "grpc" }, true},
		{"zero timeout", func(a *App) { a.RPCTimeout = 0 }, true},
		{"prod dev key", func(a *App) { a.Env = "production" }, true},
		{"prod real key", func(a *App) { a.Env = "production"; a.JWTSigningKey = "s3cret" }, false},
		{"cloudinary without creds", func(a *App) { a.PhotoBackend = "cloudinary" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationEnv_Invalid(t *testing.T) {
	t.Setenv("RPC_TIMEOUT", "soon")
	if got := durationEnv("RPC_TIMEOUT", time.Second); got != time.Second {
		t.Errorf("durationEnv = %v, want fallback", got)
	}
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
