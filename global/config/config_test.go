package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CARELINK_JWT_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("expected default http address, got %s", cfg.HTTP.Address)
	}
	if cfg.Store.Backend != StoreMemory {
		t.Fatalf("expected memory store, got %s", cfg.Store.Backend)
	}
	if cfg.WS.PongWait != 60*time.Second || cfg.WS.PingInterval != 54*time.Second {
		t.Fatalf("unexpected ws timings %s/%s", cfg.WS.PongWait, cfg.WS.PingInterval)
	}
	if cfg.Notify.Workers != 4 || cfg.Notify.MaxAttempts != 3 {
		t.Fatalf("unexpected notify defaults %+v", cfg.Notify)
	}
	if cfg.JWT.Alg != "HS256" {
		t.Fatalf("expected HS256, got %s", cfg.JWT.Alg)
	}
	if cfg.NodeID != 1 {
		t.Fatalf("expected node id 1, got %d", cfg.NodeID)
	}
	if len(cfg.Nats.Servers) != 0 || len(cfg.Kafka.Brokers) != 0 || cfg.Redis.Addr != "" {
		t.Fatalf("optional backends should be disabled by default")
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
node_id: 7
http:
  address: "127.0.0.1:9000"
  allowed_origins: ["https://app.carelink.test"]
jwt:
  secret: "from-file"
store:
  backend: sql
sql:
  driver: sqlite
  dsn: "file::memory:"
notify:
  workers: 2
  base_backoff: "50ms"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CARELINK_HTTP_ADDRESS", ":7000")
	t.Setenv("CARELINK_NATS_SERVERS", "nats://a:4222, nats://b:4222")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Address != ":7000" {
		t.Fatalf("expected env override for http address, got %s", cfg.HTTP.Address)
	}
	if cfg.JWT.Secret != "from-file" {
		t.Fatalf("expected secret from file, got %s", cfg.JWT.Secret)
	}
	if cfg.NodeID != 7 {
		t.Fatalf("expected node id 7, got %d", cfg.NodeID)
	}
	if cfg.Store.Backend != StoreSQL || cfg.SQL.DSN != "file::memory:" {
		t.Fatalf("unexpected store config %+v %+v", cfg.Store, cfg.SQL)
	}
	if cfg.Notify.Workers != 2 || cfg.Notify.BaseBackoff != 50*time.Millisecond {
		t.Fatalf("unexpected notify config %+v", cfg.Notify)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "https://app.carelink.test" {
		t.Fatalf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if len(cfg.Nats.Servers) != 2 || cfg.Nats.Servers[1] != "nats://b:4222" {
		t.Fatalf("unexpected nats servers %v", cfg.Nats.Servers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CARELINK_JWT_SECRET", "secret")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			NodeID: 1,
			JWT:    JWTConfig{Secret: "s"},
			Store:  StoreConfig{Backend: StoreMemory},
			WS:     WSConfig{SendQueue: 8, PongWait: time.Minute, PingInterval: time.Second},
			Notify: NotifyConfig{Workers: 1, Queue: 1, MaxAttempts: 1},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"no secret", func(c *AppConfig) { c.JWT.Secret = " " }, "jwt.secret"},
		{"mongo without uri", func(c *AppConfig) { c.Store.Backend = StoreMongo }, "mongo.uri"},
		{"bad sql driver", func(c *AppConfig) { c.Store.Backend = StoreSQL; c.SQL.Driver = "pg" }, "sql.driver"},
		{"unknown backend", func(c *AppConfig) { c.Store.Backend = "etcd" }, "store.backend"},
		{"node id", func(c *AppConfig) { c.NodeID = 4096 }, "node_id"},
		{"ping too slow", func(c *AppConfig) { c.WS.PingInterval = 2 * time.Minute }, "ping_interval"},
		{"no workers", func(c *AppConfig) { c.Notify.Workers = 0 }, "notify.workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestWatchAppliesValidChanges(t *testing.T) {
	t.Setenv("CARELINK_JWT_SECRET", "secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("log:\n  level: info\n")

	applied := make(chan AppConfig, 8)
	failed := make(chan error, 8)
	err := Watch(path, func(c AppConfig) {
		select {
		case applied <- c:
		default:
		}
	}, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	write("log:\n  level: debug\nhttp:\n  allowed_origins: [\"https://app.carelink.test\"]\n")
	// 截断和写入可能各触发一次回调，等到最终内容为止
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case c := <-applied:
			done = c.Log.Level == "debug" && len(c.HTTP.AllowedOrigins) == 1
		case <-timeout:
			t.Fatal("change was not applied")
		}
	}

	write("store:\n  backend: etcd\n")
	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "store.backend") {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("invalid change was not reported")
	}
}

func TestWatchWithoutFile(t *testing.T) {
	if err := Watch("", func(AppConfig) { t.Fatal("no file, no reload") }, nil); err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestValidateRegistry(t *testing.T) {
	cfg := AppConfig{
		NodeID:   1,
		JWT:      JWTConfig{Secret: "s"},
		Store:    StoreConfig{Backend: StoreMemory},
		WS:       WSConfig{SendQueue: 8, PongWait: time.Minute, PingInterval: time.Second},
		Notify:   NotifyConfig{Workers: 1, Queue: 1, MaxAttempts: 1},
		Registry: RegistryConfig{ConsulAddr: "127.0.0.1:8500", TTL: 15 * time.Second},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "advertise_port") {
		t.Fatalf("Validate() = %v", err)
	}
	cfg.Registry.AdvertisePort = 8080
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}
