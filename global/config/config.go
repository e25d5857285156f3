package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CARELINK"

var defaults = map[string]any{
	"node_id": 1,

	"http.address":          ":8080",
	"http.allowed_origins":  []string{},
	"http.shutdown_timeout": "10s",

	"log.level":  "info",
	"log.format": "console",

	"jwt.alg": "HS256",

	"ws.send_queue":       256,
	"ws.max_message_size": 64 * 1024,
	"ws.write_wait":       "10s",
	"ws.pong_wait":        "60s",
	"ws.ping_interval":    "54s",
	"ws.store_timeout":    "5s",

	"store.backend": StoreMemory,

	"mongo.database":      "carelink",
	"mongo.max_pool_size": 20,
	"mongo.max_retry":     3,

	"sql.driver": "sqlite",
	"sql.dsn":    "file:carelink.db?_busy_timeout=5000",

	"redis.presence_ttl": "2m",

	"nats.name":    "carelink-gateway",
	"nats.subject": "carelink.notifications",

	"kafka.topic":              "carelink.notifications",
	"kafka.partitions":         8,
	"kafka.replication_factor": 1,
	"kafka.compression":        "snappy",

	"nats.jetstream": false,

	"registry.service_name":     "carelink-gateway",
	"registry.ttl":              "15s",
	"registry.deregister_after": "1m",

	"health.interval":  "10s",
	"health.timeout":   "2s",
	"health.threshold": 3,

	"notify.workers":      4,
	"notify.queue":        1024,
	"notify.max_attempts": 3,
	"notify.base_backoff": "200ms",
	"notify.max_backoff":  "5s",
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CARELINK_ and override file values,
// e.g. CARELINK_JWT_SECRET or CARELINK_STORE_BACKEND.
func Load(path string) (AppConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return AppConfig{}, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// AutomaticEnv only sees keys viper already knows about.
	for _, k := range []string{"jwt.secret", "jwt.issuer", "mongo.uri", "mongo.username",
		"mongo.password", "mongo.auth_source", "redis.addr", "redis.password", "redis.db",
		"redis.pool_size", "nats.servers", "nats.user", "nats.pass", "kafka.brokers",
		"registry.consul_addr", "registry.advertise_address", "registry.advertise_port"} {
		_ = v.BindEnv(k)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// 环境变量里的列表是逗号分隔字符串
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)
	cfg.Nats.Servers = splitList(cfg.Nats.Servers)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验必填项与取值范围
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for store backend %q", c.Store.Backend)
		}
	case StoreSQL:
		if c.SQL.Driver != "sqlite" && c.SQL.Driver != "mysql" {
			return fmt.Errorf("unsupported sql.driver %q", c.SQL.Driver)
		}
		if c.SQL.DSN == "" {
			return fmt.Errorf("sql.dsn is required for store backend %q", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id must be within 0..1023, got %d", c.NodeID)
	}
	if c.WS.SendQueue <= 0 {
		return fmt.Errorf("ws.send_queue must be positive")
	}
	if c.WS.PingInterval >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_interval (%s) must be shorter than ws.pong_wait (%s)", c.WS.PingInterval, c.WS.PongWait)
	}
	if c.Notify.Workers <= 0 || c.Notify.Queue <= 0 {
		return fmt.Errorf("notify.workers and notify.queue must be positive")
	}
	if c.Registry.ConsulAddr != "" {
		if c.Registry.AdvertisePort <= 0 {
			return fmt.Errorf("registry.advertise_port is required when registry.consul_addr is set")
		}
		if c.Registry.TTL < 2*time.Second {
			return fmt.Errorf("registry.ttl must be at least 2s, got %s", c.Registry.TTL)
		}
	}
	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notify.max_attempts must be positive")
	}
	return nil
}

func (c AppConfig) StoreTimeout() time.Duration {
	if c.WS.StoreTimeout <= 0 {
		return 5 * time.Second
	}
	return c.WS.StoreTimeout
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
