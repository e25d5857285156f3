package config

import "time"

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreSQL    = "sql"
)

// AppConfig 网关全部配置
type AppConfig struct {
	NodeID int64        `mapstructure:"node_id"` // 雪花节点号
	HTTP   HTTPConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	WS     WSConfig     `mapstructure:"ws"`
	Store  StoreConfig  `mapstructure:"store"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	SQL    SQLConfig    `mapstructure:"sql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Nats   NatsConfig   `mapstructure:"nats"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Notify NotifyConfig `mapstructure:"notify"`

	Registry RegistryConfig `mapstructure:"registry"`
	Health   HealthConfig   `mapstructure:"health"`
}

type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // 为空时放行所有来源
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Alg    string `mapstructure:"alg"`
	Issuer string `mapstructure:"issuer"`
}

type WSConfig struct {
	SendQueue      int           `mapstructure:"send_queue"` // 每连接发送队列长度
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"` // 单次存储调用超时
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory | mongo | sql
}

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	AuthSource  string `mapstructure:"auth_source"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

type SQLConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | mysql
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig Addr 为空时不开启在线状态镜像
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

// NatsConfig Servers 为空时不开启
type NatsConfig struct {
	Servers   []string `mapstructure:"servers"`
	Name      string   `mapstructure:"name"`
	Subject   string   `mapstructure:"subject"`
	User      string   `mapstructure:"user"`
	Pass      string   `mapstructure:"pass"`
	JetStream bool     `mapstructure:"jetstream"` // 走 JetStream 并按通知 id 去重
}

// KafkaConfig Brokers 为空时不开启
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	Compression       string   `mapstructure:"compression"` // none/snappy/lz4/zstd
}

type NotifyConfig struct {
	Workers     int           `mapstructure:"workers"`
	Queue       int           `mapstructure:"queue"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// RegistryConfig ConsulAddr 为空时不注册
type RegistryConfig struct {
	ConsulAddr       string            `mapstructure:"consul_addr"`
	ServiceName      string            `mapstructure:"service_name"`
	AdvertiseAddress string            `mapstructure:"advertise_address"` // 为空时 consul 用 agent 地址
	AdvertisePort    int               `mapstructure:"advertise_port"`
	TTL              time.Duration     `mapstructure:"ttl"`
	DeregisterAfter  time.Duration     `mapstructure:"deregister_after"`
	Meta             map[string]string `mapstructure:"meta"`
}

type HealthConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Threshold int           `mapstructure:"threshold"`
}
