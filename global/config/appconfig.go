package config

import "time"

const (
	ProtocolChat        = "chat"
	ProtocolKeyExchange = "keyexchange"
)

type AppConfig struct {
	NodeId   int64          `yaml:"node_id"` // snowflake node, 0..1023
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Relay    RelayConfig    `yaml:"relay"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`      // http + websocket
	GrpcPort       int           `yaml:"grpc_port"` // grpc health, 0 disables
	WSPath         string        `yaml:"ws_path"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // "*" allows all, empty allows requests without Origin only
	ShutdownWait   time.Duration `yaml:"shutdown_wait"`
}

type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

type RelayConfig struct {
	Protocol       string          `yaml:"protocol"` // chat | keyexchange
	MaxMessageSize int64           `yaml:"max_message_size"`
	SendQueue      int             `yaml:"send_queue"`
	WriteWait      time.Duration   `yaml:"write_wait"`
	PongWait       time.Duration   `yaml:"pong_wait"`
	PingInterval   time.Duration   `yaml:"ping_interval"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type AuthConfig struct {
	RequireToken bool   `yaml:"require_token"`
	Secret       string `yaml:"secret"`
	Alg          string `yaml:"alg"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"` // empty disables the presence mirror
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type NatsConfig struct {
	Servers         []string      `yaml:"servers"` // empty disables nats
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	IngressSubject  string        `yaml:"ingress_subject"`
	IngressQueue    string        `yaml:"ingress_queue"`
	IngressMode     string        `yaml:"ingress_mode"` // core | jetstream
	Durable         string        `yaml:"durable"`      // jetstream consumer name
	PresenceSubject string        `yaml:"presence_subject"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"` // empty disables kafka
	GroupID       string   `yaml:"group_id"`
	Topics        []string `yaml:"topics"`
	Version       string   `yaml:"version"`
	InitialOffset string   `yaml:"initial_offset"` // newest | oldest
	LogV          int      `yaml:"log_v"`          // glog -v for the sarama client log, 1 shows it
}

type PostgresConfig struct {
	DSN          string        `yaml:"dsn"` // empty disables the friends lookup
	MaxConns     int32         `yaml:"max_conns"`
	FriendsQuery string        `yaml:"friends_query"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}
