package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFriendsQuery returns the other side of every friendship row of $1.
const DefaultFriendsQuery = `SELECT CASE WHEN "user1Id" = $1 THEN "user2Id" ELSE "user1Id" END
FROM "Friend" WHERE "user1Id" = $1 OR "user2Id" = $1`

// Default returns the in-code configuration every source overlays.
func Default() AppConfig {
	return AppConfig{
		NodeId: 1,
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:           8080,
			GrpcPort:       0,
			WSPath:         "/ws",
			AllowedOrigins: []string{"*"},
			ShutdownWait:   5 * time.Second,
		},
		Relay: RelayConfig{
			Protocol:       ProtocolChat,
			MaxMessageSize: 64 * 1024,
			SendQueue:      256,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingInterval:   54 * time.Second,
			RateLimit: RateLimitConfig{
				Burst:          20,
				RefillInterval: time.Second,
			},
		},
		Auth: AuthConfig{Alg: "HS256"},
		Redis: RedisConfig{
			PoolSize:    10,
			PresenceTTL: 2 * time.Hour,
		},
		Nats: NatsConfig{
			Name:            "chat-relay",
			IngressSubject:  "relay.ingress",
			PresenceSubject: "relay.presence",
			ReconnectWait:   500 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			GroupID:       "chat-relay",
			Topics:        []string{"chat.messages"},
			Version:       "2.1.0",
			InitialOffset: "newest",
		},
		Postgres: PostgresConfig{
			MaxConns:     4,
			FriendsQuery: DefaultFriendsQuery,
			QueryTimeout: 2 * time.Second,
		},
	}
}

// Load overlays the YAML file at path on the defaults. ${VAR} references
// are expanded from the environment first.
func Load(path string) (AppConfig, error) {
	return LoadOver(Default(), path)
}

// LoadOver is Load with base in place of the defaults.
func LoadOver(base AppConfig, path string) (AppConfig, error) {
	cfg := base
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with and fills zero
// values that have a sensible floor.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Relay.Protocol) {
	case ProtocolChat, ProtocolKeyExchange:
		c.Relay.Protocol = strings.ToLower(c.Relay.Protocol)
	case "":
		c.Relay.Protocol = ProtocolChat
	default:
		return fmt.Errorf("relay.protocol %q: want %q or %q", c.Relay.Protocol, ProtocolChat, ProtocolKeyExchange)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.GrpcPort < 0 || c.Server.GrpcPort > 65535 {
		return fmt.Errorf("server.grpc_port %d out of range", c.Server.GrpcPort)
	}
	if c.Server.WSPath == "" || !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path %q must start with /", c.Server.WSPath)
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be positive")
	}
	if c.Relay.SendQueue <= 0 {
		return fmt.Errorf("relay.send_queue must be positive")
	}
	if c.Relay.PongWait <= 0 || c.Relay.PingInterval <= 0 || c.Relay.WriteWait <= 0 {
		return fmt.Errorf("relay timings must be positive")
	}
	if c.Relay.PingInterval >= c.Relay.PongWait {
		return fmt.Errorf("relay.ping_interval %s must be shorter than relay.pong_wait %s", c.Relay.PingInterval, c.Relay.PongWait)
	}
	if c.Relay.RateLimit.Burst <= 0 {
		c.Relay.RateLimit.Burst = 1
	}
	if c.Relay.RateLimit.RefillInterval <= 0 {
		c.Relay.RateLimit.RefillInterval = time.Second
	}
	if c.Auth.RequireToken && c.Auth.Secret == "" {
		return fmt.Errorf("auth.require_token needs auth.secret")
	}
	if len(c.Kafka.Brokers) > 0 && len(c.Kafka.Topics) == 0 {
		return fmt.Errorf("kafka.topics empty")
	}
	if c.Kafka.LogV < 0 {
		return fmt.Errorf("kafka.log_v %d is negative", c.Kafka.LogV)
	}
	if len(c.Nats.Servers) > 0 && c.Nats.IngressSubject == "" {
		return fmt.Errorf("nats.ingress_subject empty")
	}
	switch strings.ToLower(c.Nats.IngressMode) {
	case "", "core":
		c.Nats.IngressMode = "core"
	case "jetstream":
		c.Nats.IngressMode = "jetstream"
	default:
		return fmt.Errorf("nats.ingress_mode %q: want core or jetstream", c.Nats.IngressMode)
	}
	if c.Postgres.DSN != "" && c.Postgres.FriendsQuery == "" {
		c.Postgres.FriendsQuery = DefaultFriendsQuery
	}
	return nil
}

// SplitList turns "a, b,,c" into [a b c].
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
