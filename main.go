package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ChatRelay/global"
	"ChatRelay/global/config"
	"ChatRelay/logger"

	"github.com/golang/glog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var version = "dev"

var opts struct {
	ConfigPath string
	Preset     string
	Port       int
	GrpcPort   int
	Protocol   string
	NodeID     int64
	LogLevel   string
	LogJSON    bool
	Redis      string
	Nats       string
	Kafka      string
	KafkaLogV  int
	Postgres   string
	Secret     string
	Origins    string
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "yaml config file", EnvVars: []string{"RELAY_CONFIG"}, Destination: &opts.ConfigPath},
		&cli.StringFlag{Name: "preset", Usage: "node layout: " + strings.Join(config.PresetNames(), ", "), EnvVars: []string{"RELAY_PRESET"}, Destination: &opts.Preset},
		&cli.IntFlag{Name: "port", Usage: "http/websocket port", EnvVars: []string{"PORT"}, Destination: &opts.Port},
		&cli.IntFlag{Name: "grpc-port", Usage: "grpc health port, 0 disables", EnvVars: []string{"GRPC_PORT"}, Destination: &opts.GrpcPort},
		&cli.StringFlag{Name: "protocol", Usage: "envelope enumeration: chat or keyexchange", EnvVars: []string{"RELAY_PROTOCOL"}, Destination: &opts.Protocol},
		&cli.Int64Flag{Name: "node-id", Usage: "snowflake node id", EnvVars: []string{"NODE_ID"}, Destination: &opts.NodeID},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}, Destination: &opts.LogLevel},
		&cli.BoolFlag{Name: "log-json", Usage: "json log lines", EnvVars: []string{"LOG_JSON"}, Destination: &opts.LogJSON},
		&cli.StringFlag{Name: "redis", Usage: "redis address for the presence mirror", EnvVars: []string{"REDIS_ADDR"}, Destination: &opts.Redis},
		&cli.StringFlag{Name: "nats", Usage: "comma separated nats servers", EnvVars: []string{"NATS_URL"}, Destination: &opts.Nats},
		&cli.StringFlag{Name: "kafka", Usage: "comma separated kafka brokers", EnvVars: []string{"KAFKA_BROKERS"}, Destination: &opts.Kafka},
		&cli.IntFlag{Name: "kafka-log-v", Usage: "glog verbosity for the kafka client log, 1 shows it", EnvVars: []string{"KAFKA_LOG_V"}, Destination: &opts.KafkaLogV},
		&cli.StringFlag{Name: "postgres", Usage: "postgres dsn for friend lookups", EnvVars: []string{"DATABASE_URL"}, Destination: &opts.Postgres},
		&cli.StringFlag{Name: "jwt-secret", Usage: "require a token signed with this secret", EnvVars: []string{"JWT_SECRET"}, Destination: &opts.Secret},
		&cli.StringFlag{Name: "origins", Usage: "comma separated websocket origin allow-list", EnvVars: []string{"ALLOWED_ORIGINS"}, Destination: &opts.Origins},
	}
}

// loadConfig overlays the file on the preset and lets explicitly set flags
// win over both.
func loadConfig(c *cli.Context) (config.AppConfig, error) {
	base, err := config.Preset(opts.Preset)
	if err != nil {
		return base, err
	}
	cfg, err := config.LoadOver(base, opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if c.IsSet("port") {
		cfg.Server.Port = opts.Port
	}
	if c.IsSet("grpc-port") {
		cfg.Server.GrpcPort = opts.GrpcPort
	}
	if c.IsSet("protocol") {
		cfg.Relay.Protocol = opts.Protocol
	}
	if c.IsSet("node-id") {
		cfg.NodeId = opts.NodeID
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = opts.LogLevel
	}
	if c.IsSet("log-json") {
		cfg.Log.JSON = opts.LogJSON
	}
	if c.IsSet("redis") {
		cfg.Redis.Addr = opts.Redis
	}
	if c.IsSet("nats") {
		cfg.Nats.Servers = config.SplitList(opts.Nats)
	}
	if c.IsSet("kafka") {
		cfg.Kafka.Brokers = config.SplitList(opts.Kafka)
	}
	if c.IsSet("kafka-log-v") {
		cfg.Kafka.LogV = opts.KafkaLogV
	}
	if c.IsSet("postgres") {
		cfg.Postgres.DSN = opts.Postgres
	}
	if c.IsSet("jwt-secret") {
		cfg.Auth.Secret = opts.Secret
		cfg.Auth.RequireToken = opts.Secret != ""
	}
	if c.IsSet("origins") {
		cfg.Server.AllowedOrigins = config.SplitList(opts.Origins)
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.JSON)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := global.New(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("chat relay starting", zap.String("version", version), zap.Int64("node", cfg.NodeId))
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("chat relay stopped")
	return nil
}

func main() {
	// glog registers its flags on the std flag set; sarama output goes to
	// stderr at -v=1 and above
	_ = flag.Set("logtostderr", "true")
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	app := &cli.App{
		Name:    "chat-relay",
		Usage:   "real-time relay for chat envelopes over websocket",
		Version: version,
		Flags:   flags(),
		Action:  run,
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
