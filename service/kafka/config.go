package kafka

import (
	"strings"
	"time"

	"ChatRelay/global/config"

	"github.com/Shopify/sarama"
)

// BuildConfig turns the relay's kafka section into a consumer config.
func BuildConfig(c config.KafkaConfig, clientID string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	version := sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, err
		}
		version = v
	}
	cfg.Version = version

	switch strings.ToLower(c.InitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, cfg.Validate()
}
