package kafka

import (
	"context"
	"testing"

	"ChatRelay/global/config"

	"github.com/Shopify/sarama"
	"github.com/tj/assert"
)

func TestRouterTopics(t *testing.T) {
	r := NewRouter()
	_, err := r.Get("chat.messages")
	assert.NotNil(t, err)

	var got []string
	r.HandleAll([]string{"a", "b"}, func(_ context.Context, topic string, _, _ []byte) error {
		got = append(got, "all:"+topic)
		return nil
	})
	r.Handle("b", func(_ context.Context, topic string, _, _ []byte) error {
		got = append(got, "one:"+topic)
		return nil
	})

	for _, topic := range []string{"a", "b"} {
		h, err := r.Get(topic)
		assert.Nil(t, err)
		assert.Nil(t, h(context.Background(), topic, nil, nil))
	}
	assert.Equal(t, []string{"all:a", "one:b"}, got)
	_, err = r.Get("c")
	assert.NotNil(t, err)
}

func TestGlogBridgeLevel(t *testing.T) {
	assert.Nil(t, UseGlog(1))
	_, ok := sarama.Logger.(glogLogger)
	assert.True(t, ok)

	var lines []string
	capture := func(l glogLogger) glogLogger {
		l.out = func(_ int, msg string) { lines = append(lines, msg) }
		return l
	}
	capture(newGlogLogger(saramaLevel)).Printf("client/metadata fetching %s\n", "chat.messages")
	capture(newGlogLogger(saramaLevel)).Println("consumer", "up")
	// above the configured verbosity
	capture(newGlogLogger(saramaLevel + 1)).Print("noisy")
	assert.Equal(t, []string{"client/metadata fetching chat.messages", "consumer up"}, lines)
}

func TestHandleRecoversPanic(t *testing.T) {
	r := NewRouter()
	r.Handle("t", func(context.Context, string, []byte, []byte) error { panic("boom") })
	h := NewConsumerGroupHandler(r)
	// must not propagate
	h.handle(context.Background(), &sarama.ConsumerMessage{Topic: "t", Value: []byte("{}")})
	h.handle(context.Background(), &sarama.ConsumerMessage{Topic: "missing"})
}

func TestBuildConfig(t *testing.T) {
	c := config.Default().Kafka
	c.InitialOffset = "oldest"
	cfg, err := BuildConfig(c, "relay-1")
	assert.Nil(t, err)
	assert.Equal(t, "relay-1", cfg.ClientID)
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
	assert.Equal(t, sarama.V2_1_0_0, cfg.Version)

	c.Version = "not-a-version"
	_, err = BuildConfig(c, "")
	assert.NotNil(t, err)
}
