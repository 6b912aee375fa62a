package kafka

import (
	"context"
	"errors"
	"time"

	"ChatRelay/global/config"
	"ChatRelay/logger"
	"ChatRelay/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// ConsumerGroupHandler hands every claimed message to the router and marks
// it consumed whatever the outcome; delivery is at-most-once downstream.
type ConsumerGroupHandler struct {
	router *Router
	log    *zap.Logger
}

func NewConsumerGroupHandler(r *Router) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{router: r, log: logger.Named("kafka")}
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.String("member", s.MemberID()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup", zap.String("member", s.MemberID()))
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *ConsumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	defer safe.Recover("kafka "+msg.Topic, nil)
	handler, err := h.router.Get(msg.Topic)
	if err != nil {
		h.log.Warn("no handler", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := handler(ctx, msg.Topic, msg.Key, msg.Value); err != nil {
		h.log.Debug("handler error",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

// RunConsumerGroup consumes topics until ctx is done, rejoining after every
// rebalance.
func RunConsumerGroup(ctx context.Context, c config.KafkaConfig, clientID string, r *Router) error {
	cfg, err := BuildConfig(c, clientID)
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = group.Close() }()

	log := logger.Named("kafka")
	safe.Go("kafka errors", func() {
		for err := range group.Errors() {
			log.Warn("consumer group error", zap.Error(err))
		}
	})

	handler := NewConsumerGroupHandler(r)
	for {
		if err := group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
