package natsx

import (
	"context"
	"fmt"

	"ChatRelay/global/config"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

func NewNatsManager(cfg config.NatsConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// PublishOnce 带 Nats-Msg-Id 发送，订阅端按 id 去重
func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.producer.PublishOnce(ctx, biz, data, hdr, msgID)
}

// Subscribe 订阅；同组内用 Queue 分摊，广播则 Queue 置空
func (m *NatsManager) Subscribe(ctx context.Context, biz string, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.consumer.Subscribe(ctx, biz, h)
}
