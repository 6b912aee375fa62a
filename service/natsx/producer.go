package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsxProducer 生产端
type NatsxProducer struct{ c *NatsxClient }

func NewNatsxProducer(c *NatsxClient) *NatsxProducer { return &NatsxProducer{c: c} }

// Publish 按 Biz 路由发送
func (p *NatsxProducer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	switch r.Mode {
	case Core:
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		return nil
	case JetStreamPush:
		if _, err := p.c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported mode")
	}
}

// PublishOnce sets Nats-Msg-Id so JetStream and the ingress dedup drop
// repeats. An empty msgID gets a random one.
func (p *NatsxProducer) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	if msgID == "" {
		msgID = genMsgID()
	}
	h["Nats-Msg-Id"] = msgID
	return p.Publish(ctx, biz, data, h)
}

func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
