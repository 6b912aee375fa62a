package natsx

import (
	"context"
	"time"

	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware wraps a handler (logging, dedup).
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain applies mws so that the first one runs outermost.
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// LogMiddleware logs failed messages and recovers handler panics.
func LogMiddleware(log *zap.Logger) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
				}
				if err != nil {
					log.Warn("nats message failed",
						zap.String("subject", msg.Subject),
						zap.Int("len", len(msg.Data)),
						zap.Duration("took", time.Since(start)),
						zap.Error(err))
				}
			}()
			return next(ctx, msg)
		}
	}
}
