package kafka

import (
	"context"
	"fmt"
	"sync"
)

type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// Router maps topics to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]MessageHandler)}
}

func (r *Router) Handle(topic string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

// HandleAll registers h for every topic in topics.
func (r *Router) HandleAll(topics []string, h MessageHandler) {
	for _, t := range topics {
		r.Handle(t, h)
	}
}

func (r *Router) Get(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for topic: %s", topic)
}
