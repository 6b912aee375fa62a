package middleware

import (
	"sync"
	"time"

	"ChatRelay/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareManager holds the chain mounted in front of every route.
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add 注册一个中间件
func (m *MiddlewareManager) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h...)
}

func (m *MiddlewareManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mids)
}

// Use returns one gin.HandlerFunc running the chain registered so far.
// Registration after Use takes effect on the next request. Chain members
// must not call c.Next; an abort stops the chain and the route.
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...) // snapshot
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// AccessLog logs one line per request. Websocket upgrades are logged when
// the stream ends. Mount it with gin's Use, not in a MiddlewareManager.
func AccessLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("remote", c.ClientIP()),
			zap.Duration("took", time.Since(start)))
	}
}
