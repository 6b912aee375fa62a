package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"ChatRelay/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OriginPolicy is the websocket origin allow-list. "*" allows every origin.
// Requests without an Origin header (non-browser clients) always pass.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o == "*":
			p.allowAll = true
		default:
			n, ok := normalizeOrigin(o)
			if !ok {
				logger.Warn("ignoring invalid origin in configuration", zap.String("origin", o))
				continue
			}
			p.allowed[n] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// Check fits websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) Check(r *http.Request) bool {
	h := r.Header.Get("Origin")
	if h == "" || p.allowAll {
		return true
	}
	n, ok := normalizeOrigin(h)
	if ok {
		if _, ok = p.allowed[n]; ok {
			return true
		}
	}
	logger.Warn("blocked websocket from disallowed origin", zap.String("origin", h))
	return false
}

// Origin rejects disallowed origins before the upgrade is attempted.
func Origin(p *OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.Check(c.Request) {
			c.AbortWithStatus(http.StatusForbidden)
		}
	}
}
