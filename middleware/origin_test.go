package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tj/assert"
)

func request(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://Chat.Example.com", "not a url", ""})
	assert.True(t, p.Check(request("")))
	assert.True(t, p.Check(request("https://chat.example.com")))
	assert.False(t, p.Check(request("https://evil.example.com")))
	assert.False(t, p.Check(request("http://chat.example.com")))

	all := NewOriginPolicy([]string{"*"})
	assert.True(t, all.Check(request("https://anything.test")))
}

func TestOriginMiddlewareAndManager(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager()
	m.Add(Origin(NewOriginPolicy([]string{"https://ok.test"})))
	var hits int
	var order []string
	m.Add(func(c *gin.Context) { hits++; order = append(order, "chain") })
	assert.Equal(t, 2, m.Len())

	r := gin.New()
	r.Use(AccessLog(), m.Use())
	r.GET("/ws", func(c *gin.Context) {
		order = append(order, "route")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, request("https://bad.test"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, hits)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, request("https://ok.test"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, hits)
	assert.Equal(t, []string{"chain", "route"}, order)
}
