package global

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ChatRelay/global/config"
	mid "ChatRelay/middleware"
	"ChatRelay/service/chat"

	"github.com/gin-gonic/gin"
	"github.com/tj/assert"
)

func TestEngineRejectsForeignOrigin(t *testing.T) {
	cfg := config.Default()
	relay := chat.NewServer(chat.Options{})
	t.Cleanup(func() { _ = relay.Shutdown(context.Background()) })
	r := NewEngine(relay, cfg, mid.NewOriginPolicy([]string{"https://ok.test"}))

	get := func(origin string) int {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusForbidden, get("https://evil.test"))
	assert.Equal(t, http.StatusOK, get("https://ok.test"))
	assert.Equal(t, http.StatusOK, get(""))
}

type fakeLookup map[int64]string

func (f fakeLookup) Lookup(_ context.Context, id int64) (string, bool, error) {
	if id < 0 {
		return "", false, errors.New("redis down")
	}
	node, ok := f[id]
	return node, ok, nil
}

func TestHandlePresence(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/presence/:id", HandlePresence(fakeLookup{7: "2"}))

	get := func(path string) (int, map[string]any) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w.Code, body
	}
	code, body := get("/presence/7")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["online"])
	assert.Equal(t, "2", body["node"])

	code, body = get("/presence/8")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["online"])

	code, _ = get("/presence/abc")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get("/presence/-1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
