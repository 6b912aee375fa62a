package chat

import (
	"net/http"

	"ChatRelay/middleware"
	midsec "ChatRelay/middleware/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleWS upgrades a request whose identity was bound by the security
// middleware and serves the stream until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	userID, ok := midsec.UserID(c)
	if !ok {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if s.closing.Load() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the http error
		s.log.Info("upgrade websocket failed", zap.Int64("user", userID), zap.Error(err))
		return
	}
	s.Serve(ws, userID)
}

// HandleStats reports registry counters.
func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

// HandleHealth answers liveness probes.
func (s *Server) HandleHealth(c *gin.Context) {
	if s.closing.Load() {
		c.String(http.StatusServiceUnavailable, "shutting down")
		return
	}
	c.String(http.StatusOK, "ok")
}

// Routes mounts the relay on r. Both path and "/" accept upgrades, since
// older clients connect to the bare host.
func (s *Server) Routes(r gin.IRouter, path string, identity *midsec.Options) {
	if identity == nil {
		identity = midsec.DefaultOptions()
	}
	opt := middleware.RouteOpt{Identity: identity}
	r.GET("/healthz", s.HandleHealth)
	r.GET("/stats", s.HandleStats)
	middleware.GET(r, path, s.HandleWS, opt)
	if path != "/" {
		middleware.GET(r, "/", s.HandleWS, opt)
	}
}
