// Package pushgw exposes the local HTTP intake for push payloads. A
// delivery relay (or a test curl) posts the payload here and the
// notification bridge renders it.
package pushgw

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/notify"
)

// Server is the push intake HTTP server.
type Server struct {
	bridge *notify.Bridge
	logger *zap.Logger
	srv    *http.Server
}

// New builds a server listening on addr.
func New(addr string, bridge *notify.Bridge, logger *zap.Logger) *Server {
	s := &Server{bridge: bridge, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.POST("/v1/push", s.handlePush)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("push intake listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("push intake server", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePush(c *gin.Context) {
	var payload notify.PushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.bridge.HandlePush(payload)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
