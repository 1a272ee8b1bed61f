package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/registry"
	"go.uber.org/zap"
)

// Server is the HTTP front: the REST surface plus the websocket
// channel endpoint.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

func NewServer(addr string, h *Handlers, tokens *auth.TokenService, reg *registry.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLog(logger))

	router.POST("/api/anonymous-login", h.login)

	authed := router.Group("/", authorized(tokens))
	authed.GET("/ws", handleWS(reg, logger))
	authed.GET("/api/chat", h.recents)
	authed.POST("/api/chat", h.send)
	authed.GET("/api/chat/offline", h.offline)
	authed.GET("/api/chat/ai", h.aiThread)
	authed.POST("/api/chat/ai", h.ask)
	authed.GET("/api/users", h.searchUsers)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// requestLog records one line per completed request.
func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}
