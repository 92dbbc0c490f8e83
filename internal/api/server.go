package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handlers, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.Named("http")))

	router.GET("/healthz", h.HealthCheck)

	owner := router.Group("/api/v1/owners/:owner", requireOwner)
	{
		owner.POST("/alerts", h.CreateAlert)
		owner.GET("/alerts", h.ListAlerts)
		owner.GET("/alerts/:id", h.GetAlert)
		owner.PATCH("/alerts/:id", h.UpdateAlert)
		owner.DELETE("/alerts/:id", h.DeleteAlert)
		owner.GET("/alerts/:id/triggers", h.ListAlertTriggers)

		owner.GET("/triggers", h.ListTriggers)
		owner.GET("/stats", h.GetStats)

		owner.GET("/preferences", h.GetPreferences)
		owner.PUT("/preferences", h.PutPreferences)
	}
	return router
}

// requireOwner rejects owner path segments that cannot be used as a subject token
func requireOwner(c *gin.Context) {
	if err := model.ValidateOwnerID(c.Param("owner")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// requestLogger logs each request through zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Server is the HTTP server hosting the API
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server listening on addr
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("http-server"),
	}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
