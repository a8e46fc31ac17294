package api

import (
	"github.com/gin-gonic/gin"

	"github.com/leocder07/stockresearch/internal/metrics"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		analyses := v1.Group("/analyses")
		{
			analyses.POST("", s.handleSubmitAnalysis)
			analyses.GET("/:id", s.handleGetAnalysis)
			analyses.GET("/:id/stream", s.handleStreamAnalysis)
			analyses.GET("/:id/ws", s.handleWebSocketAnalysis)
			analyses.GET("/:id/drift", s.handleGetDrift)
		}
	}

	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/", s.handleRoot)
}
