package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/leocder07/stockresearch/internal/config"
	"github.com/leocder07/stockresearch/internal/progressbus"
	"github.com/leocder07/stockresearch/internal/types"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "stockresearch-orchestrator",
		"version": config.Version,
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

type submitAnalysisRequest struct {
	Query   string   `json:"query" binding:"required"`
	Symbols []string `json:"symbols" binding:"required,min=1"`
}

// handleSubmitAnalysis accepts an analysis request, kicks off the
// Orchestrator run in the background, and returns immediately with the
// analysis ID a client polls or streams against.
func (s *Server) handleSubmitAnalysis(c *gin.Context) {
	var body submitAnalysisRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := types.AnalysisRequest{
		ID:          uuid.New().String(),
		Query:       body.Query,
		Symbols:     body.Symbols,
		RequestedAt: time.Now().UTC(),
	}

	go func() {
		ctx := context.Background()
		record := s.orchestrator.Run(ctx, req)
		if record.Status == types.StatusFailed {
			log.Warn().Str("analysis_id", req.ID).Str("error", record.ErrorMessage).Msg("analysis run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"id":     req.ID,
		"status": types.StatusPending,
	})
}

// handleGetAnalysis fetches the current state of an analysis.
func (s *Server) handleGetAnalysis(c *gin.Context) {
	id := c.Param("id")

	record, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleGetDrift returns the analysis's most recent drift status plus the
// recent alerts the drift monitor has raised against it.
func (s *Server) handleGetDrift(c *gin.Context) {
	id := c.Param("id")

	record, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return
	}

	alerts, err := s.store.RecentDriftAlerts(c.Request.Context(), id, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load drift alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"drift_status": record.DriftStatus,
		"alerts":       alerts,
	})
}

// handleStreamAnalysis serves a Server-Sent Events stream of the analysis's
// ProgressBus events. A subscriber that joins mid-run only sees events from
// that point onward, per the bus's own join semantics.
func (s *Server) handleStreamAnalysis(c *gin.Context) {
	id := c.Param("id")
	sub := s.bus.Subscribe(id)
	defer sub.Unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := c.Writer.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := c.Writer.Write(payload); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
				return
			}
			c.Writer.Flush()

			if terminal(event.Kind) {
				return
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocketAnalysis offers the same ProgressBus stream over a
// websocket upgrade for clients that prefer it to SSE.
func (s *Server) handleWebSocketAnalysis(c *gin.Context) {
	id := c.Param("id")

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("analysis_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(id)
	defer sub.Unsubscribe()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if terminal(event.Kind) {
				return
			}
		}
	}
}

func terminal(kind progressbus.EventKind) bool {
	return kind == progressbus.AnalysisComplete || kind == progressbus.AnalysisFailed
}
