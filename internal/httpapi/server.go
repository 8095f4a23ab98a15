// Package httpapi exposes the session facade over HTTP using gin: POST
// /query, POST /sessions, GET /sessions/{id}, GET /sessions/{id}/messages,
// and DELETE /sessions/{id} (spec §6).
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentcore/runtime/internal/checkpoint"
	"github.com/agentcore/runtime/internal/model"
	"github.com/agentcore/runtime/internal/session"
	"github.com/agentcore/runtime/internal/telemetry"
)

// Handler adapts session.Facade to gin routes.
type Handler struct {
	facade  *session.Facade
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// NewHandler builds a Handler. logger and metrics may be nil, in which case
// telemetry.NewNoopLogger()/NewNoopMetrics() are substituted.
func NewHandler(facade *session.Facade, logger telemetry.Logger, metrics telemetry.Metrics) *Handler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Handler{facade: facade, logger: logger, metrics: metrics}
}

// Register mounts the runtime's routes on engine.
func (h *Handler) Register(engine *gin.Engine) {
	engine.POST("/query", h.handleQuery)
	engine.POST("/sessions", h.handleCreateSession)
	engine.GET("/sessions/:id", h.handleGetSession)
	engine.GET("/sessions/:id/messages", h.handleGetMessages)
	engine.DELETE("/sessions/:id", h.handleDeleteSession)
}

type queryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type queryResponse struct {
	Query       string                  `json:"query"`
	Response    string                  `json:"response"`
	SessionID   string                  `json:"session_id"`
	UserActions []userActionProjection  `json:"user_actions"`
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
}

type userActionProjection struct {
	ToolName string         `json:"tool_name"`
	ToolCall string         `json:"tool_call_id"`
	Payload  map[string]any `json:"payload"`
}

func (h *Handler) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, queryResponse{Success: false, Error: err.Error()})
		return
	}

	start := time.Now()
	result, err := h.facade.Invoke(c.Request.Context(), req.Query, req.SessionID, req.UserID)
	h.metrics.RecordTimer("httpapi.query.duration", time.Since(start))
	if err != nil {
		h.logger.Error(c.Request.Context(), "query failed", "error", err, "session_id", req.SessionID)
		h.metrics.IncCounter("httpapi.query.errors", 1)
		c.JSON(http.StatusInternalServerError, queryResponse{
			Query: req.Query, SessionID: req.SessionID, Success: false, Error: err.Error(),
		})
		return
	}

	actions := make([]userActionProjection, len(result.UserActions))
	for i, a := range result.UserActions {
		actions[i] = userActionProjection{ToolName: a.ToolName, ToolCall: a.ToolCall, Payload: a.Payload}
	}

	c.JSON(http.StatusOK, queryResponse{
		Query:       req.Query,
		Response:    result.Response,
		SessionID:   result.SessionID,
		UserActions: actions,
		Success:     true,
	})
}

type createSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (h *Handler) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	// Body is optional: an empty POST creates an anonymous session.
	_ = c.ShouldBindJSON(&req)

	sessionID, err := h.facade.CreateSession(c.Request.Context(), req.SessionID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
}

func (h *Handler) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	messages, err := h.facade.Messages(c.Request.Context(), id)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "message_count": len(messages)})
}

func (h *Handler) handleGetMessages(c *gin.Context) {
	id := c.Param("id")
	messages, err := h.facade.Messages(c.Request.Context(), id)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "messages": projectMessages(messages)})
}

func (h *Handler) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.facade.Delete(c.Request.Context(), id); err != nil {
		h.respondSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) respondSessionError(c *gin.Context, err error) {
	if errors.Is(err, checkpoint.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type messageProjection struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	ToolID  string `json:"tool_call_id,omitempty"`
}

func projectMessages(messages []model.Message) []messageProjection {
	out := make([]messageProjection, len(messages))
	for i, m := range messages {
		out[i] = messageProjection{Role: string(m.Role), Text: m.Text, ToolID: m.ToolCallID}
	}
	return out
}
