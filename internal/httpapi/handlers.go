package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentforge/runtime/internal/common/apperrors"
	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execservice"
)

// Handler holds the execservice facade this HTTP surface passes
// requests through to.
type Handler struct {
	svc    *execservice.Service
	logger *logger.Logger
}

// NewHandler builds a Handler bound to svc.
func NewHandler(svc *execservice.Service, log *logger.Logger) *Handler {
	return &Handler{svc: svc, logger: log}
}

func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, gin.H{"error": gin.H{"code": appErr.Code, "message": appErr.Message}})
		return
	}
	c.JSON(apperrors.GetHTTPStatus(err), gin.H{"error": gin.H{"code": apperrors.ErrCodeInternalError, "message": err.Error()}})
}

// ChatCompletions implements POST /v1/chat/completions: dispatches to
// Complete or StreamChunks depending on req.Stream.
func (h *Handler) ChatCompletions(c *gin.Context) {
	var req execservice.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.AgentID == "" {
		writeError(c, apperrors.ValidationError("agent_id", "agent_id is required"))
		return
	}

	if !req.Stream {
		resp, err := h.svc.Complete(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	h.streamCompletion(c, req)
}

// streamCompletion forwards chunks to the client as Server-Sent
// Events, one `data: <json>` line per chunk, terminated by the
// conventional `data: [DONE]` sentinel.
func (h *Handler) streamCompletion(c *gin.Context, req execservice.CompletionRequest) {
	chunks, _, err := h.svc.StreamChunks(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-chunks
		if !ok {
			fmt.Fprint(w, "data: [DONE]\n\n")
			return false
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		return true
	})
}

// ListInstances implements GET /v1/instances.
func (h *Handler) ListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": h.svc.ListInstances()})
}

// DestroyInstance implements DELETE /v1/instances/:agent/:session.
func (h *Handler) DestroyInstance(c *gin.Context) {
	agentID := c.Param("agent")
	sessionID := c.Param("session")
	destroyed := h.svc.DestroySessionInstance(agentID, sessionID)
	if !destroyed {
		writeError(c, apperrors.NotFound("agent instance", agentID+"#"+sessionID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"destroyed": true})
}

// Stats implements GET /v1/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
