// Package streaming relays completion stream chunks to browser
// clients over a WebSocket, for consumers that prefer a persistent
// socket over Server-Sent Events.
//
// Adapted from orchestrator/streaming/client.go's ReadPump/WritePump
// ping-pong keepalive: that hub multiplexed many tasks per connection
// through a Subscribe/Unsubscribe protocol, while one connection here
// drives exactly one completion request end to end, closing once its
// terminal chunk is sent.
package streaming

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execservice"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades one HTTP connection to a WebSocket, reads a single
// CompletionRequest from it, and relays the resulting stream chunks
// back as JSON text frames until the terminal chunk.
type Handler struct {
	svc    *execservice.Service
	logger *logger.Logger
}

// NewHandler builds a streaming Handler bound to svc.
func NewHandler(svc *execservice.Service, log *logger.Logger) *Handler {
	return &Handler{svc: svc, logger: log}
}

// ServeHTTP implements http.Handler so this can be registered
// directly on a gin route via gin.WrapH, or any other mux.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var req execservice.CompletionRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.logger.Warn("invalid completion request over websocket", zap.Error(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = execservice.NewSessionID()
	}
	req.Stream = true

	chunks, _, err := h.svc.StreamChunks(r.Context(), req)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(chunk)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
