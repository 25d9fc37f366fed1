package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/errors"
	"github.com/finsight/finsight/internal/common/logger"
	"github.com/finsight/finsight/internal/progress"
	"github.com/finsight/finsight/internal/relay"
	"github.com/finsight/finsight/internal/relay/streaming"
	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// maxEventBody bounds the size of a published progress event.
const maxEventBody = 1 << 20

// Handler contains HTTP handlers for the progress relay API
type Handler struct {
	service  *relay.Service
	upstream *relay.Upstream
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler
func NewHandler(svc *relay.Service, upstream *relay.Upstream, log *logger.Logger) *Handler {
	return &Handler{
		service:  svc,
		upstream: upstream,
		logger:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same permissive policy as the CORS middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// upstreamChunk carries one read from the upstream body, preserving the
// order of data and terminal error.
type upstreamChunk struct {
	data []byte
	err  error
}

// StreamProgress relays the upstream event stream for a session to the
// client, interleaved with locally published broadcast events.
// GET /api/progress/:sessionId
func (h *Handler) StreamProgress(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message})
		return
	}

	log := h.logger.WithSessionID(sessionID)
	ctx := c.Request.Context()

	resp, err := h.upstream.OpenStream(ctx, sessionID)
	if err != nil {
		appErr := errors.UpstreamError(0, err)
		c.JSON(appErr.HTTPStatus, gin.H{"error": "failed to connect to analysis backend"})
		return
	}
	if resp.Body == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis backend returned no stream"})
		return
	}
	defer resp.Body.Close()

	// Non-2xx upstream responses surface to the client with the same status.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("upstream rejected stream request", zap.Int("status", resp.StatusCode))
		c.JSON(resp.StatusCode, gin.H{"error": "analysis backend returned an error"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable intermediary buffering
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sub := h.service.Subscribe(sessionID)
	defer h.service.Unsubscribe(sub)

	// One reader goroutine per stream. Its lifetime is tied to the request
	// context: when the client disconnects, ctx is cancelled, the upstream
	// body read fails, and the goroutine exits.
	chunks := make(chan upstreamChunk, 8)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case chunks <- upstreamChunk{data: data}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case chunks <- upstreamChunk{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected, closing upstream stream")
			return

		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if len(chunk.data) > 0 {
				// Chunks are forwarded verbatim: no parsing, reframing, or
				// buffering of event boundaries.
				if _, err := c.Writer.Write(chunk.data); err != nil {
					log.Debug("client write failed", zap.Error(err))
					return
				}
				c.Writer.Flush()
			}
			if chunk.err != nil {
				if chunk.err == io.EOF {
					log.Debug("upstream stream completed")
				} else {
					log.Warn("upstream stream error", zap.Error(chunk.err))
				}
				return
			}

		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := c.Writer.Write(relay.FormatSSE(msg)); err != nil {
				log.Debug("client write failed", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

// PublishProgress publishes a progress event for a session.
// POST /api/progress/:sessionId
func (h *Handler) PublishProgress(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		appErr := errors.BadRequest("failed to read request body")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	if err := h.service.PublishEvent(c.Request.Context(), sessionID, body); err != nil {
		h.logger.Error("failed to publish progress event",
			zap.String("session_id", sessionID), zap.Error(err))
		appErr := errors.InternalError("failed to publish progress event", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, PublishResponse{Success: true})
}

// ListLogs returns a session's stored progress history with per-entry
// duration labels. Pass ?processing=true for a live elapsed label on the
// final entry.
// GET /api/progress/:sessionId/logs
func (h *Handler) ListLogs(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	entries, err := h.service.Logs(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list progress logs",
			zap.String("session_id", sessionID), zap.Error(err))
		appErr := errors.InternalError("failed to list progress logs", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	processing := c.Query("processing") == "true"

	logs := make([]v1.ProgressLog, len(entries))
	for i, e := range entries {
		logs[i] = *e
	}
	labels := progress.EntryDurations(logs, processing, time.Now())

	resp := LogsResponse{
		SessionID: sessionID,
		Logs:      make([]*LogEntryResponse, len(entries)),
		Total:     len(entries),
	}
	for i := range entries {
		resp.Logs[i] = &LogEntryResponse{ProgressLog: logs[i], Duration: labels[i]}
	}

	c.JSON(http.StatusOK, resp)
}

// ClearLogs removes a session's stored progress history.
// DELETE /api/progress/:sessionId/logs
func (h *Handler) ClearLogs(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.ClearLogs(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("failed to clear progress logs",
			zap.String("session_id", sessionID), zap.Error(err))
		appErr := errors.InternalError("failed to clear progress logs", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListSessions returns the sessions with stored history.
// GET /api/progress
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.service.Sessions(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		appErr := errors.InternalError("failed to list sessions", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, SessionsResponse{Sessions: sessions, Total: len(sessions)})
}

// StreamProgressWS streams a session's broadcast events over a WebSocket.
// GET /api/progress/:sessionId/ws
func (h *Handler) StreamProgressWS(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	sub := h.service.Subscribe(sessionID)
	client := streaming.NewClient(conn, sub.C(), func() { h.service.Unsubscribe(sub) }, h.logger.WithSessionID(sessionID))
	go client.Run()
}

// HealthCheck reports service liveness.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "progress-relay",
	})
}
