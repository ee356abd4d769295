package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/logging"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval    = 25 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultMaxMessageBytes = int64(64 << 10)
)

func withSocketDefaults(cfg SocketConfig) SocketConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	return cfg
}

// handleSocket authenticates before upgrading; a rejected handshake never reaches the hub.
func (h *httpHandler) handleSocket(c *gin.Context) {
	identity, code, ok := h.authenticate(c)
	if !ok {
		metrics.HandshakeFailures.WithLabelValues(code).Inc()
		c.AbortWithStatusJSON(failureStatus(code), gin.H{"error": code})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	conn := h.topology.Attach(identity)
	logger := h.logger.With(logging.ConnectionFields(conn.ID(), identity.TenantID, identity.UserID)...)
	logger.Debug("connection established")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn, logger)
	}()

	if _, err := h.presence.Connect(h.baseContext, identity); err != nil {
		logger.Error("presence connect failed", zap.Error(err))
	}

	h.readPump(ws, conn, logger)

	conn.Close(metrics.CloseReasonPeer)
	<-writerDone
	if _, err := h.presence.Disconnect(h.baseContext, identity); err != nil {
		logger.Error("presence disconnect failed", zap.Error(err))
	}
	h.topology.Detach(conn)
	logger.Debug("connection closed", zap.String("reason", conn.CloseReason()))
}

func (h *httpHandler) readPump(ws *websocket.Conn, conn *realtime.Conn, logger *zap.Logger) {
	ws.SetReadLimit(h.socket.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.socket.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.socket.PongTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("connection read ended", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			h.sendError(conn, messageInvalidFrame)
			continue
		}
		h.dispatch(conn, frame, logger)
	}
}

// writePump is the only goroutine that writes to ws.
func (h *httpHandler) writePump(ws *websocket.Conn, conn *realtime.Conn, logger *zap.Logger) {
	ticker := time.NewTicker(h.socket.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(h.socket.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write failed", zap.Error(err))
				conn.Close(metrics.CloseReasonPeer)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.socket.WriteTimeout)); err != nil {
				conn.Close(metrics.CloseReasonPeer)
				return
			}
		case <-conn.Done():
			closeCode := websocket.CloseNormalClosure
			if conn.CloseReason() == metrics.CloseReasonSlow {
				closeCode = websocket.ClosePolicyViolation
			}
			message := websocket.FormatCloseMessage(closeCode, conn.CloseReason())
			_ = ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(h.socket.WriteTimeout))
			return
		}
	}
}
