package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/messaging"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/MarcoPoloResearchLab/courier/internal/notifications"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"go.uber.org/zap"
)

// Messages carried by scoped error events. Internal detail stays in the logs.
const (
	messageInvalidFrame       = "Invalid event frame"
	messageUnknownEvent       = "Unknown event"
	messageInvalidPayload     = "Invalid event payload"
	messageNotAMember         = "Not a member of this conversation"
	messageEmptyContent       = "Message content is required"
	messageJoinFailed         = "Failed to join conversation"
	messageSendFailed         = "Failed to send message"
	messageMarkReadFailed     = "Failed to mark message as read"
	messageCountFailed        = "Failed to get notification count"
	messageNotificationFailed = "Failed to mark notification as read"
	messageReadAllFailed      = "Failed to mark all notifications as read"
	messagePresenceFailed     = "Failed to list online users"

	unknownEventLabel = "unknown"
)

type eventHandler func(h *httpHandler, conn *realtime.Conn, data json.RawMessage, logger *zap.Logger) string

var eventHandlers = map[string]eventHandler{
	realtime.EventRoomJoin:           (*httpHandler).handleRoomJoin,
	realtime.EventRoomLeave:          (*httpHandler).handleRoomLeave,
	realtime.EventMessageSend:        (*httpHandler).handleMessageSend,
	realtime.EventMessageRead:        (*httpHandler).handleMessageRead,
	realtime.EventTyping:             (*httpHandler).handleTyping,
	realtime.EventNotificationsCount: (*httpHandler).handleNotificationsCount,
	realtime.EventNotificationRead:   (*httpHandler).handleNotificationRead,
	realtime.EventNotificationsRead:  (*httpHandler).handleNotificationsReadAll,
	realtime.EventPresenceList:       (*httpHandler).handlePresenceList,
}

// dispatch runs one client event to completion on the connection's read goroutine, so a
// single connection's events are handled in the order they arrived.
func (h *httpHandler) dispatch(conn *realtime.Conn, frame realtime.Frame, logger *zap.Logger) {
	started := time.Now()
	handler, ok := eventHandlers[frame.Event]
	label := frame.Event
	outcome := metrics.OutcomeRejected
	if ok {
		outcome = handler(h, conn, frame.Data, logger.With(zap.String("event", frame.Event)))
	} else {
		label = unknownEventLabel
		h.sendError(conn, messageUnknownEvent)
	}
	metrics.InboundEvents.WithLabelValues(label, outcome).Inc()
	metrics.InboundEventDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
}

func (h *httpHandler) sendError(conn *realtime.Conn, message string) {
	h.hub.Send(conn, realtime.EventError, realtime.ErrorPayload{Message: message})
}

// decodeIdentifier accepts either a bare JSON string or an object carrying field.
func decodeIdentifier(data json.RawMessage, field string) (string, bool) {
	var value string
	if err := json.Unmarshal(data, &value); err == nil {
		value = strings.TrimSpace(value)
		return value, value != ""
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return "", false
	}
	raw, ok := object[field]
	if !ok {
		return "", false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (h *httpHandler) handleRoomJoin(conn *realtime.Conn, data json.RawMessage, logger *zap.Logger) string {
	conversationID, ok := decodeIdentifier(data, "conversationId")
	if !ok {
		h.sendError(conn, messageInvalidPayload)
		return metrics.OutcomeRejected
	}
	err := h.topology.JoinConversation(h.baseContext, conn, conversationID)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, realtime.ErrNotAMember):
		h.sendError(conn, messageNotAMember)
		return metrics.OutcomeRejected
	default:
		logger.Error("failed to join conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		h.sendError(conn, messageJoinFailed)
		return metrics.OutcomeError
	}
}

func (h *httpHandler) handleRoomLeave(conn *realtime.Conn, data json.RawMessage, _ *zap.Logger) string {
	conversationID, ok := decodeIdentifier(data, "conversationId")
	if !ok {
		return metrics.OutcomeIgnored
	}
	h.topology.LeaveConversation(conn, conversationID)
	return metrics.OutcomeOK
}

func (h *httpHandler) handleMessageSend(conn *realtime.Conn, data json.RawMessage, logger *zap.Logger) string {
	var request messaging.SendPayload
	if err := json.Unmarshal(data, &request); err != nil {
		h.sendError(conn, messageInvalidPayload)
		return metrics.OutcomeRejected
	}
	_, err := h.coordinator.Send(h.baseContext, conn.Identity(), request)
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, messaging.ErrNotAMember):
		h.sendError(conn, messageNotAMember)
		return metrics.OutcomeRejected
	case errors.Is(err, messaging.ErrEmptyContent):
		h.sendError(conn, messageEmptyContent)
		return metrics.OutcomeRejected
	default:
		logger.Error("failed to send message", zap.String("conversation_id", request.ConversationID), zap.Error(err))
		h.sendError(conn, messageSendFailed)
		return metrics.OutcomeError
	}
}

func (h *httpHandler) handleMessageRead(conn *realtime.Conn, data json.RawMessage, logger *zap.Logger) string {
	messageID, ok := decodeIdentifier(data, "messageId")
	if !ok {
		return metrics.OutcomeIgnored
	}
	changed, err := h.receipts.MarkRead(h.baseContext, conn.Identity(), messageID)
	if err != nil {
		logger.Error("failed to mark message read", zap.String("message_id", messageID), zap.Error(err))
		h.sendError(conn, messageMarkReadFailed)
		return metrics.OutcomeError
	}
	if !changed {
		return metrics.OutcomeIgnored
	}
	return metrics.OutcomeOK
}

func (h *httpHandler) handleTyping(conn *realtime.Conn, data json.RawMessage, _ *zap.Logger) string {
	var request messaging.TypingRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return metrics.OutcomeIgnored
	}
	h.typing.Relay(conn, request)
	return metrics.OutcomeOK
}

func (h *httpHandler) handleNotificationsCount(conn *realtime.Conn, _ json.RawMessage, logger *zap.Logger) string {
	count, err := h.notifications.Count(h.baseContext, conn.Identity().UserID)
	if err != nil {
		logger.Error("failed to count notifications", zap.Error(err))
		h.sendError(conn, messageCountFailed)
		return metrics.OutcomeError
	}
	h.hub.Send(conn, realtime.EventNotificationsCount, notifications.CountPayload{Count: count})
	return metrics.OutcomeOK
}

func (h *httpHandler) handleNotificationRead(conn *realtime.Conn, data json.RawMessage, logger *zap.Logger) string {
	notificationID, ok := decodeIdentifier(data, "notificationId")
	if !ok {
		return metrics.OutcomeIgnored
	}
	updated, err := h.notifications.MarkRead(h.baseContext, conn.Identity().UserID, notificationID)
	if err != nil {
		logger.Error("failed to mark notification read", zap.String("notification_id", notificationID), zap.Error(err))
		h.sendError(conn, messageNotificationFailed)
		return metrics.OutcomeError
	}
	if !updated {
		return metrics.OutcomeIgnored
	}
	h.hub.Send(conn, realtime.EventNotificationUpdated, notifications.UpdatedPayload{ID: notificationID, Read: true})
	return metrics.OutcomeOK
}

func (h *httpHandler) handleNotificationsReadAll(conn *realtime.Conn, _ json.RawMessage, logger *zap.Logger) string {
	if _, err := h.notifications.MarkAllRead(h.baseContext, conn.Identity().UserID); err != nil {
		logger.Error("failed to mark all notifications read", zap.Error(err))
		h.sendError(conn, messageReadAllFailed)
		return metrics.OutcomeError
	}
	h.hub.Send(conn, realtime.EventNotificationsAll, nil)
	return metrics.OutcomeOK
}

func (h *httpHandler) handlePresenceList(conn *realtime.Conn, _ json.RawMessage, logger *zap.Logger) string {
	online, err := h.presence.List(h.baseContext, conn.Identity().TenantID)
	if err != nil {
		logger.Error("failed to list presence", zap.Error(err))
		h.sendError(conn, messagePresenceFailed)
		return metrics.OutcomeError
	}
	if online == nil {
		online = []string{}
	}
	h.hub.Send(conn, realtime.EventPresenceList, online)
	return metrics.OutcomeOK
}
