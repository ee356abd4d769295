package realtime

import "encoding/json"

// Client to server events.
const (
	EventRoomJoin           = "room:join"
	EventRoomLeave          = "room:leave"
	EventMessageSend        = "message:send"
	EventMessageRead        = "message:read"
	EventTyping             = "typing"
	EventNotificationsCount = "notifications:count"
	EventNotificationRead   = "notification:read"
	EventNotificationsRead  = "notifications:readAll"
	EventPresenceList       = "presence:list"
)

// Server to client events. EventMessageRead, EventNotificationsCount and
// EventPresenceList are reused as reply names.
const (
	EventMessageNew          = "message:new"
	EventNotificationNew     = "notification:new"
	EventNotificationUpdated = "notification:updated"
	EventNotificationsAll    = "notifications:allRead"
	EventPresenceOnline      = "presence:online"
	EventPresenceOffline     = "presence:offline"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
	EventError               = "error"
)

// Frame is the JSON envelope exchanged in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the body of a scoped error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeFrame marshals an event and its payload into a wire frame.
func EncodeFrame(event string, payload interface{}) ([]byte, error) {
	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}
