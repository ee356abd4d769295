package messaging

import (
	"strings"

	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
)

// TypingRelay forwards typing signals to the other connections in a conversation room.
// Nothing is persisted and membership is not checked.
type TypingRelay struct {
	broadcaster Broadcaster
}

// NewTypingRelay constructs a relay.
func NewTypingRelay(broadcaster Broadcaster) *TypingRelay {
	return &TypingRelay{broadcaster: broadcaster}
}

// Relay emits typing:start or typing:stop to everyone in the room except origin and
// returns the number of recipients.
func (r *TypingRelay) Relay(origin *realtime.Conn, request TypingRequest) int {
	conversationID := strings.TrimSpace(request.ConversationID)
	if conversationID == "" || r.broadcaster == nil {
		return 0
	}
	identity := origin.Identity()
	event := realtime.EventTypingStop
	if request.IsTyping {
		event = realtime.EventTypingStart
	}
	return r.broadcaster.EmitExcept(realtime.ConversationRoom(conversationID), origin, event, TypingPayload{
		ConversationID: conversationID,
		UserID:         identity.UserID,
		UserName:       identity.DisplayName(),
	})
}
