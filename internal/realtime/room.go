package realtime

import "strings"

// RoomKind enumerates the sanctioned broadcast group kinds.
type RoomKind uint8

const (
	RoomKindTenant RoomKind = iota + 1
	RoomKindUser
	RoomKindConversation
)

func (k RoomKind) prefix() string {
	switch k {
	case RoomKindTenant:
		return "tenant"
	case RoomKindUser:
		return "user"
	case RoomKindConversation:
		return "conversation"
	default:
		return ""
	}
}

// Room is a named broadcast group. Only the constructors below produce valid rooms.
type Room struct {
	kind RoomKind
	id   string
}

// TenantRoom addresses every authenticated connection of a tenant.
func TenantRoom(tenantID string) Room {
	return Room{kind: RoomKindTenant, id: strings.TrimSpace(tenantID)}
}

// UserRoom addresses every connection (device, tab) of one user.
func UserRoom(userID string) Room {
	return Room{kind: RoomKindUser, id: strings.TrimSpace(userID)}
}

// ConversationRoom addresses connections currently viewing a conversation.
func ConversationRoom(conversationID string) Room {
	return Room{kind: RoomKindConversation, id: strings.TrimSpace(conversationID)}
}

// Kind reports the room kind.
func (r Room) Kind() RoomKind {
	return r.kind
}

// ID reports the tenant, user or conversation id the room is keyed by.
func (r Room) ID() string {
	return r.id
}

// Valid reports whether the room has a known kind and a non-empty id.
func (r Room) Valid() bool {
	return r.kind.prefix() != "" && r.id != ""
}

// String renders the wire name, e.g. "conversation:42".
func (r Room) String() string {
	return r.kind.prefix() + ":" + r.id
}
