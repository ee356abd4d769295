package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"go.uber.org/zap"
)

// ErrNotAMember reports a conversation operation by a user without a membership row.
var ErrNotAMember = errors.New("not a member of this conversation")

// MembershipChecker is the read-only conversation membership oracle.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// Topology manages which rooms a connection belongs to.
type Topology struct {
	hub     *Hub
	members MembershipChecker
	logger  *zap.Logger
}

// NewTopology wires the hub to the membership oracle.
func NewTopology(hub *Hub, members MembershipChecker, logger *zap.Logger) *Topology {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Topology{hub: hub, members: members, logger: logger}
}

// Hub exposes the underlying registry.
func (t *Topology) Hub() *Hub {
	return t.hub
}

// Attach registers an authenticated identity and joins its tenant and personal rooms.
func (t *Topology) Attach(identity auth.Identity) *Conn {
	conn := t.hub.Register(identity)
	t.hub.Join(conn, TenantRoom(identity.TenantID))
	t.hub.Join(conn, UserRoom(identity.UserID))
	return conn
}

// Detach drops the connection from every room.
func (t *Topology) Detach(conn *Conn) {
	t.hub.Unregister(conn)
}

// JoinConversation joins the conversation room after confirming membership.
// A missing membership row yields ErrNotAMember and leaves room state unchanged.
func (t *Topology) JoinConversation(ctx context.Context, conn *Conn, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrNotAMember
	}
	identity := conn.Identity()
	ok, err := t.members.IsMember(ctx, conversationID, identity.UserID)
	if err != nil {
		return fmt.Errorf("realtime: membership lookup: %w", err)
	}
	if !ok {
		return ErrNotAMember
	}
	t.hub.Join(conn, ConversationRoom(conversationID))
	t.logger.Debug("joined conversation room",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", identity.UserID),
		zap.String("conversation_id", conversationID),
	)
	return nil
}

// LeaveConversation leaves the conversation room; always succeeds.
func (t *Topology) LeaveConversation(conn *Conn, conversationID string) {
	t.hub.Leave(conn, ConversationRoom(conversationID))
}
