package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
)

type stubMembership struct {
	members map[string]map[string]bool
	err     error
}

func (s stubMembership) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.members[conversationID][userID], nil
}

func TestTopologyAttachJoinsTenantAndUserRooms(t *testing.T) {
	topology := NewTopology(NewHub(HubConfig{}), stubMembership{}, nil)
	conn := topology.Attach(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})

	if !conn.InRoom(TenantRoom("tenant-1")) || !conn.InRoom(UserRoom("user-1")) {
		t.Fatalf("expected automatic rooms, got %v", conn.Rooms())
	}
	if len(conn.Rooms()) != 2 {
		t.Fatalf("expected exactly two rooms, got %v", conn.Rooms())
	}
}

func TestTopologyJoinConversationRequiresMembership(t *testing.T) {
	membership := stubMembership{members: map[string]map[string]bool{
		"conv-1": {"user-1": true},
	}}
	topology := NewTopology(NewHub(HubConfig{}), membership, nil)
	member := topology.Attach(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})
	stranger := topology.Attach(auth.Identity{UserID: "user-9", TenantID: "tenant-1"})

	if err := topology.JoinConversation(context.Background(), member, "conv-1"); err != nil {
		t.Fatalf("member join failed: %v", err)
	}
	if err := topology.JoinConversation(context.Background(), stranger, "conv-1"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected not a member error, got %v", err)
	}
	if err := topology.JoinConversation(context.Background(), stranger, "unknown"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected not a member error for unknown conversation, got %v", err)
	}
	if stranger.InRoom(ConversationRoom("conv-1")) {
		t.Fatal("stranger must not join the conversation room")
	}
	if topology.Hub().RoomSize(ConversationRoom("conv-1")) != 1 {
		t.Fatalf("expected only the member in the room")
	}
	expectSilence(t, stranger)
}

func TestTopologyJoinConversationSurfacesLookupFailure(t *testing.T) {
	topology := NewTopology(NewHub(HubConfig{}), stubMembership{err: errors.New("db down")}, nil)
	conn := topology.Attach(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})

	err := topology.JoinConversation(context.Background(), conn, "conv-1")
	if err == nil || errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected internal lookup error, got %v", err)
	}
	if conn.InRoom(ConversationRoom("conv-1")) {
		t.Fatal("failed lookup must not join the room")
	}
}

func TestTopologyLeaveConversationAlwaysSucceeds(t *testing.T) {
	topology := NewTopology(NewHub(HubConfig{}), stubMembership{}, nil)
	conn := topology.Attach(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})
	topology.LeaveConversation(conn, "never-joined")
	if len(conn.Rooms()) != 2 {
		t.Fatalf("leave must not touch automatic rooms: %v", conn.Rooms())
	}
}

func TestRoomStringAndValidity(t *testing.T) {
	if TenantRoom("t1").String() != "tenant:t1" || UserRoom("u1").String() != "user:u1" || ConversationRoom("c1").String() != "conversation:c1" {
		t.Fatal("unexpected room wire names")
	}
	if ConversationRoom(" ").Valid() || (Room{}).Valid() {
		t.Fatal("empty rooms must be invalid")
	}
}
