package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
)

func readFrame(t *testing.T, conn *Conn) Frame {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		return frame
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected frame within deadline")
	}
	return Frame{}
}

func expectSilence(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		t.Fatalf("did not expect frame, got %s", raw)
	default:
	}
}

func TestHubEmitReachesRoomMembersOnce(t *testing.T) {
	hub := NewHub(HubConfig{})
	first := hub.Register(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})
	second := hub.Register(auth.Identity{UserID: "user-2", TenantID: "tenant-1"})
	outsider := hub.Register(auth.Identity{UserID: "user-3", TenantID: "tenant-2"})

	room := ConversationRoom("conv-1")
	hub.Join(first, room)
	hub.Join(first, room)
	hub.Join(second, room)

	delivered := hub.Emit(room, EventMessageNew, map[string]string{"id": "m-1"})
	if delivered != 2 {
		t.Fatalf("expected 2 recipients, got %d", delivered)
	}
	for _, conn := range []*Conn{first, second} {
		frame := readFrame(t, conn)
		if frame.Event != EventMessageNew {
			t.Fatalf("unexpected event %s", frame.Event)
		}
		expectSilence(t, conn)
	}
	expectSilence(t, outsider)
}

func TestHubEmitExceptSkipsOrigin(t *testing.T) {
	hub := NewHub(HubConfig{})
	origin := hub.Register(auth.Identity{UserID: "user-1"})
	peer := hub.Register(auth.Identity{UserID: "user-2"})
	room := ConversationRoom("conv-1")
	hub.Join(origin, room)
	hub.Join(peer, room)

	if delivered := hub.EmitExcept(room, origin, EventTypingStart, nil); delivered != 1 {
		t.Fatalf("expected 1 recipient, got %d", delivered)
	}
	if frame := readFrame(t, peer); frame.Event != EventTypingStart || len(frame.Data) != 0 {
		t.Fatalf("unexpected frame %#v", frame)
	}
	expectSilence(t, origin)
}

func TestHubLeaveIsIdempotent(t *testing.T) {
	hub := NewHub(HubConfig{})
	conn := hub.Register(auth.Identity{UserID: "user-1"})
	room := ConversationRoom("conv-1")

	hub.Leave(conn, room)
	hub.Join(conn, room)
	hub.Leave(conn, room)
	hub.Leave(conn, room)

	if hub.RoomSize(room) != 0 || conn.InRoom(room) {
		t.Fatalf("expected connection to have left the room")
	}
}

func TestHubUnregisterRemovesFromAllRooms(t *testing.T) {
	hub := NewHub(HubConfig{})
	conn := hub.Register(auth.Identity{UserID: "user-1", TenantID: "tenant-1"})
	hub.Join(conn, TenantRoom("tenant-1"))
	hub.Join(conn, UserRoom("user-1"))

	hub.Unregister(conn)
	hub.Unregister(conn)

	if hub.RoomSize(TenantRoom("tenant-1")) != 0 || hub.RoomSize(UserRoom("user-1")) != 0 {
		t.Fatalf("expected rooms to be empty")
	}
	select {
	case <-conn.Done():
	default:
		t.Fatal("expected connection to be closed")
	}
	if hub.Join(conn, ConversationRoom("conv-1")) {
		t.Fatal("unregistered connection must not join rooms")
	}
	if hub.Emit(TenantRoom("tenant-1"), EventPresenceOffline, nil) != 0 {
		t.Fatal("expected no recipients after unregister")
	}
}

func TestHubClosesSlowConsumer(t *testing.T) {
	hub := NewHub(HubConfig{QueueSize: 1})
	conn := hub.Register(auth.Identity{UserID: "user-1"})
	room := UserRoom("user-1")
	hub.Join(conn, room)

	if hub.Emit(room, EventNotificationNew, nil) != 1 {
		t.Fatal("expected first frame to be queued")
	}
	if hub.Emit(room, EventNotificationNew, nil) != 0 {
		t.Fatal("expected second frame to overflow")
	}
	if conn.CloseReason() != metrics.CloseReasonSlow {
		t.Fatalf("expected slow consumer close, got %q", conn.CloseReason())
	}
	if hub.Send(conn, EventError, ErrorPayload{Message: "late"}) {
		t.Fatal("closed connection must not accept frames")
	}
}

func TestHubCloseAllSignalsShutdown(t *testing.T) {
	hub := NewHub(HubConfig{})
	conn := hub.Register(auth.Identity{UserID: "user-1"})
	hub.CloseAll()
	if conn.CloseReason() != metrics.CloseReasonShutdown {
		t.Fatalf("expected shutdown reason, got %q", conn.CloseReason())
	}
}
