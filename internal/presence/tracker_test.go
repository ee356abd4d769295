package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type emittedEvent struct {
	room    realtime.Room
	event   string
	payload interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (r *recordingEmitter) Emit(room realtime.Room, event string, payload interface{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emittedEvent{room: room, event: event, payload: payload})
	return 1
}

func (r *recordingEmitter) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, recorded := range r.events {
		if recorded.event == event {
			total++
		}
	}
	return total
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, event.Kind)
	return nil
}

func newTestTracker(t *testing.T, logger *zap.Logger) (*Tracker, *recordingEmitter, *recordingPublisher) {
	t.Helper()
	emitter := &recordingEmitter{}
	publisher := &recordingPublisher{}
	tracker, err := NewTracker(TrackerConfig{
		Store:     NewMemoryStore(),
		Emitter:   emitter,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	return tracker, emitter, publisher
}

var userA = auth.Identity{UserID: "user-a", TenantID: "tenant-1", FirstName: "Ada", LastName: "Lovelace"}

func TestTrackerBroadcastsOnlineOnFirstConnection(t *testing.T) {
	tracker, emitter, publisher := newTestTracker(t, nil)
	ctx := context.Background()

	came, err := tracker.Connect(ctx, userA)
	if err != nil || !came {
		t.Fatalf("expected online transition, got %v %v", came, err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(emitter.events))
	}
	recorded := emitter.events[0]
	if recorded.room != realtime.TenantRoom("tenant-1") || recorded.event != realtime.EventPresenceOnline {
		t.Fatalf("unexpected broadcast %#v", recorded)
	}
	payload := recorded.payload.(OnlinePayload)
	if payload.UserID != "user-a" || payload.DisplayName != "Ada Lovelace" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if len(publisher.kinds) != 1 || publisher.kinds[0] != events.KindPresenceOnline {
		t.Fatalf("unexpected published events %v", publisher.kinds)
	}
}

func TestTrackerMultiConnectionLifecycle(t *testing.T) {
	tracker, emitter, _ := newTestTracker(t, nil)
	ctx := context.Background()

	if _, err := tracker.Connect(ctx, userA); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	came, err := tracker.Connect(ctx, userA)
	if err != nil || came {
		t.Fatalf("second connection must not transition, got %v %v", came, err)
	}
	if emitter.count(realtime.EventPresenceOnline) != 1 {
		t.Fatalf("expected a single online broadcast")
	}

	went, err := tracker.Disconnect(ctx, userA)
	if err != nil || went {
		t.Fatalf("closing one of two connections must keep the user online, got %v %v", went, err)
	}
	online, _ := tracker.List(ctx, "tenant-1")
	if len(online) != 1 || online[0] != "user-a" {
		t.Fatalf("expected user-a online, got %v", online)
	}

	went, err = tracker.Disconnect(ctx, userA)
	if err != nil || !went {
		t.Fatalf("expected offline transition, got %v %v", went, err)
	}
	if emitter.count(realtime.EventPresenceOffline) != 1 {
		t.Fatalf("expected a single offline broadcast")
	}
	online, _ = tracker.List(ctx, "tenant-1")
	if len(online) != 0 {
		t.Fatalf("expected empty roster, got %v", online)
	}
}

func TestTrackerClampsUnbalancedDisconnect(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracker, emitter, _ := newTestTracker(t, zap.New(core))

	went, err := tracker.Disconnect(context.Background(), userA)
	if err != nil || went {
		t.Fatalf("unbalanced disconnect must be a quiet no-op, got %v %v", went, err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no broadcast, got %v", emitter.events)
	}
	entries := logs.FilterMessage("presence decrement below zero clamped").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected clamp warning, got %v", logs.All())
	}

	came, err := tracker.Connect(context.Background(), userA)
	if err != nil || !came {
		t.Fatalf("count must restart from zero after clamp, got %v %v", came, err)
	}
}

func TestTrackerTenantsAreIsolated(t *testing.T) {
	tracker, _, _ := newTestTracker(t, nil)
	ctx := context.Background()
	other := auth.Identity{UserID: "user-b", TenantID: "tenant-2"}

	if _, err := tracker.Connect(ctx, userA); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := tracker.Connect(ctx, other); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	online, _ := tracker.List(ctx, "tenant-2")
	if len(online) != 1 || online[0] != "user-b" {
		t.Fatalf("unexpected tenant-2 roster %v", online)
	}
}

func TestTrackerConcurrentTransitionsAreExact(t *testing.T) {
	tracker, emitter, _ := newTestTracker(t, nil)
	ctx := context.Background()
	const connections = 50

	var wg sync.WaitGroup
	for i := 0; i < connections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.Connect(ctx, userA); err != nil {
				t.Errorf("connect failed: %v", err)
			}
		}()
	}
	wg.Wait()
	for i := 0; i < connections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.Disconnect(ctx, userA); err != nil {
				t.Errorf("disconnect failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if emitter.count(realtime.EventPresenceOnline) != 1 || emitter.count(realtime.EventPresenceOffline) != 1 {
		t.Fatalf("expected exactly one transition each way, got %v", emitter.events)
	}
}

func TestNewTrackerRequiresStore(t *testing.T) {
	if _, err := NewTracker(TrackerConfig{}); err == nil {
		t.Fatal("expected missing store error")
	}
}
