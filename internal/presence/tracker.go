package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("presence: counter store required")

// Emitter broadcasts to a room.
type Emitter interface {
	Emit(room realtime.Room, event string, payload interface{}) int
}

// OnlinePayload is broadcast on a 0→1 transition.
type OnlinePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// OfflinePayload is broadcast on a 1→0 transition.
type OfflinePayload struct {
	UserID string `json:"userId"`
}

// TrackerConfig wires the tracker.
type TrackerConfig struct {
	Store     CounterStore
	Emitter   Emitter
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Tracker reference-counts live connections per user and announces transitions to the tenant.
type Tracker struct {
	// serializes count change + broadcast so transitions are announced in the order they happen
	mu        sync.Mutex
	store     CounterStore
	emitter   Emitter
	publisher events.Publisher
	logger    *zap.Logger
}

// NewTracker constructs a tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Tracker{
		store:     cfg.Store,
		emitter:   cfg.Emitter,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Connect records one more connection for the identity and reports whether the user came online.
func (t *Tracker) Connect(ctx context.Context, identity auth.Identity) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, err := t.store.Increment(ctx, identity.TenantID, identity.UserID)
	if err != nil {
		return false, err
	}
	if count != 1 {
		return false, nil
	}

	metrics.PresenceTransitions.WithLabelValues(metrics.DirectionOnline).Inc()
	payload := OnlinePayload{UserID: identity.UserID, DisplayName: identity.DisplayName()}
	if t.emitter != nil {
		t.emitter.Emit(realtime.TenantRoom(identity.TenantID), realtime.EventPresenceOnline, payload)
	}
	events.PublishQuietly(ctx, t.publisher, t.logger, events.Event{
		TenantID: identity.TenantID,
		Kind:     events.KindPresenceOnline,
		Payload:  payload,
	})
	return true, nil
}

// Disconnect releases one connection and reports whether the user went offline.
func (t *Tracker) Disconnect(ctx context.Context, identity auth.Identity) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, clamped, err := t.store.Decrement(ctx, identity.TenantID, identity.UserID)
	if err != nil {
		return false, err
	}
	if clamped {
		metrics.PresenceTransitions.WithLabelValues(metrics.DirectionClamped).Inc()
		t.logger.Warn("presence decrement below zero clamped",
			zap.String("tenant_id", identity.TenantID),
			zap.String("user_id", identity.UserID),
		)
		return false, nil
	}
	if count != 0 {
		return false, nil
	}

	metrics.PresenceTransitions.WithLabelValues(metrics.DirectionOffline).Inc()
	payload := OfflinePayload{UserID: identity.UserID}
	if t.emitter != nil {
		t.emitter.Emit(realtime.TenantRoom(identity.TenantID), realtime.EventPresenceOffline, payload)
	}
	events.PublishQuietly(ctx, t.publisher, t.logger, events.Event{
		TenantID: identity.TenantID,
		Kind:     events.KindPresenceOffline,
		Payload:  payload,
	})
	return true, nil
}

// List returns the online roster of a tenant.
func (t *Tracker) List(ctx context.Context, tenantID string) ([]string, error) {
	return t.store.Online(ctx, tenantID)
}
