package messaging

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/events"
	"github.com/MarcoPoloResearchLab/courier/internal/realtime"
	"go.uber.org/zap"
)

// ReceiptsConfig wires the read-receipt propagator.
type ReceiptsConfig struct {
	Store     *Store
	Emitter   Emitter
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Receipts records that users have seen messages and tells the sender.
type Receipts struct {
	store     *Store
	emitter   Emitter
	publisher events.Publisher
	logger    *zap.Logger
	messages  *keyedLock
}

// NewReceipts constructs the propagator.
func NewReceipts(cfg ReceiptsConfig) (*Receipts, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opMarkRead, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Receipts{
		store:     cfg.Store,
		emitter:   cfg.Emitter,
		publisher: publisher,
		logger:    logger,
		messages:  newKeyedLock(),
	}, nil
}

// MarkRead adds reader to the message's readBy list and pushes message:read to the sender.
// Unknown messages, non-members and repeat reads are silent no-ops. It reports whether readBy changed.
func (r *Receipts) MarkRead(ctx context.Context, reader auth.Identity, messageID string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, nil
	}
	message, found, err := r.store.FindMessage(ctx, messageID)
	if err != nil {
		return false, newServiceError(opMarkRead, "message_lookup_failed", err)
	}
	if !found {
		return false, nil
	}
	member, err := r.store.IsMember(ctx, message.ConversationID, reader.UserID)
	if err != nil {
		return false, newServiceError(opMarkRead, "membership_lookup_failed", err)
	}
	if !member {
		r.logger.Debug("read receipt from non-member ignored",
			zap.String("message_id", messageID),
			zap.String("user_id", reader.UserID),
		)
		return false, nil
	}
	if message.HasReader(reader.UserID) {
		return false, nil
	}

	release := r.messages.lock(messageID)
	defer release()

	updated, added, err := r.store.AppendReader(ctx, messageID, reader.UserID)
	if err != nil {
		return false, newServiceError(opMarkRead, "persist_failed", err)
	}
	if !added {
		return false, nil
	}

	payload := ReadPayload{MessageID: updated.ID, ReadBy: reader.UserID}
	if r.emitter != nil {
		r.emitter.Emit(realtime.UserRoom(updated.SenderID), realtime.EventMessageRead, payload)
	}
	events.PublishQuietly(ctx, r.publisher, r.logger, events.Event{
		TenantID: reader.TenantID,
		Kind:     events.KindMessageRead,
		Payload:  payload,
	})
	return true, nil
}
