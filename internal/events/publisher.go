// Package events publishes domain events for downstream consumers outside the socket layer.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	KindMessageCreated      = "message.created"
	KindMessageRead         = "message.read"
	KindPresenceOnline      = "presence.online"
	KindPresenceOffline     = "presence.offline"
	KindNotificationCreated = "notification.created"

	headerEventKind = "Courier-Event"
	headerTenantID  = "Courier-Tenant"
)

var (
	errMissingURL     = errors.New("events: nats url required")
	errMissingTenant  = errors.New("events: tenant id required")
	errMissingKind    = errors.New("events: event kind required")
	defaultSubjectTag = "courier"
)

// Event is a tenant-scoped domain fact.
type Event struct {
	TenantID string
	Kind     string
	Payload  interface{}
}

// Publisher delivers domain events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Logger        *zap.Logger
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errMissingURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("courier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return NewNATSPublisher(conn, cfg.SubjectPrefix), nil
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectTag
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event is published on: <prefix>.<tenant>.<kind>.
func (p *NATSPublisher) Subject(event Event) string {
	return Subject(p.prefix, event)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, event Event) error {
	if event.TenantID == "" {
		return errMissingTenant
	}
	if event.Kind == "" {
		return errMissingKind
	}
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Kind, err)
	}
	msg := &nats.Msg{
		Subject: p.Subject(event),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerEventKind, event.Kind)
	msg.Header.Set(headerTenantID, event.TenantID)
	return p.conn.PublishMsg(msg)
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject builds the subject for an event under prefix.
func Subject(prefix string, event Event) string {
	return prefix + "." + event.TenantID + "." + event.Kind
}

// PublishQuietly publishes and logs failures; the caller's flow never depends on the outcome.
func PublishQuietly(ctx context.Context, publisher Publisher, logger *zap.Logger, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil && logger != nil {
		logger.Warn("domain event publish failed",
			zap.String("kind", event.Kind),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
	}
}
