package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/domain"
	"github.com/dormledger/auth-service/internal/events"
)

// Realtime message types pushed to connected clients.
const (
	MessageForceLogout   = "FORCE_LOGOUT"
	MessageConfigUpdated = "CONFIG_UPDATED"
)

// Message is the push envelope delivered over the realtime channel.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ForceLogoutMessage is the payload of FORCE_LOGOUT.
type ForceLogoutMessage struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ConfigUpdatedMessage is the payload of CONFIG_UPDATED.
type ConfigUpdatedMessage struct {
	Keys []string `json:"keys"`
}

// Publisher delivers messages to connected realtime clients.
type Publisher interface {
	Broadcast(userID string, msg Message) int
	SendToSession(userID, sessionID string, msg Message) int
	BroadcastAll(msg Message) int
	DisconnectUser(userID string) int
	DisconnectSession(userID, sessionID string) int
}

// NotificationService turns domain events into realtime pushes.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger.Named("notifications"),
		now:        time.Now,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventForceLogout, n.handleForceLogout)
	n.dispatcher.Subscribe(events.EventSessionRevoked, n.handleSessionRevoked)
	n.dispatcher.Subscribe(events.EventConfigUpdated, n.handleConfigUpdated)
}

// AnnounceConfigChange tells every connected client that configuration keys
// changed.
func (n *NotificationService) AnnounceConfigChange(ctx context.Context, keys []string) error {
	return n.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventConfigUpdated,
		Timestamp: n.now(),
		Payload:   events.ConfigUpdatedPayload{Keys: keys},
	})
}

// The FORCE_LOGOUT frame is queued before the connections are closed, so
// every open channel receives it before the close frame.
func (n *NotificationService) handleForceLogout(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ForceLogoutPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	delivered := n.publisher.Broadcast(event.UserID, Message{
		Type:    MessageForceLogout,
		Payload: ForceLogoutMessage{Message: payload.Message},
	})
	closed := n.publisher.DisconnectUser(event.UserID)
	n.logger.Info("ForceLogout",
		zap.String("user_id", event.UserID),
		zap.Int("delivered", delivered),
		zap.Int("closed", closed))
	return nil
}

// Other channels of a revoked session get FORCE_LOGOUT before the close
// frame, same as a forced logout of the whole user.
func (n *NotificationService) handleSessionRevoked(_ context.Context, event events.Event) error {
	var reason domain.RevocationReason
	if payload, ok := event.Payload.(events.SessionRevokedPayload); ok {
		reason = domain.RevocationReason(payload.Reason)
	}
	delivered := n.publisher.SendToSession(event.UserID, event.SessionID, Message{
		Type:    MessageForceLogout,
		Payload: ForceLogoutMessage{Message: revocationNotice(reason), Reason: string(reason)},
	})
	closed := n.publisher.DisconnectSession(event.UserID, event.SessionID)
	n.logger.Debug("SessionRevoked",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("reason", string(reason)),
		zap.Int("delivered", delivered),
		zap.Int("closed", closed))
	return nil
}

func revocationNotice(reason domain.RevocationReason) string {
	switch reason {
	case domain.ReasonExplicitLogout:
		return "You have been logged out."
	case domain.ReasonRefreshReuse:
		return "Your session was ended because its credentials were reused."
	case domain.ReasonExpired:
		return "Your session has expired."
	default:
		return "session terminated"
	}
}

func (n *NotificationService) handleConfigUpdated(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ConfigUpdatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	delivered := n.publisher.BroadcastAll(Message{
		Type:    MessageConfigUpdated,
		Payload: ConfigUpdatedMessage{Keys: payload.Keys},
	})
	n.logger.Info("ConfigUpdated", zap.Strings("keys", payload.Keys), zap.Int("delivered", delivered))
	return nil
}
