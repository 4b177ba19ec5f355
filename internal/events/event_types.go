package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionRevoked EventType = "session_revoked"
	EventForceLogout    EventType = "force_logout"
	EventConfigUpdated  EventType = "config_updated"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionRevokedPayload payload.
type SessionRevokedPayload struct {
	Reason string `json:"reason"`
}

// ForceLogoutPayload payload. SessionIDs lists the sessions that were revoked.
type ForceLogoutPayload struct {
	Message    string   `json:"message"`
	SessionIDs []string `json:"session_ids"`
}

// ConfigUpdatedPayload payload.
type ConfigUpdatedPayload struct {
	Keys []string `json:"keys"`
}
