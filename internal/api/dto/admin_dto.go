package dto

import (
	"time"

	"github.com/dormledger/auth-service/internal/domain"
)

// ForceLogoutRequest optional message shown to the user.
type ForceLogoutRequest struct {
	Message string `json:"message"`
}

// ForceLogoutResponse reports how many sessions were revoked.
type ForceLogoutResponse struct {
	UserID          string `json:"userId"`
	RevokedSessions int    `json:"revokedSessions"`
}

// ConfigBroadcastRequest lists the configuration keys that changed.
type ConfigBroadcastRequest struct {
	Keys []string `json:"keys"`
}

// SessionView is the administrator view of a session. The session token is
// never exposed.
type SessionView struct {
	ID              string     `json:"id"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastHeartbeatAt time.Time  `json:"lastHeartbeatAt"`
	Revoked         bool       `json:"revoked"`
	RevokedReason   string     `json:"revokedReason,omitempty"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
	UserAgent       string     `json:"userAgent,omitempty"`
	RemoteAddr      string     `json:"remoteAddr,omitempty"`
}

// NewSessionViews converts sessions for output.
func NewSessionViews(sessions []*domain.Session) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionView{
			ID:              s.ID,
			CreatedAt:       s.CreatedAt,
			LastHeartbeatAt: s.LastHeartbeatAt,
			Revoked:         s.Revoked,
			RevokedReason:   string(s.RevokedReason),
			RevokedAt:       s.RevokedAt,
			UserAgent:       s.UserAgent,
			RemoteAddr:      s.RemoteAddr,
		})
	}
	return out
}
