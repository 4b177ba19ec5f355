package domain

import "time"

// RevocationReason records why a session stopped being active.
type RevocationReason string

const (
	ReasonExplicitLogout RevocationReason = "explicit-logout"
	ReasonForcedLogout   RevocationReason = "forced-logout"
	ReasonExpired        RevocationReason = "expired"
	ReasonSuperseded     RevocationReason = "superseded"
	ReasonRefreshReuse   RevocationReason = "refresh-reuse"
)

// TokenBinding is the token pair currently attached to a session.
type TokenBinding struct {
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshTokenID   string
	RefreshExpiresAt time.Time
}

// Session is the server-side record of one login.
type Session struct {
	ID              string
	Token           string
	UserID          string
	Roles           []string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
	Revoked         bool
	RevokedReason   RevocationReason
	RevokedAt       *time.Time
	TokenBinding
	PrevRefreshTokenID string
	RotatedAt          *time.Time
	UserAgent          string
	RemoteAddr         string
}

// ActiveAt reports whether the session is usable at now given the idle timeout.
func (s *Session) ActiveAt(now time.Time, idleTimeout time.Duration) bool {
	if s == nil || s.Revoked {
		return false
	}
	return now.Sub(s.LastHeartbeatAt) < idleTimeout
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Roles = append([]string(nil), s.Roles...)
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		cp.RevokedAt = &t
	}
	if s.RotatedAt != nil {
		t := *s.RotatedAt
		cp.RotatedAt = &t
	}
	return &cp
}
