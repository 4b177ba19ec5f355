package realtime

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dormledger/auth-service/internal/api/dto"
	"github.com/dormledger/auth-service/internal/auth"
	apperrors "github.com/dormledger/auth-service/pkg/util"
)

// Handler upgrades authenticated requests to realtime channels.
//
// Endpoint: GET /ws?token=<access token>. Browsers cannot set headers on a
// WebSocket handshake, so the token travels in the query string.
type Handler struct {
	hub       *Hub
	validator auth.Validator
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandler creates the handler. An empty allowedOrigins accepts any origin.
func NewHandler(hub *Hub, validator auth.Validator, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}

	return &Handler{
		hub:       hub,
		validator: validator,
		logger:    logger.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[strings.ToLower(origin)]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerFromHeader(r)
	}
	if token == "" {
		writeError(w, auth.MapError(auth.ErrMissingToken))
		return
	}

	claims, err := h.validator.Validate(r.Context(), token)
	if err != nil {
		writeError(w, auth.MapError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.serve(conn, claims.UserID, claims.SessionID)
}

func bearerFromHeader(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, err error) {
	de := apperrors.ToDomainError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(de.HTTPStatus)
	_ = json.NewEncoder(w).Encode(dto.Fail(de.Code, de.Message, de.Details))
}
