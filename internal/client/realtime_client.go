package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	messageForceLogout   = "FORCE_LOGOUT"
	messageConfigUpdated = "CONFIG_UPDATED"

	defaultForceLogoutNotice = "session terminated"
)

// RealtimeConfig configures the push channel client.
type RealtimeConfig struct {
	// URL of the realtime endpoint, e.g. ws://localhost:8081/ws.
	URL            string
	ReconnectDelay time.Duration
	AckTimeout     time.Duration
}

type pushMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RealtimeClient holds the push channel open and reacts to server pushes.
type RealtimeClient struct {
	cfg    RealtimeConfig
	tokens TokenStore
	dialer *websocket.Dialer
	logger *zap.Logger

	// Prompt shows the forced-logout notice and returns once the user has
	// acknowledged it.
	Prompt func(message string)
	// Redirect sends the user back to the login entry point.
	Redirect func()
	// OnConfig receives the keys of a CONFIG_UPDATED push.
	OnConfig func(keys []string)
}

// NewRealtimeClient creates a client.
func NewRealtimeClient(cfg RealtimeConfig, tokens TokenStore, logger *zap.Logger) *RealtimeClient {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeClient{
		cfg:    cfg,
		tokens: tokens,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("realtime"),
	}
}

// Run keeps the channel connected until ctx is cancelled or the user is
// logged out: a FORCE_LOGOUT push, a handshake rejected with 401 or 403, or
// an empty token store. Other drops are retried after ReconnectDelay.
func (c *RealtimeClient) Run(ctx context.Context) error {
	for {
		loggedOut, err := c.session(ctx)
		if loggedOut {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", c.cfg.ReconnectDelay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection. It reports whether the user is logged out,
// either by a FORCE_LOGOUT push or because there are no usable credentials
// left to reconnect with.
func (c *RealtimeClient) session(ctx context.Context) (bool, error) {
	t, ok := c.tokens.Get()
	if !ok {
		c.logger.Info("no access token stored, stopping realtime channel")
		c.redirect()
		return true, nil
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("token", t.AccessToken)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.logger.Info("realtime handshake rejected, session is over", zap.Int("status", resp.StatusCode))
			if err := c.tokens.Clear(); err != nil {
				c.logger.Warn("clearing tokens failed", zap.Error(err))
			}
			c.redirect()
			return true, nil
		}
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}

		var msg pushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring undecodable push", zap.Error(err))
			continue
		}

		switch msg.Type {
		case messageForceLogout:
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &payload)
			c.handleForceLogout(ctx, payload.Message)
			return true, nil
		case messageConfigUpdated:
			var payload struct {
				Keys []string `json:"keys"`
			}
			_ = json.Unmarshal(msg.Payload, &payload)
			if c.OnConfig != nil {
				c.OnConfig(payload.Keys)
			}
		default:
			c.logger.Debug("ignoring push", zap.String("type", msg.Type))
		}
	}
}

// handleForceLogout drops local credentials, shows the notice and redirects
// once the user acknowledges it or AckTimeout passes, whichever is first.
func (c *RealtimeClient) handleForceLogout(ctx context.Context, message string) {
	if message == "" {
		message = defaultForceLogoutNotice
	}
	if err := c.tokens.Clear(); err != nil {
		c.logger.Warn("clearing tokens failed", zap.Error(err))
	}

	acked := make(chan struct{})
	go func() {
		defer close(acked)
		if c.Prompt != nil {
			c.Prompt(message)
		}
	}()

	select {
	case <-acked:
	case <-time.After(c.cfg.AckTimeout):
	case <-ctx.Done():
	}
	c.redirect()
}

func (c *RealtimeClient) redirect() {
	if c.Redirect != nil {
		c.Redirect()
	}
}
