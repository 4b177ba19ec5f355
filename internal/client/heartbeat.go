package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const codeNoToken = "NO_TOKEN"

// Heartbeater sends one heartbeat.
type Heartbeater interface {
	Heartbeat(ctx context.Context, accessToken string) error
}

// HeartbeatConfig controls the monitor cadence.
type HeartbeatConfig struct {
	Interval            time.Duration
	MissingTokenRetries int
	RetryBackoff        time.Duration
}

// HeartbeatMonitor keeps the server-side session alive while the client is
// running. It stops itself when the server reports the session is gone.
type HeartbeatMonitor struct {
	api    Heartbeater
	tokens TokenStore
	cfg    HeartbeatConfig
	logger *zap.Logger

	// OnLoggedOut runs after a 401: the session is no longer valid.
	OnLoggedOut func()
	// OnMissingToken runs after a 403 NO_TOKEN answer.
	OnMissingToken func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewHeartbeatMonitor creates a stopped monitor.
func NewHeartbeatMonitor(api Heartbeater, tokens TokenStore, cfg HeartbeatConfig, logger *zap.Logger) *HeartbeatMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MissingTokenRetries <= 0 {
		cfg.MissingTokenRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeartbeatMonitor{api: api, tokens: tokens, cfg: cfg, logger: logger.Named("heartbeat")}
}

// Start begins sending heartbeats, the first one immediately. Calling Start
// on a running monitor does nothing.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.done)
}

// Stop halts the monitor and waits for the loop to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether heartbeats are being sent.
func (m *HeartbeatMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Done is closed when the current run ends.
func (m *HeartbeatMonitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *HeartbeatMonitor) loop(ctx context.Context, done chan struct{}) {
	var after func()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
		if after != nil {
			after()
		}
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		var stop bool
		if stop, after = m.beat(ctx); stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// beat sends one heartbeat. It reports whether the monitor must stop and the
// callback to run once it has.
func (m *HeartbeatMonitor) beat(ctx context.Context) (bool, func()) {
	token, ok := m.accessToken(ctx)
	if !ok {
		if ctx.Err() != nil {
			return true, nil
		}
		m.logger.Warn("no access token available, stopping heartbeat")
		return true, nil
	}

	err := m.api.Heartbeat(ctx, token)
	if err == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return true, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			m.logger.Info("session ended, stopping heartbeat", zap.String("code", apiErr.Code))
			return true, m.OnLoggedOut
		case apiErr.Status == http.StatusForbidden && apiErr.Code == codeNoToken:
			m.logger.Warn("server did not receive an access token, stopping heartbeat")
			return true, m.OnMissingToken
		}
	}
	m.logger.Warn("heartbeat failed", zap.Error(err))
	return false, nil
}

func (m *HeartbeatMonitor) accessToken(ctx context.Context) (string, bool) {
	for attempt := 0; ; attempt++ {
		if t, ok := m.tokens.Get(); ok {
			return t.AccessToken, true
		}
		if attempt >= m.cfg.MissingTokenRetries {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(m.cfg.RetryBackoff):
		}
	}
}
