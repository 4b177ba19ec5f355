package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heartbeatServer(t *testing.T, status int, code string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status < 300 {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "code": code, "message": "nope"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func storedTokens() *MemoryTokenStore {
	store := NewMemoryTokenStore()
	_ = store.Set(Tokens{UserID: "u1", AccessToken: "access"})
	return store
}

func waitDone(t *testing.T, m *HeartbeatMonitor) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat monitor did not stop")
	}
}

func TestHeartbeatStopsOnMissingTokenAnswer(t *testing.T) {
	var calls atomic.Int32
	srv := heartbeatServer(t, http.StatusForbidden, "NO_TOKEN", &calls)

	m := NewHeartbeatMonitor(NewAPIClient(srv.URL, nil), storedTokens(), HeartbeatConfig{Interval: 20 * time.Millisecond}, nil)
	missing := make(chan struct{})
	m.OnMissingToken = func() { close(missing) }
	m.OnLoggedOut = func() { t.Error("unexpected logged-out callback") }

	m.Start(testContext(t))
	waitDone(t, m)

	select {
	case <-missing:
	case <-time.After(time.Second):
		t.Fatal("missing token callback not called")
	}
	assert.False(t, m.Running())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHeartbeatStopsWhenSessionEnded(t *testing.T) {
	var calls atomic.Int32
	srv := heartbeatServer(t, http.StatusUnauthorized, "SESSION_EXPIRED", &calls)

	m := NewHeartbeatMonitor(NewAPIClient(srv.URL, nil), storedTokens(), HeartbeatConfig{Interval: 20 * time.Millisecond}, nil)
	loggedOut := make(chan struct{})
	m.OnLoggedOut = func() { close(loggedOut) }

	m.Start(testContext(t))
	waitDone(t, m)

	select {
	case <-loggedOut:
	case <-time.After(time.Second):
		t.Fatal("logged-out callback not called")
	}
	assert.False(t, m.Running())
}

func TestHeartbeatKeepsRunningOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := heartbeatServer(t, http.StatusInternalServerError, "INTERNAL_ERROR", &calls)

	m := NewHeartbeatMonitor(NewAPIClient(srv.URL, nil), storedTokens(), HeartbeatConfig{Interval: 10 * time.Millisecond}, nil)
	m.Start(testContext(t))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Running())

	m.Stop()
	assert.False(t, m.Running())
}

func TestHeartbeatGivesUpWithoutLocalToken(t *testing.T) {
	var calls atomic.Int32
	srv := heartbeatServer(t, http.StatusOK, "", &calls)

	m := NewHeartbeatMonitor(NewAPIClient(srv.URL, nil), NewMemoryTokenStore(), HeartbeatConfig{
		Interval:            10 * time.Millisecond,
		MissingTokenRetries: 2,
		RetryBackoff:        5 * time.Millisecond,
	}, nil)

	m.Start(testContext(t))
	waitDone(t, m)

	assert.Zero(t, calls.Load())
	assert.False(t, m.Running())
}

func TestHeartbeatPicksUpLateToken(t *testing.T) {
	var calls atomic.Int32
	srv := heartbeatServer(t, http.StatusOK, "", &calls)

	store := NewMemoryTokenStore()
	m := NewHeartbeatMonitor(NewAPIClient(srv.URL, nil), store, HeartbeatConfig{
		Interval:            time.Hour,
		MissingTokenRetries: 20,
		RetryBackoff:        10 * time.Millisecond,
	}, nil)

	m.Start(testContext(t))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, store.Set(Tokens{AccessToken: "late"}))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Running())
	m.Stop()
}
