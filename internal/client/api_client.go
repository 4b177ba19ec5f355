package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx answer decoded from the response envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// APIClient talks to the auth HTTP API.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for baseURL (e.g. http://localhost:8080).
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type loginResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Tokens  tokensPayload `json:"tokens"`
	Session struct {
		SessionToken string `json:"sessionToken"`
	} `json:"session"`
}

type tokensPayload struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Login authenticates and returns the tokens to store.
func (c *APIClient) Login(ctx context.Context, identifier, password string) (Tokens, error) {
	var out loginResponse
	body := map[string]string{"username": identifier, "password": password}
	if strings.Contains(identifier, "@") {
		body = map[string]string{"email": identifier, "password": password}
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &out); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		UserID:           out.User.ID,
		AccessToken:      out.Tokens.AccessToken,
		RefreshToken:     out.Tokens.RefreshToken,
		SessionToken:     out.Session.SessionToken,
		AccessExpiresAt:  out.Tokens.AccessExpiresAt,
		RefreshExpiresAt: out.Tokens.RefreshExpiresAt,
	}, nil
}

// Refresh rotates the token pair; the session token is carried over.
func (c *APIClient) Refresh(ctx context.Context, current Tokens) (Tokens, error) {
	var out struct {
		Tokens tokensPayload `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": current.RefreshToken}, &out); err != nil {
		return Tokens{}, err
	}
	current.AccessToken = out.Tokens.AccessToken
	current.RefreshToken = out.Tokens.RefreshToken
	current.AccessExpiresAt = out.Tokens.AccessExpiresAt
	current.RefreshExpiresAt = out.Tokens.RefreshExpiresAt
	return current, nil
}

// Logout ends the session the tokens belong to.
func (c *APIClient) Logout(ctx context.Context, t Tokens) error {
	body := map[string]string{"sessionToken": t.SessionToken, "refreshToken": t.RefreshToken}
	return c.do(ctx, http.MethodPost, "/api/auth/logout", t.AccessToken, body, nil)
}

// Heartbeat reports liveness of the session behind accessToken.
func (c *APIClient) Heartbeat(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/heartbeat", accessToken, nil, nil)
}

// Profile returns the raw identity document.
func (c *APIClient) Profile(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/auth/profile", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ForceLogout asks the server to end every session of userID.
func (c *APIClient) ForceLogout(ctx context.Context, accessToken, userID, message string) (int, error) {
	var out struct {
		RevokedSessions int `json:"revokedSessions"`
	}
	path := "/api/admin/users/" + userID + "/force-logout"
	if err := c.do(ctx, http.MethodPost, path, accessToken, map[string]string{"message": message}, &out); err != nil {
		return 0, err
	}
	return out.RevokedSessions, nil
}

func (c *APIClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return &APIError{Status: resp.StatusCode, Message: "undecodable response"}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
