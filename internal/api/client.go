// Package api is the HTTP client for the expensegrid backend. It reads the
// stored credential before every call, so a login performed by another
// process is picked up without a restart.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"expensegrid/internal/core"
)

// Error is a non-2xx response, carrying the backend's error message.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

type (
	// AuthUser is the user object returned by register/login.
	AuthUser struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}

	AuthResponse struct {
		Token string   `json:"token"`
		User  AuthUser `json:"user"`
	}

	// UpsertRequest is the natural-key write payload. Date must be an
	// RFC3339 instant; the backend matches it exactly.
	UpsertRequest struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description,omitempty"`
		Date        string  `json:"date"`
		CategoryID  string  `json:"categoryId,omitempty"`
	}
)

type Client struct {
	baseURL    string
	tokens     *TokenStore
	httpClient *http.Client
}

func NewClient(baseURL string, tokens *TokenStore) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// HasCredential reports whether a stored token is present.
func (c *Client) HasCredential() bool {
	token, err := c.tokens.Load()
	return err == nil && token != ""
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, email, password, name string) (AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/register", map[string]string{
		"email": email, "password": password, "name": name,
	})
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, payload map[string]string) (AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, path, payload, &resp, false); err != nil {
		return AuthResponse{}, err
	}
	if err := c.tokens.Save(resp.Token); err != nil {
		return AuthResponse{}, fmt.Errorf("store credential: %w", err)
	}
	return resp, nil
}

// Expenses fetches the caller's expense records, newest first.
func (c *Client) Expenses(ctx context.Context) ([]core.RemoteExpense, error) {
	var out []core.RemoteExpense
	if err := c.do(ctx, http.MethodGet, "/api/expenses", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories fetches the global category list.
func (c *Client) Categories(ctx context.Context) ([]core.RemoteCategory, error) {
	var out []core.RemoteCategory
	if err := c.do(ctx, http.MethodGet, "/api/categories", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCategory creates a global category.
func (c *Client) CreateCategory(ctx context.Context, name string) (core.RemoteCategory, error) {
	var out core.RemoteCategory
	err := c.do(ctx, http.MethodPost, "/api/categories", map[string]string{"name": name}, &out, true)
	return out, err
}

// UpsertExpense issues the natural-key write for one cell edit.
func (c *Client) UpsertExpense(ctx context.Context, req UpsertRequest) (core.RemoteExpense, error) {
	var out core.RemoteExpense
	err := c.do(ctx, http.MethodPost, "/api/expenses", req, &out, true)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, authed bool) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.tokens.Load()
		if err != nil || token == "" {
			return &Error{StatusCode: http.StatusUnauthorized, Message: "no stored credential"}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
