// Package client is the agent-side adapter over the presence service's HTTP
// surface. It satisfies the guard's AuthProvider and ProfileStore interfaces
// so the session guard, heartbeat and offline beacon can run unchanged
// against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/guard"
	"github.com/staffhub/presence/internal/security"
)

type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	session   *guard.Session
	listeners map[int]func(guard.AuthEvent)
	nextID    int
}

func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   baseURL,
		http:      &http.Client{Jar: jar, Timeout: 10 * time.Second},
		listeners: make(map[int]func(guard.AuthEvent)),
	}, nil
}

// HTTPClient exposes the cookie-bearing client so the offline beacon can
// ride on the same ambient credential.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) BeaconURL() string { return c.baseURL + "/api/v1/presence/offline" }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type loginData struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type sessionData struct {
	UserID          string  `json:"user_id"`
	ActiveSessionID *string `json:"active_session_id"`
}

func (c *Client) Login(ctx context.Context, email, password string) error {
	var data loginData
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &data)
	if err != nil {
		return err
	}
	sess := &guard.Session{UserID: data.UserID, Token: data.Token}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.emit(guard.AuthEvent{Kind: guard.EventSignedIn, Session: sess})
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.emit(guard.AuthEvent{Kind: guard.EventSignedOut})
	return err
}

func (c *Client) CurrentSession(_ context.Context) (*guard.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, nil
}

func (c *Client) OnAuthStateChange(fn func(guard.AuthEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignOut drops the session locally without calling the server. The guard
// uses it on eviction: the profile row already belongs to the winning
// device, so a server logout here would null the winner's claim and
// presence. The ambient cookie is discarded too, so a later shutdown
// beacon from this evicted agent carries no credential.
func (c *Client) SignOut(_ context.Context) error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if u, err := url.Parse(c.baseURL); err == nil && c.http.Jar != nil {
		c.http.Jar.SetCookies(u, []*http.Cookie{{
			Name:   security.SessionCookieName,
			Value:  "",
			MaxAge: -1,
		}})
	}
	c.emit(guard.AuthEvent{Kind: guard.EventSignedOut})
	return nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var data sessionData
	if err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &data); err != nil {
		return nil, err
	}
	return &domain.Profile{ID: data.UserID, ActiveSessionID: data.ActiveSessionID}, nil
}

// Update dispatches the partial-field merge onto the matching endpoint.
// Only the session/presence fields the agent writes are supported.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) error {
	if deviceID, ok := fields[domain.FieldActiveSessionID]; ok {
		err := c.do(ctx, http.MethodPost, "/api/v1/session/claim", map[string]any{
			"device_id": deviceID,
		}, nil)
		if err != nil {
			return err
		}
	}
	if _, ok := fields[domain.FieldLastSeen]; ok {
		if err := c.do(ctx, http.MethodPost, "/api/v1/presence/heartbeat", nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) emit(ev guard.AuthEvent) {
	c.mu.Lock()
	fns := make([]func(guard.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
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
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !env.Success {
		code := "UNKNOWN"
		if env.Error != nil {
			code = env.Error.Code
		}
		return fmt.Errorf("%s %s: %s (status %d)", method, path, code, resp.StatusCode)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
