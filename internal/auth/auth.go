// Package auth authenticates bearer tokens against an OIDC userinfo
// endpoint.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrInvalidToken is returned when the provider rejects the token.
var ErrInvalidToken = errors.New("invalid bearer token")

// Error is a non-retryable provider response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("userinfo error (%d): %s", e.Status, e.Message)
}

// User is the authenticated identity.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Sub   string `json:"sub,omitempty"`
}

// Identity returns the value used as creator and approver names.
func (u *User) Identity() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Sub
}

// RetryConfig configures retry behavior for userinfo calls.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryConfig retries five times with a constant backoff.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxRetries: 5, Backoff: 100 * time.Millisecond}
}

// Config configures a UserInfoClient.
type Config struct {
	Endpoint   string
	Retry      *RetryConfig
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

type cacheEntry struct {
	user    *User
	expires time.Time
}

// UserInfoClient resolves bearer tokens to users. Successful lookups are
// cached by token hash for CacheTTL.
type UserInfoClient struct {
	endpoint   string
	retry      *RetryConfig
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewUserInfoClient creates a client for the given endpoint.
func NewUserInfoClient(cfg Config) *UserInfoClient {
	c := &UserInfoClient{
		endpoint:   cfg.Endpoint,
		retry:      cfg.Retry,
		ttl:        cfg.CacheTTL,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
	if c.retry == nil {
		c.retry = DefaultRetryConfig()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

// Authenticate returns the user for token.
func (c *UserInfoClient) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	key := tokenKey(token)
	if u := c.cached(key); u != nil {
		return u, nil
	}

	var user *User
	err := c.withRetry(ctx, func() error {
		var err error
		user, err = c.fetch(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = cacheEntry{user: user, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return user, nil
}

func (c *UserInfoClient) cached(key string) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return nil
	}
	if c.now().After(entry.expires) {
		delete(c.cache, key)
		return nil
	}
	return entry.user
}

func (c *UserInfoClient) fetch(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidToken
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Status: resp.StatusCode, Message: string(msg)}
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if user.Identity() == "" {
		return nil, ErrInvalidToken
	}
	return &user, nil
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidToken) {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// withRetry executes fn, retrying transient errors with a constant backoff.
func (c *UserInfoClient) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < c.retry.MaxRetries {
			if err := sleep(ctx, c.retry.Backoff); err != nil {
				return fmt.Errorf("userinfo: %w (retry cancelled)", lastErr)
			}
		}
	}
	return fmt.Errorf("userinfo: %w (after %d retries)", lastErr, c.retry.MaxRetries)
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
