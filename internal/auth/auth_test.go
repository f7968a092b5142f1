package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *UserInfoClient {
	return NewUserInfoClient(Config{
		Endpoint: url,
		Retry:    &RetryConfig{MaxRetries: 5, Backoff: time.Millisecond},
	})
}

func TestAuthenticate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good", r.Header.Get("Authorization"))
		w.Write([]byte(`{"email":"alice@example.com","sub":"123"}`))
	}))
	defer srv.Close()

	user, err := newTestClient(srv.URL).Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Identity())
}

func TestAuthenticate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"email":"alice@example.com"}`))
	}))
	defer srv.Close()

	user, err := newTestClient(srv.URL).Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthenticate_GivesUpAfterFiveRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Authenticate(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 5 retries")
	assert.Equal(t, int32(6), calls.Load())

	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusServiceUnavailable, ae.Status)
}

func TestAuthenticate_ClientErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Authenticate(context.Background(), "tok")
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusForbidden, ae.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthenticate_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Authenticate(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, int32(1), calls.Load())

	_, err = newTestClient(srv.URL).Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_Cache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"email":"alice@example.com"}`))
	}))
	defer srv.Close()

	c := NewUserInfoClient(Config{Endpoint: srv.URL, CacheTTL: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.Authenticate(context.Background(), "tok")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := c.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAuthenticate_CancelledContextStopsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewUserInfoClient(Config{Endpoint: srv.URL, Retry: &RetryConfig{MaxRetries: 5, Backoff: time.Hour}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Authenticate(ctx, "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}
