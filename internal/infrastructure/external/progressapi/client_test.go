package progressapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
)

func newClient(t *testing.T, h http.Handler, mod ...func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := ClientConfig{BaseURL: srv.URL, APIKey: "secret"}
	for _, m := range mod {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestClient_Get(t *testing.T) {
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/progress/pricing", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"currentStep":2,"completedSections":[0,3],"lastUpdated":"2024-03-01T10:00:00Z","started":true}`))
	}))

	snap, err := c.Get(context.Background(), "pricing")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Valid())
	assert.Equal(t, 2, snap.CurrentStep)
	assert.Equal(t, []int{0, 3}, snap.CompletedSections)
	assert.Equal(t, updated, snap.LastUpdated)
	assert.True(t, snap.Started)
}

func TestClient_GetWithoutCompletedSectionsIsInvalid(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"currentStep":4}`))
	}))

	snap, err := c.Get(context.Background(), "pricing")
	require.NoError(t, err)
	assert.False(t, snap.Valid())
}

func TestClient_GetNotFound(t *testing.T) {
	c := newClient(t, http.NotFoundHandler())

	snap, err := c.Get(context.Background(), "pricing")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestClient_Put(t *testing.T) {
	var got PutRequestDTO
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/progress", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	snap := progress.Snapshot{CurrentStep: 1, CompletedSections: []int{}, Started: true}
	require.NoError(t, c.Put(context.Background(), "pricing", snap))

	assert.Equal(t, "pricing", got.ContentID)
	assert.Equal(t, 1, got.Progress.CurrentStep)
	assert.Equal(t, []int{}, got.Progress.CompletedSections)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"code":"UPSTREAM","message":"db down"}`))
			},
			want: shared.ErrRemoteUnavailable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: shared.ErrRemoteInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			_, err := c.Get(context.Background(), "pricing")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_StatusErrorCarriesBody(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"MAINTENANCE","message":"back soon"}`))
	}))

	err := c.Put(context.Background(), "pricing", progress.Snapshot{CompletedSections: []int{}})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, "MAINTENANCE", se.Body.Code)
	assert.True(t, se.Temporary())
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), func(cfg *ClientConfig) { cfg.Timeout = 30 * time.Millisecond })
	defer close(release)

	_, err := c.Get(context.Background(), "pricing")
	assert.ErrorIs(t, err, shared.ErrRemoteTimeout)
	assert.True(t, shared.IsExternalService(err))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	breaker := circuitbreaker.RemoteStoreBreaker(2, time.Minute, 1, nil)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), func(cfg *ClientConfig) { cfg.Breaker = breaker })

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "pricing")
		require.Error(t, err)
	}
	require.True(t, breaker.IsOpen())

	_, err := c.Get(context.Background(), "pricing")
	assert.ErrorIs(t, err, shared.ErrRemoteUnavailable)
	assert.True(t, circuitbreaker.IsRejection(err))
	assert.Equal(t, int32(2), calls.Load(), "open breaker fails fast without a request")
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	breaker := circuitbreaker.RemoteStoreBreaker(1, time.Minute, 1, nil)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}), func(cfg *ClientConfig) { cfg.Breaker = breaker })

	err := c.Put(context.Background(), "pricing", progress.Snapshot{CompletedSections: []int{}})
	require.Error(t, err)
	assert.False(t, breaker.IsOpen())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestClient_Ping(t *testing.T) {
	c := newClient(t, http.NotFoundHandler())
	assert.NoError(t, c.Ping(context.Background()))
}
