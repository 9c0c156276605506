package pipefy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		URL:             url,
		RequestInterval: time.Millisecond,
		MaxRetries:      3,
		PageSize:        50,
		ThrottleBackoff: time.Millisecond,
		ServerBackoff:   time.Millisecond,
	}
}

func TestExecuteUnauthorizedNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	err := c.Execute(context.Background(), "tok", "query { me { id } }", nil, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls, "401 must fail immediately without retry")
}

func TestExecuteThrottledRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	err := c.Execute(context.Background(), "tok", "query { me { id } }", nil, nil)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 4, calls, "initial attempt plus the full retry budget")
}

func TestExecuteServerErrorRecovers(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"me": map[string]any{"id": 77, "name": "Ana"}},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	me, err := c.CurrentUser(context.Background(), "tok")

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "77", me.ID.String(), "numeric wire id decodes to string")
	assert.Equal(t, "Ana", me.Name)
}

func TestExecuteStructuredErrorSurfacesFirstMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{"message": "Phase not found"},
				{"message": "secondary"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	err := c.Execute(context.Background(), "tok", "query { phase(id: 1) { id } }", nil, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Phase not found", apiErr.Messages[0])
}

func TestExecuteEnforcesRequestSpacing(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestInterval = 25 * time.Millisecond
	c := NewClient(cfg, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Execute(context.Background(), "tok", "query { me { id } }", nil, nil))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 4)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// small tolerance for scheduling jitter between limiter grant and dispatch
		assert.GreaterOrEqual(t, gap, 20*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestExecuteConnectivityError(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"), nil)
	err := c.Execute(context.Background(), "tok", "query { me { id } }", nil, nil)
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestExecuteCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(testConfig("http://127.0.0.1:1"), nil)
	err := c.Execute(ctx, "tok", "query { me { id } }", nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
