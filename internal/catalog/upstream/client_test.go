package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const productsJSON = `[
  {"id":1,"title":"Fjallraven Backpack","price":109.95,"description":"Your perfect pack","category":"men's clothing","image":"https://example.test/1.jpg","rating":{"rate":3.9,"count":120}},
  {"id":2,"title":"Slim Fit T-Shirts","price":22.3,"description":"Slim-fitting style","category":"men's clothing","image":"https://example.test/2.jpg","rating":{"rate":4.1,"count":259}}
]`

var observedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*config.Config)) *Client {
	t.Helper()
	server := httptest.NewUnstartedServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	server.Start()
	t.Cleanup(server.Close)

	cfg := config.Config{Upstream: config.UpstreamConfig{
		BaseURL: server.URL + "/products/",
		Timeout: time.Second,
	}}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(Params{
		Config: cfg,
		Clock:  clock.NewFakeClock(observedAt),
		Log:    zaptest.NewLogger(t),
	})
}

func TestClientList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(productsJSON))
	}, nil)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, int64(1), items[0].ExternalID)
	assert.Equal(t, "109.95", items[0].Price.String())
	assert.Equal(t, "https://example.test/1.jpg", items[0].ImageRef)
	assert.Equal(t, 4.1, items[1].RatingValue)
	assert.Equal(t, int64(259), items[1].RatingCount)
	assert.Equal(t, observedAt, items[0].ObservedAt)
}

func TestClientGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/2", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":2,"title":"Slim Fit T-Shirts","price":22.3,"rating":{"rate":4.1,"count":259}}`))
	}, nil)

	item, err := c.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Slim Fit T-Shirts", item.Title)
}

func TestClientFailuresAreUpstreamUnavailable(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		mutate  func(*config.Config)
		reason  string
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			reason:  ReasonStatus,
		},
		{
			name:    "not found status",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			reason:  ReasonNotFound,
		},
		{
			name:    "null body",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("null")) },
			reason:  ReasonNotFound,
		},
		{
			name:    "garbage",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
			reason:  ReasonDecode,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"id":7,"title":"` + strings.Repeat("x", 256) + `"}`))
			},
			mutate: func(cfg *config.Config) { cfg.Upstream.MaxResponseBytes = 64 },
			reason: ReasonTooLarge,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			mutate: func(cfg *config.Config) { cfg.Upstream.Timeout = 20 * time.Millisecond },
			reason: ReasonTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler, tc.mutate)

			_, err := c.Get(context.Background(), 7)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable), "got %v", err)
			assert.Equal(t, tc.reason, ReasonOf(err))
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := New(Params{
		Config: config.Config{Upstream: config.UpstreamConfig{BaseURL: url, Timeout: time.Second}},
		Clock:  clock.SystemClock{},
		Log:    zaptest.NewLogger(t),
	})

	_, err := c.List(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Equal(t, ReasonTransport, ReasonOf(err))
}
