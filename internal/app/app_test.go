package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fxstream/internal/config"
	"fxstream/internal/provider"
)

type upstreamRequest struct {
	path      string
	query     url.Values
	userAgent string
}

func TestNewRates_AgainstUpstream(t *testing.T) {
	var mu sync.Mutex
	var reqs []upstreamRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, upstreamRequest{path: r.URL.Path, query: r.URL.Query(), userAgent: r.Header.Get("User-Agent")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"amount":1,"base":"PLN","date":"2026-02-23","rates":{"EUR":0.23,"USD":0.25}}`)
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Frankfurter.URL = upstream.URL
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := NewProvider(cfg)
	require.Equal(t, "Frankfurter", p.Name())

	rc := NewRates(cfg, p, nil, log)
	res, err := rc.Get(context.Background(), "pln", []string{"USD", "EUR"})
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.Equal(t, "PLN__EUR,USD", res.Key)
	require.Equal(t, map[string]float64{"EUR": 0.23, "USD": 0.25}, res.Snapshot.Rates)
	require.Equal(t, "frankfurter", res.Snapshot.Source)

	_, err = rc.Get(context.Background(), "PLN", []string{"EUR", "USD"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reqs, 1)
	require.Equal(t, "/v1/latest", reqs[0].path)
	require.Equal(t, "PLN", reqs[0].query.Get("base"))
	require.Equal(t, "EUR,USD", reqs[0].query.Get("symbols"))
	require.Equal(t, "fxstream/1.0", reqs[0].userAgent)
}

func TestNewProvider_UpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Frankfurter.URL = upstream.URL

	_, err := NewProvider(cfg).Fetch(context.Background(), "PLN", []string{"EUR"})
	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, http.StatusServiceUnavailable, ue.Status)
	require.Equal(t, "Frankfurter HTTP 503", err.Error())
}
