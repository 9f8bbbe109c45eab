package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body><img src="/a.png"><img src="b.jpg"></body></html>`

func relayGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var eb errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	return eb
}

func TestRelayMissingURL(t *testing.T) {
	h := New(Options{}).Handler()

	for _, path := range []string{"/relay", "/relay?url=", "/proxy?url=%20"} {
		rec := relayGet(t, h, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "missing url parameter", decodeError(t, rec).Error)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRelayReturnsUpstreamBodyVerbatim(t *testing.T) {
	var gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
	}))
	defer upstream.Close()

	h := New(Options{}).Handler()
	for _, route := range []string{"/relay", "/proxy"} {
		rec := relayGet(t, h, route+"?url="+url.QueryEscape(upstream.URL+"/page"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, page, rec.Body.String())
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	assert.Contains(t, DefaultUserAgents, gotUA)
}

func TestRelayUnreachableHost(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	deadURL := upstream.URL
	upstream.Close()

	h := New(Options{Timeout: 2 * time.Second}).Handler()
	rec := relayGet(t, h, "/relay?url="+url.QueryEscape(deadURL))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	eb := decodeError(t, rec)
	assert.Equal(t, "upstream request failed", eb.Error)
	assert.NotEmpty(t, eb.Message)
}

func TestRelayNon2xxIsFailure(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://x.test/missing", httpmock.NewStringResponder(404, "gone"))

	rl := New(Options{Transport: mock})
	rec := relayGet(t, rl.Handler(), "/relay?url="+url.QueryEscape("https://x.test/missing"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "404")

	_, _, err := rl.Fetch(context.Background(), "https://x.test/missing")
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, KindStatus, up.Kind)
	assert.Equal(t, 404, up.Status)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}

func TestRelayTimeoutIsBounded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	rl := New(Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, _, err := rl.Fetch(context.Background(), upstream.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, KindTimeout, up.Kind)
}

func TestRelayBodyLimit(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://x.test/big", httpmock.NewStringResponder(200, strings.Repeat("x", 64)))

	rl := New(Options{Transport: mock, MaxBodyBytes: 16})
	_, _, err := rl.Fetch(context.Background(), "https://x.test/big")

	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, KindBody, up.Kind)
}

func TestRelayPreflight(t *testing.T) {
	h := New(Options{}).Handler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/relay?url=x", nil)
	req.Header.Set("Origin", "http://app.test")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestRelayMetrics(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://x.test/", httpmock.NewStringResponder(200, page))

	h := New(Options{Transport: mock, Metrics: NewMetrics()}).Handler()
	relayGet(t, h, "/relay?url="+url.QueryEscape("https://x.test/"))
	relayGet(t, h, "/relay")

	rec := relayGet(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `clipnest_relay_requests_total{outcome="ok"} 1`)
	assert.Contains(t, body, `clipnest_relay_errors_total{error_type="missing_parameter"} 1`)
}

func TestHealthz(t *testing.T) {
	rec := relayGet(t, New(Options{}).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestClientFetch(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://x.test/page", httpmock.NewStringResponder(200, page))
	mock.RegisterResponder("GET", "https://x.test/down", httpmock.NewErrorResponder(errors.New("connection refused")))

	srv := httptest.NewServer(New(Options{Transport: mock}).Handler())
	defer srv.Close()
	client := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	body, err := client.Fetch(ctx, "https://x.test/page")
	require.NoError(t, err)
	assert.Equal(t, page, body)

	_, err = client.Fetch(ctx, "https://x.test/down")
	require.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = client.Fetch(ctx, "")
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestClientRelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(base, nil).Fetch(context.Background(), "https://x.test/")
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer("127.0.0.1:0", New(Options{}))

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestAgentPool(t *testing.T) {
	pool := NewAgentPool([]string{"only-agent"})
	for i := 0; i < 5; i++ {
		assert.Equal(t, "only-agent", pool.Pick())
	}
	assert.Contains(t, DefaultUserAgents, NewAgentPool(nil).Pick())
}
