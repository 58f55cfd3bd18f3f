package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsBareHost(t *testing.T) {
	_, err := New("localhost:3000", testLogger())
	assert.Error(t, err, "scheme is required")

	_, err = New("http://", testLogger())
	assert.Error(t, err)

	_, err = New("http://localhost:3000", testLogger())
	assert.NoError(t, err)
}

func TestForwardsRequest(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer upstream.Close()

	h, err := New(upstream.URL, testLogger())
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/items?x=1", strings.NewReader("payload"))
	req.Host = "waf.example.com"
	req.Header.Set("X-Custom", "kept")
	req.Header.Set("Proxy-Authorization", "dropped")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.NotNil(t, got)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/items", got.URL.Path)
	assert.Equal(t, "x=1", got.URL.RawQuery)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "kept", got.Header.Get("X-Custom"))
	assert.Empty(t, got.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "192.0.2.1", got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "waf.example.com", got.Header.Get("X-Forwarded-Host"))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Upstream"))
}

func TestAppendsToForwardedChain(t *testing.T) {
	var chain string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()

	h, err := New(upstream.URL, testLogger())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.7, 192.0.2.1", chain)
}

func TestUpstreamDownReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	h, err := New(url, testLogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRedirectsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	h, err := New(upstream.URL, testLogger())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/elsewhere", w.Header().Get("Location"))
}

func TestSingleJoin(t *testing.T) {
	assert.Equal(t, "/api", singleJoin("", "/api"))
	assert.Equal(t, "/base/api", singleJoin("/base/", "/api"))
	assert.Equal(t, "/base/api", singleJoin("/base", "/api"))
	assert.Equal(t, "base/api", singleJoin("base", "api"))
}
