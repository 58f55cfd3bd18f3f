// Package proxy forwards allowed requests to the protected upstream.
package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler forwards requests to a single configured upstream.
type Handler struct {
	upstream *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// New creates a proxy to upstream. The URL must carry a scheme and host.
func New(upstream string, logger *slog.Logger) (*Handler, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q must include scheme and host", upstream)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
		// The client sees upstream redirects verbatim.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Handler{upstream: u, client: client, logger: logger}, nil
}

// ServeHTTP forwards r to the upstream and streams the response back.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := *h.upstream
	target.Path = singleJoin(h.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		h.logger.Error("proxy request build failed", "err", err)
		http.Error(w, `{"error":"bad gateway"}`, http.StatusBadGateway)
		return
	}

	copyHeaders(out.Header, r.Header)
	for _, k := range hopByHopHeaders {
		out.Header.Del(k)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			out.Header.Set("X-Forwarded-For", ip)
		}
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Host = h.upstream.Host

	resp, err := h.client.Do(out)
	if err != nil {
		h.logger.Warn("upstream request failed", "err", err, "path", r.URL.Path)
		http.Error(w, `{"error":"upstream unavailable"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	copyHeaders(dst, resp.Header)
	for _, k := range hopByHopHeaders {
		dst.Del(k)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("response copy interrupted", "err", err)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
