package analysis

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// MaxBodyBytes caps how much of a request body is captured for scanning.
const MaxBodyBytes = 10 << 20 // 10 MB

// FromRequest builds a Record from an incoming HTTP request. The request
// body is buffered (up to MaxBodyBytes) and restored so downstream handlers
// can still read it. Caller-owned maps are copied, never aliased.
func FromRequest(r *http.Request) *Record {
	rec := &Record{
		Timestamp: time.Now(),
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     copyValues(r.URL.Query()),
		Headers:   copyValues(r.Header),
		Cookies:   cookieMap(r.Cookies()),
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, _ := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec.Body = string(body)
	}

	return rec
}

// ClientIP resolves the client address: the direct peer first, then the
// first X-Forwarded-For hop, then "unknown".
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return "unknown"
}

func copyValues(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	return dst
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return m
}
