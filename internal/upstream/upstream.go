// Package upstream forwards gateway requests to route backends and streams
// their responses back through the caller's ResponseWriter.
package upstream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/eugener/xssgate/internal"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Set forceHTTP2 to true for remote HTTPS backends.
func NewTransport(resolver *dnscache.Resolver, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// hopByHop headers that must not be forwarded between client and upstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// copyBufPool recycles the 32 KB buffers used to stream response bodies.
var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// Upstream is one route backend.
type Upstream struct {
	name    string
	base    *url.URL
	client  *http.Client
	timeout time.Duration
}

// New returns an Upstream for baseURL. A zero timeout leaves the request
// bounded only by the client request context.
func New(name, baseURL string, client *http.Client, timeout time.Duration) (*Upstream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: parse url: %w", name, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Upstream{name: name, base: u, client: client, timeout: timeout}, nil
}

// targetURL joins the base URL with the escaped path and the client's raw
// query. Escapes such as %2F reach the upstream unchanged.
func (u *Upstream) targetURL(escapedPath, rawQuery string) string {
	t := *u.base
	raw := strings.TrimRight(u.base.EscapedPath(), "/") + escapedPath
	if p, err := url.PathUnescape(raw); err == nil {
		t.Path, t.RawPath = p, raw
	} else {
		t.Path, t.RawPath = raw, ""
	}
	t.RawQuery = rawQuery
	return t.String()
}

// Forward proxies r to the upstream at the escaped path (+ the original
// query string), copies non-hop-by-hop headers both ways and streams the response into w.
// Streaming responses (SSE, NDJSON, unknown length) are flushed after every read.
//
// Nothing is written to w when the request fails before a response arrives;
// the caller answers the client. Errors after the head was written wrap
// gateway.ErrTruncated.
func (u *Upstream) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, u.targetURL(path, r.URL.RawQuery), r.Body)
	if err != nil {
		return fmt.Errorf("upstream %s: create request: %w", u.name, err)
	}
	outReq.ContentLength = r.ContentLength
	copyRequestHeaders(outReq.Header, r)

	resp, err := u.client.Do(outReq)
	if err != nil {
		return fmt.Errorf("%w: %s: do request: %w", gateway.ErrUpstream, u.name, err)
	}
	defer resp.Body.Close()

	for key, vals := range resp.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	needsFlush := canFlush && isStreaming(resp)

	bp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bp)
	buf := *bp
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("%w: upstream %s: write response: %w", gateway.ErrTruncated, u.name, writeErr)
			}
			if needsFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: %w: %s: read response: %w", gateway.ErrUpstream, gateway.ErrTruncated, u.name, readErr)
		}
	}
}

// copyRequestHeaders copies client headers to the upstream request, dropping
// hop-by-hop headers and adding X-Forwarded-*. Accept-Encoding is dropped so
// the transport negotiates compression itself and hands back decoded bytes.
func copyRequestHeaders(dst http.Header, r *http.Request) {
	var connTokens []string
	for _, v := range r.Header["Connection"] {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				connTokens = append(connTokens, http.CanonicalHeaderKey(tok))
			}
		}
	}

	for key, vals := range r.Header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		if key == "Accept-Encoding" || slices.Contains(connTokens, key) {
			continue
		}
		dst[key] = vals
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := dst.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		dst.Set("X-Forwarded-For", ip)
	}
	dst.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		dst.Set("X-Forwarded-Proto", "https")
	} else {
		dst.Set("X-Forwarded-Proto", "http")
	}
}

// isStreaming reports whether the upstream response should be flushed read by read.
func isStreaming(resp *http.Response) bool {
	if resp.ContentLength == -1 {
		return true
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mt {
	case "text/event-stream", "application/x-ndjson", "application/stream+json":
		return true
	}
	return false
}
