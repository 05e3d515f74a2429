// Package proxy implements the path-prefix reverse proxy: HTTPProxy for
// plain requests and WSProxy (wsproxy.go) for the WebSocket upgrade.
package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hangarhq/hangar/internal/hlog"
	"github.com/hangarhq/hangar/internal/registry"
)

// upstreamTimeout bounds the whole upstream HTTP round trip.
const upstreamTimeout = 30 * time.Second

// hopByHop is stripped from both the forwarded request and the returned
// response.
var hopByHop = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"keep-alive":          {},
	"transfer-encoding":   {},
	"te":                  {},
	"trailers":            {},
	"upgrade":             {},
	"proxy-authorization": {},
}

// HTTPProxy routes requests whose first path segment names a running,
// registered app to that app's inner port; everything else falls
// through to Next.
type HTTPProxy struct {
	Registry *registry.Registry
	Next     http.Handler
	WS       *WSProxy

	client *http.Client
}

// New constructs an HTTPProxy. client.CheckRedirect refuses to follow
// redirects; DisableCompression is set so decodeBody (below), not the
// transport, owns the gzip/deflate re-encoding below.
func New(reg *registry.Registry, next http.Handler) *HTTPProxy {
	return &HTTPProxy{
		Registry: reg,
		Next:     next,
		WS:       NewWS(reg),
		client: &http.Client{
			Timeout: upstreamTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{DisableCompression: true},
		},
	}
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	first, rest := splitFirstSegment(r.URL.Path)
	if registry.IsReserved(first) {
		p.Next.ServeHTTP(w, r)
		return
	}

	rec, err := p.Registry.Get(first)
	if err != nil {
		p.Next.ServeHTTP(w, r)
		return
	}

	if rec.Status != registry.StatusRunning {
		writeNotRunningPage(w, rec)
		return
	}

	if isUpgradeRequest(r) && p.WS.CanHandle(first, rec) {
		p.WS.ServeWS(w, r, rec, rest)
		return
	}

	p.proxyTo(w, r, rec, rest)
}

// isUpgradeRequest reports whether r is asking for a WebSocket upgrade.
func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// splitFirstSegment returns the first non-empty path segment and the
// path with that segment (and its leading slash) removed. An empty
// stripped path becomes "/" at the call site.
func splitFirstSegment(path string) (first, rest string) {
	trimmed := strings.TrimLeft(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx:]
}

func (p *HTTPProxy) proxyTo(w http.ResponseWriter, r *http.Request, rec registry.AppRecord, rest string) {
	targetPath := rest
	if targetPath == "" {
		targetPath = "/"
	}
	targetURL := "http://127.0.0.1:" + strconv.Itoa(rec.Port) + targetPath
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Body != nil {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			writeUpstreamErrorText(w, err)
			return
		}
		body = bytes.NewReader(buf)
	}

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		writeUpstreamErrorText(w, err)
		return
	}
	copyRequestHeaders(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		if isConnectError(err) {
			writeUpstreamDownPage(w, rec)
			return
		}
		writeUpstreamErrorText(w, err)
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeUpstreamErrorText(w, err)
		return
	}
	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		hlog.Warn("proxy: failed to decode upstream body, forwarding raw", "app", rec.Name, "err", err)
		decoded = raw
	}

	out := w.Header()
	copyResponseHeaders(out, resp.Header)
	out.Set("Content-Length", strconv.Itoa(len(decoded)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(decoded)
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vals := range src {
		if _, skip := hopByHop[strings.ToLower(k)]; skip {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vals := range src {
		lk := strings.ToLower(k)
		if _, skip := hopByHop[lk]; skip {
			continue
		}
		if lk == "content-encoding" || lk == "content-length" {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

// decodeBody decodes raw per encoding ("gzip", "deflate", or "" /
// anything else passed through unchanged). The outer client must see the
// decoded body with no stale Content-Encoding/Content-Length left behind.
func decodeBody(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	default:
		return raw, nil
	}
}

// isConnectError reports whether err represents a TCP-level connect
// failure, which gets the HTML error page, as opposed to any other
// upstream exception which gets a plain-text 502.
func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
