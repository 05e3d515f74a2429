package proxy

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hangarhq/hangar/internal/registry"
)

func newTestRegistryFor(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(filepath.Join(t.TempDir(), "registry.json"))
}

func upstreamPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	u := strings.TrimPrefix(ts.URL, "http://127.0.0.1:")
	port, err := strconv.Atoi(u)
	if err != nil {
		t.Fatalf("parse upstream port: %v", err)
	}
	return port
}

func TestServeHTTPFallsThroughForReservedPaths(t *testing.T) {
	reg := newTestRegistryFor(t)
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { nextCalled = true })
	p := New(reg, next)

	req := httptest.NewRequest(http.MethodGet, "/webapp", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if !nextCalled {
		t.Fatal("expected reserved path to fall through to Next")
	}
}

func TestServeHTTPFallsThroughForUnknownApp(t *testing.T) {
	reg := newTestRegistryFor(t)
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { nextCalled = true })
	p := New(reg, next)

	req := httptest.NewRequest(http.MethodGet, "/nope/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if !nextCalled {
		t.Fatal("expected unregistered app to fall through to Next")
	}
}

func TestServeHTTPNotRunningReturns503Page(t *testing.T) {
	reg := newTestRegistryFor(t)
	if err := reg.Put(registry.AppRecord{Name: "demo", Port: 9000, Status: registry.StatusRegistered}); err != nil {
		t.Fatal(err)
	}
	p := New(reg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/demo/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "demo") {
		t.Fatalf("expected app name in error page, got: %s", rec.Body.String())
	}
}

func TestServeHTTPProxiesToRunningApp(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("expected upstream path /status, got %s", r.URL.Path)
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	reg := newTestRegistryFor(t)
	port := upstreamPort(t, upstream)
	if err := reg.Put(registry.AppRecord{Name: "demo", Port: port, Status: registry.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	p := New(reg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/demo/status", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestServeHTTPGzipReEncodingTrap(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte("hello gzip world"))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	reg := newTestRegistryFor(t)
	port := upstreamPort(t, upstream)
	if err := reg.Put(registry.AppRecord{Name: "demo", Port: port, Status: registry.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	p := New(reg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/demo/data", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello gzip world" {
		t.Fatalf("expected decoded body, got %q (still gzipped would mean the trap wasn't fixed)", rec.Body.String())
	}
	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Fatalf("expected stale Content-Encoding header to be stripped, got %q", enc)
	}
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(len("hello gzip world")) {
		t.Fatalf("expected Content-Length recomputed for decoded body, got %q", cl)
	}
}

func TestServeHTTPConnectFailureReturns502Page(t *testing.T) {
	reg := newTestRegistryFor(t)
	if err := reg.Put(registry.AppRecord{Name: "demo", Port: 1, Status: registry.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	p := New(reg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/demo/", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected an HTML error page for a connect failure, got Content-Type %q", ct)
	}
}

func TestServeHTTPStripsHopByHopHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Errorf("expected Connection header to be stripped before forwarding")
		}
		w.Header().Set("Connection", "keep-alive")
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	reg := newTestRegistryFor(t)
	port := upstreamPort(t, upstream)
	if err := reg.Put(registry.AppRecord{Name: "demo", Port: port, Status: registry.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	p := New(reg, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/demo/", nil)
	req.Header.Set("Connection", "keep-alive")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Header().Get("Connection") != "" {
		t.Fatalf("expected Connection response header to be stripped")
	}
}

func TestSplitFirstSegment(t *testing.T) {
	cases := []struct {
		path, first, rest string
	}{
		{"/demo/status", "demo", "/status"},
		{"/demo", "demo", ""},
		{"/demo/", "demo", "/"},
		{"/", "", ""},
	}
	for _, c := range cases {
		first, rest := splitFirstSegment(c.path)
		if first != c.first || rest != c.rest {
			t.Errorf("splitFirstSegment(%q) = (%q, %q), want (%q, %q)", c.path, first, rest, c.first, c.rest)
		}
	}
}
