package apihttp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestImageProxyRelaysImage(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write(pngHeader)
	}))
	defer upstream.Close()

	handler := NewServer(&fakeRankingService{}, WithImageProxy(upstream.URL+"/t/p/", upstream.Client())).Handler()
	w := serve(t, handler, http.MethodGet, "/api/image?path=/abc123.jpg", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotPath != "/t/p/w342/abc123.jpg" {
		t.Fatalf("unexpected upstream path %q", gotPath)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != imageCacheControl {
		t.Fatalf("unexpected cache control %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), pngHeader) {
		t.Fatalf("body was not relayed intact")
	}
}

func TestImageProxyDefaultsToJPEG(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer upstream.Close()

	handler := NewServer(&fakeRankingService{}, WithImageProxy(upstream.URL, upstream.Client())).Handler()
	w := serve(t, handler, http.MethodGet, "/api/image?path=/x.jpg&size=original", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("status=%d content-type=%q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestImageProxyRejectsBadInput(t *testing.T) {
	handler := NewServer(&fakeRankingService{}, WithImageProxy("https://images.invalid", http.DefaultClient)).Handler()
	for _, target := range []string{
		"/api/image",
		"/api/image?path=abc.jpg",
		"/api/image?path=/../etc/passwd",
		"/api/image?path=/abc.jpg&size=w9999",
	} {
		w := serve(t, handler, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestImageProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>gone</html>", http.StatusNotFound)
	}))
	defer upstream.Close()

	handler := NewServer(&fakeRankingService{}, WithImageProxy(upstream.URL, upstream.Client())).Handler()
	w := serve(t, handler, http.MethodGet, "/api/image?path=/abc.jpg", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if code, _ := decodeError(t, w); code != "upstream_error" {
		t.Fatalf("unexpected code %s", code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("<html>")) {
		t.Fatalf("upstream body leaked")
	}
}

func TestImageProxyRejectsNonImage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer upstream.Close()

	handler := NewServer(&fakeRankingService{}, WithImageProxy(upstream.URL, upstream.Client())).Handler()
	if w := serve(t, handler, http.MethodGet, "/api/image?path=/abc.jpg", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestValidateProxyURL(t *testing.T) {
	blocked := []string{
		"ftp://image.tmdb.org/a.jpg",
		"http://localhost/a.jpg",
		"http://127.0.0.1/a.jpg",
		"http://10.0.0.5/a.jpg",
		"http://192.168.1.1/a.jpg",
		"http://printer.local/a.jpg",
	}
	for _, raw := range blocked {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if err := validateProxyURL(context.Background(), u); err == nil {
			t.Fatalf("%s should be blocked", raw)
		}
	}
	u, _ := url.Parse("https://8.8.8.8/a.jpg")
	if err := validateProxyURL(context.Background(), u); err != nil {
		t.Fatalf("public ip rejected: %v", err)
	}
}

func TestIsBlockedIP(t *testing.T) {
	if !isBlockedIP(nil) || !isBlockedIP(net.ParseIP("::1")) || !isBlockedIP(net.ParseIP("169.254.1.1")) {
		t.Fatalf("expected loopback and link-local to be blocked")
	}
	if isBlockedIP(net.ParseIP("1.1.1.1")) {
		t.Fatalf("public address should be allowed")
	}
}
