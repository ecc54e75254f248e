package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxProxiedImageBytes = int64(20 * 1024 * 1024)
	defaultImageBaseURL  = "https://image.tmdb.org/t/p"
	defaultImageSize     = "w342"
	imageCacheControl    = "public, max-age=0, s-maxage=86400, stale-while-revalidate=86400"
)

var (
	imageSizes = map[string]struct{}{
		"w92": {}, "w154": {}, "w185": {}, "w342": {}, "w500": {}, "w780": {}, "original": {},
	}
	imagePathPattern = regexp.MustCompile(`^/[A-Za-z0-9_\-]+\.(jpg|jpeg|png|webp)$`)
)

// imageProxy relays poster images from the configured image CDN so browsers
// only ever talk to this service.
type imageProxy struct {
	baseURL string
	client  *http.Client
}

func newImageProxy(baseURL string, client *http.Client) *imageProxy {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultImageBaseURL
	}
	if client == nil {
		client = newImageProxyClient()
	}
	return &imageProxy{baseURL: baseURL, client: client}
}

func (p *imageProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	size, path, err := imageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := p.fetch(r.Context(), size, path)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxProxiedImageBytes)
	head := make([]byte, 512)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to read image")
		return
	}
	head = head[:n]

	contentType, ok := imageContentType(resp.Header.Get("Content-Type"), head)
	if !ok {
		writeError(w, http.StatusBadGateway, "upstream_error", "not an image")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", imageCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(head)
	_, _ = io.Copy(w, body)
}

func imageParams(r *http.Request) (size, path string, err error) {
	query := r.URL.Query()
	path = strings.TrimSpace(query.Get("path"))
	if !imagePathPattern.MatchString(path) {
		return "", "", errors.New("path must look like /<file>.jpg")
	}
	size = strings.TrimSpace(query.Get("size"))
	if size == "" {
		size = defaultImageSize
	}
	if _, ok := imageSizes[size]; !ok {
		return "", "", errors.New("unsupported image size")
	}
	return size, path, nil
}

// fetch returns a successful upstream response. Upstream bodies of failed
// requests are never relayed.
func (p *imageProxy) fetch(ctx context.Context, size, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+size+path, nil)
	if err != nil {
		return nil, errors.New("invalid image path")
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.New("failed to fetch image")
	}
	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	case resp.ContentLength > maxProxiedImageBytes:
		resp.Body.Close()
		return nil, errors.New("image too large")
	}
	return resp, nil
}

// imageContentType trusts an image/* header, sniffs when the header is
// missing and falls back to JPEG for opaque binary responses.
func imageContentType(header string, head []byte) (string, bool) {
	contentType := strings.TrimSpace(header)
	if contentType == "" && len(head) > 0 {
		contentType = http.DetectContentType(head)
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		return "image/jpeg", true
	}
	return contentType, strings.HasPrefix(strings.ToLower(contentType), "image/")
}

func newImageProxyClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	dialer := &net.Dialer{Timeout: 8 * time.Second, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   12 * time.Second,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("stopped after 5 redirects")
			}
			return validateProxyURL(req.Context(), req.URL)
		},
	}
}

// validateProxyURL rejects redirects that point back into private networks.
func validateProxyURL(ctx context.Context, u *url.URL) error {
	if u == nil {
		return errors.New("invalid url")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errors.New("unsupported url scheme")
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return errors.New("invalid url host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") {
		return errors.New("blocked url host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return errors.New("blocked url host")
		}
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
	if err != nil || len(addrs) == 0 {
		return errors.New("failed to resolve url host")
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return errors.New("blocked url host")
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
