package tmdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string, cfg Config) *Client {
	cfg.BaseURL = serverURL
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewClient(cfg)
}

func TestSearchSendsBearerAndAPIKey(t *testing.T) {
	var gotAuth, gotKey, gotPath, gotLang, gotAdult string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.URL.Query().Get("api_key")
		gotLang = r.URL.Query().Get("language")
		gotAdult = r.URL.Query().Get("include_adult")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"results":[{"id":93405,"name":"오징어 게임","poster_path":"/p.jpg","first_air_date":"2021-09-17"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BearerToken: `"Bearer eyJtoken"`, APIKey: "key3"})
	result, err := client.Search(context.Background(), EndpointTV, "Squid Game", "ko-KR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || result.ID != 93405 || result.DisplayTitle() != "오징어 게임" || result.Year() != 2021 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotAuth != "Bearer eyJtoken" {
		t.Fatalf("expected normalized bearer header, got %q", gotAuth)
	}
	if gotKey != "key3" || gotLang != "ko-KR" || gotAdult != "false" || gotPath != "/search/tv" {
		t.Fatalf("unexpected request: path=%s key=%s lang=%s adult=%s", gotPath, gotKey, gotLang, gotAdult)
	}
}

func TestSearchFallsBackToAPIKeyOnUnauthorized(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("api_key") != "key3" {
			t.Errorf("expected api key on fallback request")
		}
		_, _ = w.Write([]byte(`{"results":[{"id":1,"title":"Found"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BearerToken: "bad", APIKey: "key3"})
	result, err := client.Search(context.Background(), EndpointMovie, "Found", "en-US")
	if err != nil || result == nil || result.Title != "Found" {
		t.Fatalf("expected fallback result, got %+v err=%v", result, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSearchUnauthorizedWithoutAPIKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BearerToken: "bad"})
	_, err := client.Search(context.Background(), EndpointMovie, "X", "en-US")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry on 401, got %d calls", calls.Load())
	}
}

func TestSearchRetriesOnceOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":7,"title":"Retry"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BearerToken: "tok"})
	result, err := client.Search(context.Background(), EndpointMovie, "Retry", "en-US")
	if err != nil || result == nil || result.ID != 7 {
		t.Fatalf("expected result after retry, got %+v err=%v", result, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSearchGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BearerToken: "tok"})
	if _, err := client.Search(context.Background(), EndpointMovie, "X", "en-US"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls.Load())
	}
}

func TestSearchCachesResultsAndEmptyResponses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("query") == "nothing" {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":3,"title":"Cached"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{APIKey: "key"})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := client.Search(ctx, EndpointMovie, "Cached", "en-US")
		if err != nil || result == nil || result.ID != 3 {
			t.Fatalf("unexpected result: %+v err=%v", result, err)
		}
		empty, err := client.Search(ctx, EndpointMovie, "nothing", "en-US")
		if err != nil || empty != nil {
			t.Fatalf("expected cached empty result, got %+v err=%v", empty, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 network calls, got %d", calls.Load())
	}

	// Different language is a different cache key.
	_, _ = client.Search(ctx, EndpointMovie, "Cached", "ko-KR")
	if calls.Load() != 3 {
		t.Fatalf("expected language to be part of the key, got %d calls", calls.Load())
	}
}

func TestSearchMultiSkipsPeople(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"id":1,"name":"Someone","media_type":"person"},{"id":2,"title":"Film","media_type":"movie"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{APIKey: "key"})
	result, err := client.Search(context.Background(), EndpointMulti, "x", "en-US")
	if err != nil || result == nil || result.ID != 2 {
		t.Fatalf("expected movie result, got %+v err=%v", result, err)
	}
}

func TestSearchWithoutCredentials(t *testing.T) {
	client := NewClient(Config{})
	if client.Enabled() {
		t.Fatal("expected client to be disabled")
	}
	if _, err := client.Search(context.Background(), EndpointMulti, "x", "en-US"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestSearchConcurrencyIsBounded(t *testing.T) {
	var current, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		_, _ = w.Write([]byte(`{"results":[{"id":1,"title":"x"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{APIKey: "key", MaxConcurrent: 5})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = client.Search(context.Background(), EndpointMovie, fmt.Sprintf("title %d", i), "en-US")
		}(i)
	}
	wg.Wait()

	if peak.Load() > 5 {
		t.Fatalf("server saw %d concurrent requests", peak.Load())
	}
	if client.PeakInFlight() > 5 || client.PeakInFlight() < 1 {
		t.Fatalf("unexpected client peak %d", client.PeakInFlight())
	}
	if client.InFlight() != 0 {
		t.Fatalf("expected all permits released, %d in flight", client.InFlight())
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		`"abc"`:         "abc",
		"Bearer abc":    "abc",
		" 'bearer abc'": "abc",
		"":              "",
	}
	for input, want := range cases {
		if got := NormalizeToken(input); got != want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCredentialStatus(t *testing.T) {
	client := NewClient(Config{
		BearerToken: "eyJ" + strings.Repeat("a", 120),
		APIKey:      strings.Repeat("b", 32),
	})
	status := client.CredentialStatus()
	if !status.HasBearer || !status.BearerLooksValid || status.BearerLength != 123 {
		t.Fatalf("unexpected bearer status: %+v", status)
	}
	if !status.HasAPIKey || !status.APIKeyLooksValid || status.APIKeyLength != 32 {
		t.Fatalf("unexpected api key status: %+v", status)
	}

	status = NewClient(Config{APIKey: "short"}).CredentialStatus()
	if status.HasBearer || status.APIKeyLooksValid {
		t.Fatalf("unexpected status: %+v", status)
	}
}
