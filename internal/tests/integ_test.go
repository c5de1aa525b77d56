package tests

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/iTrooz/phoxy/internal/cache"
	"github.com/iTrooz/phoxy/internal/config"
)

func expectRequest(t *testing.T, client *http.Client, target, xCache string) {
	t.Helper()

	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if resp.Header.Get("X-Cache") != xCache {
		t.Errorf("Expected X-Cache: %s, got %s", xCache, resp.Header.Get("X-Cache"))
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Hello from upstream") {
		t.Errorf("Unexpected response body: %s", string(body))
	}
}

func TestProxyIntegration(t *testing.T) {
	var calls atomic.Int32
	upstream := fixture_upstream(&calls)
	defer upstream.Close()

	tempDir := t.TempDir()

	cfg := fixture_config(tempDir, &config.RulesConfig{
		Mode: "whitelist",
		Rules: []config.CacheRule{
			{
				BaseURI: upstream.URL,
				Methods: []string{"GET"},
			},
		},
	})

	_, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()

	t.Run("first request - cache miss", func(t *testing.T) {
		expectRequest(t, client, upstream.URL+"/test", "MISS")
	})

	t.Run("second request - cache hit", func(t *testing.T) {
		expectRequest(t, client, upstream.URL+"/test", "HIT")
	})

	t.Run("upstream called once", func(t *testing.T) {
		if calls.Load() != 1 {
			t.Errorf("Expected 1 upstream request, got %d", calls.Load())
		}
	})

	t.Run("verify cache file exists", func(t *testing.T) {
		files, err := filepath.Glob(filepath.Join(tempDir, "*.cache"))
		if err != nil {
			t.Fatalf("Failed to list cache folder: %v", err)
		}
		if len(files) != 1 {
			t.Errorf("Expected 1 cache file in %s, got %d", tempDir, len(files))
		}
	})
}

func TestProxyIntegrationWithCustomRules(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	// Blacklist mode, the upstream URL is not in the blacklist
	cfg := fixture_config(t.TempDir(), &config.RulesConfig{
		Mode: "blacklist",
		Rules: []config.CacheRule{
			{
				BaseURI: "https://example.com",
				Methods: []string{"GET"},
			},
		},
	})

	_, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()

	t.Run("request should be cached with blacklist rules", func(t *testing.T) {
		expectRequest(t, client, upstream.URL+"/test", "MISS")
		expectRequest(t, client, upstream.URL+"/test", "HIT")
	})
}

func TestProxyIntegrationBlacklisted(t *testing.T) {
	var calls atomic.Int32
	upstream := fixture_upstream(&calls)
	defer upstream.Close()

	cfg := fixture_config(t.TempDir(), &config.RulesConfig{
		Mode:  "blacklist",
		Rules: []config.CacheRule{{BaseURI: upstream.URL + "/private"}},
	})

	_, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()

	expectRequest(t, client, upstream.URL+"/private/data", "MISS")
	expectRequest(t, client, upstream.URL+"/private/data", "MISS")

	if calls.Load() != 2 {
		t.Errorf("Expected 2 upstream requests, got %d", calls.Load())
	}
}

func TestProxyIntegrationSurvivesRestart(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	cfg := fixture_config(t.TempDir(), nil)

	_, first, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	expectRequest(t, client, upstream.URL+"/persisted", "MISS")
	first.Close()

	_, second, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer second.Close()

	expectRequest(t, client, upstream.URL+"/persisted", "HIT")
}

func TestProxyIntegrationArrayAdapter(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(tempDir, nil)
	cfg.Cache.Adapter = cache.AdapterArray

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()

	expectRequest(t, client, upstream.URL+"/memory", "MISS")
	expectRequest(t, client, upstream.URL+"/memory", "HIT")

	stats, err := proxyServer.Cache().Stats()
	if err != nil {
		t.Fatalf("Failed to read stats: %v", err)
	}
	if stats.ItemsCount != 1 {
		t.Errorf("Expected 1 cached item, got %d", stats.ItemsCount)
	}

	files, _ := filepath.Glob(filepath.Join(tempDir, "*"))
	if len(files) != 0 {
		t.Errorf("Array adapter should not write to %s, found %v", tempDir, files)
	}
}
