package httpcache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iTrooz/phoxy/internal/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// KeyPrefix starts every key written by ProxyCache
const KeyPrefix = "response:"

// Rejections tracks responses refused by the caching policy
var Rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phoxy_response_cache_rejections_total",
		Help: "Total number of responses the caching policy refused to store",
	},
	[]string{"reason"}, // status, content_type, too_large
)

// ProxyCache applies the caching policy to proxied responses and stores them
// in an adapter. Cache trouble never fails the caller's request: invalid
// arguments degrade to "no cache effect", storage errors are returned for
// the caller to log.
type ProxyCache struct {
	adapter cache.Adapter
	policy  Policy
	now     func() time.Time
}

// New wraps adapter. Categories missing from policy take their default limits.
func New(adapter cache.Adapter, policy Policy) *ProxyCache {
	return &ProxyCache{
		adapter: adapter,
		policy:  policy.merge(DefaultPolicy()),
		now:     time.Now,
	}
}

// Adapter returns the wrapped adapter
func (c *ProxyCache) Adapter() cache.Adapter { return c.adapter }

// Policy returns the resolved policy
func (c *ProxyCache) Policy() Policy { return c.policy }

// GenerateKey derives the cache key of a URL
func GenerateKey(url string) string {
	sum := md5.Sum([]byte(url))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// ShouldCache reports whether resp passes the policy, and why not otherwise
func (c *ProxyCache) ShouldCache(resp *Response) (bool, string) {
	return c.ShouldCacheHeaders(resp.StatusCode, resp.ContentType, int64(len(resp.Body)))
}

// ShouldCacheHeaders applies the policy to what is known before reading a
// body. A negative contentLength means the length is unknown.
func (c *ProxyCache) ShouldCacheHeaders(statusCode int, contentType string, contentLength int64) (bool, string) {
	if statusCode != http.StatusOK {
		return false, "status"
	}
	if !c.policy.IsCacheableContentType(contentType) {
		return false, "content_type"
	}
	if contentLength > c.policy.MaxSizeFor(contentType) {
		return false, "too_large"
	}
	return true, ""
}

func (c *ProxyCache) reject(url, reason string) {
	Rejections.WithLabelValues(reason).Inc()
	logrus.Debugf("Not caching %s: rejected by policy (%s)", url, reason)
}

// CacheHTTPResponse stores an upstream response under url if the policy
// allows it. The body is only read when the headers pass the policy, never
// beyond the category size limit, and stays readable afterwards.
func (c *ProxyCache) CacheHTTPResponse(url string, resp *http.Response) (bool, error) {
	contentType := resp.Header.Get("Content-Type")
	if ok, reason := c.ShouldCacheHeaders(resp.StatusCode, contentType, resp.ContentLength); !ok {
		c.reject(url, reason)
		return false, nil
	}

	cached, err := FromHTTPLimited(resp, c.policy.MaxSizeFor(contentType))
	if err != nil {
		return false, err
	}
	if cached == nil {
		c.reject(url, "too_large")
		return false, nil
	}
	return c.CacheResponse(url, cached)
}

// CacheResponse stores resp under url if the policy allows it.
// It reports whether the response was stored.
func (c *ProxyCache) CacheResponse(url string, resp *Response) (bool, error) {
	if ok, reason := c.ShouldCache(resp); !ok {
		c.reject(url, reason)
		return false, nil
	}

	data, err := Serialize(resp)
	if err != nil {
		return false, fmt.Errorf("failed to serialize response: %w", err)
	}

	ttl := c.policy.TTLFor(resp.ContentType)
	item := cache.NewItem(GenerateKey(url)).Set(data).ExpiresAt(c.now().Add(ttl))
	if err := c.adapter.Save(item); err != nil {
		if errors.Is(err, cache.ErrInvalidArgument) {
			logrus.Warnf("Not caching %s: %v", url, err)
			return false, nil
		}
		return false, fmt.Errorf("failed to cache response for %s: %w", url, err)
	}

	logrus.Debugf("Cached %s for %s", url, ttl)
	return true, nil
}

// GetCachedResponse returns the cached response of url, or nil on a miss
func (c *ProxyCache) GetCachedResponse(url string) (*Response, error) {
	key := GenerateKey(url)

	item, err := c.adapter.GetItem(key)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidArgument) {
			logrus.Warnf("Cache lookup skipped for %s: %v", url, err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached response for %s: %w", url, err)
	}
	if !item.IsHit() {
		return nil, nil
	}

	// Adapters evict on read already; this also covers adapters that return
	// hits without checking the clock.
	if item.IsExpiredAt(c.now()) {
		c.drop(key)
		return nil, nil
	}

	resp, err := Deserialize(item.Get())
	if err != nil {
		logrus.Warnf("Dropping undecodable cache entry for %s: %v", url, err)
		c.drop(key)
		return nil, nil
	}

	logrus.Debugf("Cache hit for %s", url)
	return resp, nil
}

func (c *ProxyCache) drop(key string) {
	if err := c.adapter.DeleteItem(key); err != nil {
		logrus.Errorf("Failed to delete cache entry %s: %v", key, err)
	}
}

// Delete removes the cached response of url. It reports false when the key
// could not be used.
func (c *ProxyCache) Delete(url string) (bool, error) {
	if err := c.adapter.DeleteItem(GenerateKey(url)); err != nil {
		if errors.Is(err, cache.ErrInvalidArgument) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Has reports whether a live response is cached for url
func (c *ProxyCache) Has(url string) bool {
	has, err := c.adapter.HasItem(GenerateKey(url))
	if err != nil {
		logrus.Warnf("Cache check failed for %s: %v", url, err)
		return false
	}
	return has
}

// Clear removes every cached response of the adapter's namespace
func (c *ProxyCache) Clear() error {
	return c.adapter.Clear()
}

// ClearPattern removes the entries whose key starts with prefix
func (c *ProxyCache) ClearPattern(prefix string) (bool, error) {
	return c.adapter.ClearPattern(prefix)
}

// Stats returns the adapter statistics
func (c *ProxyCache) Stats() (cache.Stats, error) {
	return c.adapter.Stats()
}
