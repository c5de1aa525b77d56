package proxy

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// getCachedResponse returns a cached HTTP response if available
func (s *Server) getCachedResponse(requ *http.Request) *http.Response {
	targetURL := getTargetURL(requ)

	cached, err := s.cache.GetCachedResponse(targetURL)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", targetURL, err)
		return nil
	}
	if cached == nil {
		logrus.Debugf("No cached data found for %s", targetURL)
		return nil
	}

	resp := cached.HTTP(requ)
	resp.Header.Set("X-Cache", "HIT")
	return resp
}

// shouldBeCached determines if a request takes part in caching based on rules.
// Keys only depend on the URL, so only GET requests are ever cached.
func (s *Server) shouldBeCached(requ *http.Request) bool {
	if requ == nil || requ.Method != http.MethodGet {
		return false
	}

	targetURL := getTargetURL(requ)
	matched := false
	for _, rule := range s.rules {
		if rule.Match(targetURL, requ.Method) {
			matched = true
			break
		}
	}

	if s.config.Rules.Mode == "whitelist" {
		return matched
	}
	return !matched
}

// cacheResponse offers a response to the cache
func (s *Server) cacheResponse(requ *http.Request, resp *http.Response) {
	targetURL := getTargetURL(requ)

	stored, err := s.cache.CacheHTTPResponse(targetURL, resp)
	if err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", targetURL, err)
		return
	}
	if stored {
		logrus.Debugf("Cached response for %s", targetURL)
	}
}
