package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iTrooz/phoxy/internal/cache"
	"github.com/iTrooz/phoxy/internal/cache/httpcache"
	"github.com/iTrooz/phoxy/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the caching proxy server
type Server struct {
	config *config.Config
	cache  *httpcache.ProxyCache
	rules  []Rule
	proxy  *goproxy.ProxyHttpServer
}

// New creates a proxy server backed by the cache adapter named in cfg
func New(cfg *config.Config) (*Server, error) {
	adapter, err := cache.NewAdapter(cfg.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create cache adapter: %w", err)
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("invalid cache policy: %w", err)
	}

	return NewWithCache(cfg, httpcache.New(adapter, policy))
}

// NewWithCache creates a proxy server storing responses in responseCache
func NewWithCache(cfg *config.Config, responseCache *httpcache.ProxyCache) (*Server, error) {
	s := &Server{
		config: cfg,
		cache:  responseCache,
		proxy:  goproxy.NewProxyHttpServer(),
	}
	for _, rule := range cfg.Rules.Rules {
		s.rules = append(s.rules, &ConfigRule{CacheRule: rule})
	}

	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.NonproxyHandler = s.adminHandler()

	if cfg.Server.HTTPS.Enabled {
		s.proxy.CertStore = newCertStore()
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.onRequest)
	s.proxy.OnResponse().DoFunc(s.onResponse)

	return s, nil
}

// GetProxy returns the underlying goproxy handler
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Cache returns the response cache
func (s *Server) Cache() *httpcache.ProxyCache {
	return s.cache
}

// Start starts the proxy server
func (s *Server) Start() error {
	stats, err := s.cache.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}

	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache adapter: %s (namespace %s, %d items, %s)", stats.Adapter, stats.Namespace, stats.ItemsCount, stats.TotalSizeHuman)
	if stats.Directory != "" {
		logrus.Infof("Cache directory: %s", stats.Directory)
	}
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}

// cacheHit marks a proxy context whose response came from the cache
type cacheHit struct{}

func (s *Server) onRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !s.shouldBeCached(requ) {
		return requ, nil
	}

	resp := s.getCachedResponse(requ)
	if resp == nil {
		return requ, nil
	}

	ctx.UserData = cacheHit{}
	logrus.Infof("Serving from cache: %s", getTargetURL(requ))
	return requ, resp
}

func (s *Server) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		if ctx.Error != nil {
			logrus.Errorf("Upstream request failed for %s: %v", getTargetURL(ctx.Req), ctx.Error)
		}
		return resp
	}
	if _, hit := ctx.UserData.(cacheHit); hit {
		return resp
	}

	resp.Header.Set("X-Cache", "MISS")
	if s.shouldBeCached(ctx.Req) {
		s.cacheResponse(ctx.Req, resp)
	}

	logrus.Infof("Forwarded request: %s %s -> %d", ctx.Req.Method, getTargetURL(ctx.Req), resp.StatusCode)
	return resp
}

// adminHandler serves the requests addressed to the proxy itself
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "This is a proxy server. Does not respond to non-proxy requests.", http.StatusInternalServerError)
	})
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats()
	if err != nil {
		logrus.Errorf("Failed to read cache stats: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		logrus.Errorf("Failed to write cache stats: %v", err)
	}
}

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}
