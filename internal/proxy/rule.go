package proxy

import (
	"strings"

	"github.com/iTrooz/phoxy/internal/config"
)

// Rule interface for matching requests against caching rules
type Rule interface {
	Match(targetURL, method string) bool
}

// ConfigRule implements Rule interface for config-based rules
type ConfigRule struct {
	config.CacheRule
}

// Match checks if a request matches this rule. A rule without methods matches any method.
func (r *ConfigRule) Match(targetURL, method string) bool {
	if !strings.HasPrefix(targetURL, r.BaseURI) {
		return false
	}

	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
