package httpcache

import (
	"mime"
	"strings"
	"time"
)

// Category is a coarse classification of a response driving TTL and size limits
type Category string

const (
	CategoryHTML   Category = "html"
	CategoryCSS    Category = "css"
	CategoryJS     Category = "js"
	CategoryImages Category = "images"
	CategoryFonts  Category = "fonts"
	CategoryJSON   Category = "json"
	CategoryOther  Category = "other"
)

// Categories lists every category, CategoryOther last
var Categories = []Category{
	CategoryHTML, CategoryCSS, CategoryJS, CategoryImages, CategoryFonts, CategoryJSON, CategoryOther,
}

// cacheableTypes are the media types worth caching
var cacheableTypes = map[string]bool{
	"text/html":              true,
	"text/css":               true,
	"application/javascript": true,
	"text/javascript":        true,
	"application/json":       true,
	"image/jpeg":             true,
	"image/png":              true,
	"image/gif":              true,
	"image/webp":             true,
	"image/svg+xml":          true,
	"font/woff":              true,
	"font/woff2":             true,
}

// Policy holds the per-category limits applied by ProxyCache
type Policy struct {
	TTL     map[Category]time.Duration
	MaxSize map[Category]int64
	// InvertCacheable rejects the types of the cacheable table instead of
	// accepting them. Like the normal polarity it matches the media type with
	// parameters stripped, so "text/html; charset=utf-8" counts as listed.
	InvertCacheable bool
}

// DefaultPolicy returns the limits used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		TTL: map[Category]time.Duration{
			CategoryHTML:   30 * time.Minute,
			CategoryCSS:    24 * time.Hour,
			CategoryJS:     24 * time.Hour,
			CategoryImages: 7 * 24 * time.Hour,
			CategoryFonts:  30 * 24 * time.Hour,
			CategoryJSON:   time.Hour,
			CategoryOther:  time.Hour,
		},
		MaxSize: map[Category]int64{
			CategoryHTML:   2 << 20,
			CategoryCSS:    1 << 20,
			CategoryJS:     2 << 20,
			CategoryImages: 5 << 20,
			CategoryFonts:  2 << 20,
			CategoryJSON:   1 << 20,
			CategoryOther:  10 << 20,
		},
	}
}

// mediaType lower-cases a Content-Type and strips its parameters
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// CategoryOf classifies a Content-Type
func CategoryOf(contentType string) Category {
	mt := mediaType(contentType)
	switch {
	case mt == "text/html":
		return CategoryHTML
	case mt == "text/css":
		return CategoryCSS
	case strings.Contains(mt, "javascript"):
		return CategoryJS
	case strings.HasPrefix(mt, "image/"):
		return CategoryImages
	case strings.HasPrefix(mt, "font/"):
		return CategoryFonts
	case mt == "application/json":
		return CategoryJSON
	default:
		return CategoryOther
	}
}

// IsListedContentType reports whether the type is in the cacheable table
func IsListedContentType(contentType string) bool {
	return cacheableTypes[mediaType(contentType)]
}

// IsCacheableContentType decides whether responses of this type may be cached
func (p Policy) IsCacheableContentType(contentType string) bool {
	return IsListedContentType(contentType) != p.InvertCacheable
}

// TTLFor returns the TTL of the content type's category, falling back to CategoryOther
func (p Policy) TTLFor(contentType string) time.Duration {
	if ttl, ok := p.TTL[CategoryOf(contentType)]; ok {
		return ttl
	}
	return p.TTL[CategoryOther]
}

// MaxSizeFor returns the size limit of the content type's category, falling back to CategoryOther
func (p Policy) MaxSizeFor(contentType string) int64 {
	if size, ok := p.MaxSize[CategoryOf(contentType)]; ok {
		return size
	}
	return p.MaxSize[CategoryOther]
}

// merge fills the categories missing from p with the defaults
func (p Policy) merge(defaults Policy) Policy {
	merged := Policy{
		TTL:             make(map[Category]time.Duration, len(Categories)),
		MaxSize:         make(map[Category]int64, len(Categories)),
		InvertCacheable: p.InvertCacheable,
	}
	for c, v := range defaults.TTL {
		merged.TTL[c] = v
	}
	for c, v := range p.TTL {
		merged.TTL[c] = v
	}
	for c, v := range defaults.MaxSize {
		merged.MaxSize[c] = v
	}
	for c, v := range p.MaxSize {
		merged.MaxSize[c] = v
	}
	return merged
}
