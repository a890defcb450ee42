package cache

import (
	"strconv"
	"strings"
	"time"
)

// Directive holds the Cache-Control pieces the gateway acts on when deciding
// whether and how long to retain a refreshed response.
type Directive struct {
	MaxAge  *int
	SMaxAge *int
	NoStore bool
	NoCache bool
	Private bool
}

// ParseCacheControl extracts the caching-relevant directives from a
// Cache-Control header value. Unknown directives are ignored.
func ParseCacheControl(header string) Directive {
	var d Directive
	if header == "" {
		return d
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if name, value, found := strings.Cut(part, "="); found {
			seconds, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || seconds < 0 {
				continue
			}
			switch strings.TrimSpace(name) {
			case "max-age":
				d.MaxAge = &seconds
			case "s-maxage":
				d.SMaxAge = &seconds
			}
			continue
		}
		switch part {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		case "private":
			d.Private = true
		}
	}
	return d
}

// Uncacheable reports whether the origin forbids a shared cache from
// retaining the response.
func (d Directive) Uncacheable() bool {
	return d.NoStore || d.NoCache || d.Private
}

// FreshnessTTL derives the retention window for a cached response.
// s-maxage wins over max-age as the shared-cache directive; when neither is
// present the configured fallback applies, and a zero fallback keeps the
// entry until generation eviction.
func (d Directive) FreshnessTTL(fallback time.Duration) time.Duration {
	if d.SMaxAge != nil {
		return time.Duration(*d.SMaxAge) * time.Second
	}
	if d.MaxAge != nil {
		return time.Duration(*d.MaxAge) * time.Second
	}
	return fallback
}
