// Package fetcher intercepts page traffic network-first: the origin is always
// tried live, successful documents are cached into the current generation,
// and only transport failure falls back to cache and then to the offline
// page. Interception is GET-only; everything else passes straight through.
package fetcher

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/healthpages/shellgate/internal/expr"
	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/runtime/cache"
	"github.com/healthpages/shellgate/internal/runtime/lifecycle"
	"github.com/healthpages/shellgate/internal/templates"
)

// Agent is the interception handler. One instance serves all requests.
type Agent struct {
	origin      *url.URL
	client      *http.Client
	store       cache.Store
	lifecycle   *lifecycle.Coordinator
	metrics     *metrics.Recorder
	logger      *slog.Logger
	offline     *templates.OfflinePage
	offlinePath string
	siteName    string
	bypass      []expr.Program
	fallbackTTL time.Duration
}

// Config wires the agent's collaborators.
type Config struct {
	OriginURL   string
	Client      *http.Client
	Store       cache.Store
	Lifecycle   *lifecycle.Coordinator
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
	Offline     *templates.OfflinePage
	OfflinePath string
	SiteName    string
	Bypass      []expr.Program
	FallbackTTL time.Duration
}

// NewAgent validates the configuration and builds the handler.
func NewAgent(cfg Config) (*Agent, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("fetcher: origin url %q is not absolute", cfg.OriginURL)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("fetcher: store is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("fetcher: lifecycle coordinator is required")
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	offline := cfg.Offline
	if offline == nil {
		offline, err = templates.NewOfflinePage("")
		if err != nil {
			return nil, err
		}
	}
	return &Agent{
		origin:      origin,
		client:      client,
		store:       cfg.Store,
		lifecycle:   cfg.Lifecycle,
		metrics:     cfg.Metrics,
		logger:      logger.With(slog.String("agent", "fetcher")),
		offline:     offline,
		offlinePath: cfg.OfflinePath,
		siteName:    cfg.SiteName,
		bypass:      cfg.Bypass,
		fallbackTTL: cfg.FallbackTTL,
	}, nil
}

// ServeHTTP dispatches one intercepted request.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodGet {
		a.passthrough(w, r, metrics.FetchPassthrough, start)
		return
	}
	if a.bypassed(r) {
		a.passthrough(w, r, metrics.FetchBypass, start)
		return
	}

	target := a.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("origin unreachable", slog.String("path", r.URL.Path), slog.Any("error", err))
		a.serveOffline(w, r, start)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.serveOffline(w, r, start)
		return
	}

	// Only successes enter the cache. Origin errors surface as-is: a 404 is
	// an answer, not an outage.
	if resp.StatusCode == http.StatusOK {
		a.maybeStore(r, resp, body)
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
	a.metrics.ObserveFetch(metrics.FetchNetwork, resp.StatusCode, time.Since(start))
}

// maybeStore writes a successful response into the current generation unless
// the origin forbade caching or no generation is active yet.
func (a *Agent) maybeStore(r *http.Request, resp *http.Response, body []byte) {
	directive := cache.ParseCacheControl(resp.Header.Get("Cache-Control"))
	if directive.Uncacheable() {
		return
	}
	current, ok := a.lifecycle.Current()
	if !ok {
		return
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	entry := cache.Entry{
		Status:   resp.StatusCode,
		Headers:  headers,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	if ttl := directive.FreshnessTTL(a.fallbackTTL); ttl > 0 {
		entry.ExpiresAt = entry.StoredAt.Add(ttl)
	}

	key := cache.Key(current.CacheName, a.describe(r))
	opStart := time.Now()
	if err := a.store.Store(r.Context(), key, entry); err != nil {
		a.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheError, time.Since(opStart))
		a.logger.Warn("cache store failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		return
	}
	a.metrics.ObserveCache(metrics.CacheOperationStore, metrics.CacheStored, time.Since(opStart))
}

// serveOffline answers a request the origin could not: cached copy first,
// precached offline page second, the built-in offline document last.
func (a *Agent) serveOffline(w http.ResponseWriter, r *http.Request, start time.Time) {
	current, ok := a.lifecycle.Current()
	if ok {
		opStart := time.Now()
		entry, found, err := a.store.Lookup(r.Context(), cache.Key(current.CacheName, a.describe(r)))
		switch {
		case err != nil:
			a.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheError, time.Since(opStart))
		case found && !entry.Expired(time.Now()):
			a.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheHit, time.Since(opStart))
			a.writeEntry(w, entry)
			a.metrics.ObserveFetch(metrics.FetchCache, entry.Status, time.Since(start))
			return
		default:
			a.metrics.ObserveCache(metrics.CacheOperationLookup, metrics.CacheMiss, time.Since(opStart))
		}

		if a.offlinePath != "" {
			offlineKey := cache.Key(current.CacheName, cache.RequestDescriptor{Method: http.MethodGet, URL: a.offlinePath})
			if entry, found, err := a.store.Lookup(r.Context(), offlineKey); err == nil && found {
				a.writeEntry(w, entry)
				a.metrics.ObserveFetch(metrics.FetchOffline, entry.Status, time.Since(start))
				return
			}
		}
	}

	page, err := a.offline.Render(templates.OfflineData{SiteName: a.siteName, Path: r.URL.Path})
	if err != nil {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		a.metrics.ObserveFetch(metrics.FetchOffline, http.StatusServiceUnavailable, time.Since(start))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write(page)
	a.metrics.ObserveFetch(metrics.FetchOffline, http.StatusServiceUnavailable, time.Since(start))
}

// passthrough proxies the request untouched, any method, no cache
// interaction at all.
func (a *Agent) passthrough(w http.ResponseWriter, r *http.Request, outcome metrics.FetchOutcome, start time.Time) {
	target := a.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := a.client.Do(req)
	if err != nil {
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		a.metrics.ObserveFetch(outcome, http.StatusBadGateway, time.Since(start))
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	a.metrics.ObserveFetch(outcome, resp.StatusCode, time.Since(start))
}

// bypassed reports whether any bypass expression matches. Evaluation errors
// count as no match: a broken expression must not turn interception off.
func (a *Agent) bypassed(r *http.Request) bool {
	if len(a.bypass) == 0 {
		return false
	}
	vars := expr.RequestActivation(r)
	for _, program := range a.bypass {
		matched, err := program.EvalBool(vars)
		if err != nil {
			a.logger.Warn("bypass expression failed",
				slog.String("expression", program.Source()), slog.Any("error", err))
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func (a *Agent) describe(r *http.Request) cache.RequestDescriptor {
	return cache.RequestDescriptor{Method: r.Method, URL: r.URL.RequestURI()}
}

func (a *Agent) writeEntry(w http.ResponseWriter, entry cache.Entry) {
	for name, value := range entry.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

// hopByHop lists connection-scoped headers that never cross the proxy.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
