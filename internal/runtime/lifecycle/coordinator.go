// Package lifecycle drives cache generations through install, waiting and
// activation, mirroring how an installed application shell takes over from
// its predecessor without ever serving a half-populated cache.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/healthpages/shellgate/internal/metrics"
	"github.com/healthpages/shellgate/internal/runtime/cache"
	"github.com/healthpages/shellgate/internal/runtime/clients"
)

// ErrNoWaiting is returned when a skip-waiting request arrives with no
// installed generation waiting to take over.
var ErrNoWaiting = errors.New("lifecycle: no waiting generation")

// Phase names a generation's place in the lifecycle.
type Phase string

const (
	// PhaseWaiting marks an installed generation parked behind the current one.
	PhaseWaiting Phase = "waiting"
	// PhaseActive marks the generation serving lookups.
	PhaseActive Phase = "active"
)

// Generation is one installed cache namespace. CacheName is the store
// namespace, prefix and version joined the way cache storage names its
// buckets.
type Generation struct {
	Version     string
	CacheName   string
	Phase       Phase
	InstalledAt time.Time
}

// State is a point-in-time view of the lifecycle.
type State struct {
	Current *Generation
	Waiting *Generation
}

// Coordinator owns generation state. Installs, activations and skip-waiting
// requests are serialized under mu; the active generation is published
// through an atomic pointer so fetch interception reads it without ever
// contending with install-time network I/O.
type Coordinator struct {
	origin   *url.URL
	client   *http.Client
	store    cache.Store
	registry *clients.Registry
	metrics  *metrics.Recorder
	logger   *slog.Logger

	prefix   string
	precache []string

	current atomic.Pointer[Generation]

	mu      sync.Mutex
	waiting *Generation
}

// Config wires the coordinator's collaborators.
type Config struct {
	OriginURL string
	Client    *http.Client
	Store     cache.Store
	Registry  *clients.Registry
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Prefix    string
	Precache  []string
}

// NewCoordinator validates the configuration and builds a coordinator with
// no installed generation.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("lifecycle: origin url %q is not absolute", cfg.OriginURL)
	}
	if cfg.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("lifecycle: registry is required")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		return nil, errors.New("lifecycle: cache prefix is required")
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		origin:   origin,
		client:   client,
		store:    cfg.Store,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		logger:   logger.With(slog.String("agent", "lifecycle")),
		prefix:   cfg.Prefix,
		precache: cfg.Precache,
	}, nil
}

// CacheName returns the namespace a version's entries live under.
func (c *Coordinator) CacheName(version string) string {
	return c.prefix + "-" + version
}

// Install precaches a new generation. The namespace is populated atomically
// from the reader's point of view: any precache failure removes everything
// already written, so lookups never observe a partial generation. A
// successful install either activates immediately (nothing is controlled
// yet) or parks the generation as waiting and announces the update.
func (c *Coordinator) Install(ctx context.Context, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has(version) {
		return nil
	}

	gen := &Generation{
		Version:     version,
		CacheName:   c.CacheName(version),
		InstalledAt: time.Now().UTC(),
	}

	for _, path := range c.precache {
		if err := c.precachePath(ctx, gen.CacheName, path); err != nil {
			if cleanupErr := c.store.DeletePrefix(ctx, cache.GenerationPrefix(gen.CacheName)); cleanupErr != nil {
				c.logger.Error("partial generation cleanup failed",
					slog.String("cache_name", gen.CacheName), slog.Any("error", cleanupErr))
			}
			c.metrics.ObserveInstall(metrics.InstallFailed)
			c.logger.Error("install failed",
				slog.String("version", version), slog.String("path", path), slog.Any("error", err))
			return fmt.Errorf("install %s: precache %s: %w", version, path, err)
		}
	}

	// A newer install replaces any generation still waiting.
	if c.waiting != nil {
		superseded := c.waiting
		c.waiting = nil
		if err := c.store.DeletePrefix(ctx, cache.GenerationPrefix(superseded.CacheName)); err != nil {
			c.logger.Error("superseded generation eviction failed",
				slog.String("cache_name", superseded.CacheName), slog.Any("error", err))
		}
		c.metrics.ObserveInstall(metrics.InstallSuperseded)
		c.logger.Info("waiting generation superseded",
			slog.String("old_version", superseded.Version), slog.String("new_version", version))
	}

	c.metrics.ObserveInstall(metrics.InstallSucceeded)
	c.logger.Info("generation installed",
		slog.String("version", version), slog.Int("precached", len(c.precache)))

	if c.current.Load() == nil || !c.registry.Controlled() {
		return c.activateLocked(ctx, gen)
	}

	gen.Phase = PhaseWaiting
	c.waiting = gen
	c.registry.Broadcast(clients.Event{Kind: clients.EventUpdateAvailable, Version: version})
	return nil
}

// SkipWaiting promotes the waiting generation immediately instead of leaving
// it parked until the controlled clients go away.
func (c *Coordinator) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting == nil {
		return ErrNoWaiting
	}
	gen := c.waiting
	c.waiting = nil
	return c.activateLocked(ctx, gen)
}

// activateLocked makes gen current: every other generation under the prefix
// is evicted wholesale, then all connected clients are claimed. Callers hold
// c.mu.
func (c *Coordinator) activateLocked(ctx context.Context, gen *Generation) error {
	keys, err := c.store.Keys(ctx, c.prefix+"-")
	if err != nil {
		return fmt.Errorf("activate %s: list generations: %w", gen.Version, err)
	}
	evicted := map[string]bool{}
	for _, key := range keys {
		name, _, ok := strings.Cut(key, ":")
		if !ok || name == gen.CacheName || evicted[name] {
			continue
		}
		evicted[name] = true
		start := time.Now()
		if err := c.store.DeletePrefix(ctx, cache.GenerationPrefix(name)); err != nil {
			c.metrics.ObserveCache(metrics.CacheOperationEvict, metrics.CacheError, time.Since(start))
			return fmt.Errorf("activate %s: evict %s: %w", gen.Version, name, err)
		}
		c.metrics.ObserveCache(metrics.CacheOperationEvict, metrics.CacheStored, time.Since(start))
	}

	gen.Phase = PhaseActive
	c.current.Store(gen)
	c.registry.ClaimAll(gen.Version)
	c.logger.Info("generation activated",
		slog.String("version", gen.Version), slog.Int("evicted_generations", len(evicted)))
	return nil
}

// precachePath fetches one shell asset from the origin and stores it under
// the generation. Precached entries carry no TTL; they live until the
// generation is evicted.
func (c *Coordinator) precachePath(ctx context.Context, cacheName, path string) error {
	target := c.origin.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("origin returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
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
	key := cache.Key(cacheName, cache.RequestDescriptor{Method: http.MethodGet, URL: path})
	return c.store.Store(ctx, key, entry)
}

// SetPrecache replaces the asset list used by future installs. Release
// manifests may ship a different shell inventory than the static
// configuration.
func (c *Coordinator) SetPrecache(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(paths) > 0 {
		c.precache = append([]string(nil), paths...)
	}
}

// has reports whether the version is already current or waiting. The caller
// must hold c.mu for the waiting slot.
func (c *Coordinator) has(version string) bool {
	if current := c.current.Load(); current != nil && current.Version == version {
		return true
	}
	if c.waiting != nil && c.waiting.Version == version {
		return true
	}
	return false
}

// Known reports whether the version is already current or waiting.
func (c *Coordinator) Known(version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.has(version)
}

// Current returns the active generation, if any. Lock-free: fetch handlers
// call this on every cache interaction and must never wait behind an
// in-flight install.
func (c *Coordinator) Current() (Generation, bool) {
	gen := c.current.Load()
	if gen == nil {
		return Generation{}, false
	}
	return *gen, true
}

// Waiting returns the parked generation, if any.
func (c *Coordinator) Waiting() (Generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting == nil {
		return Generation{}, false
	}
	return *c.waiting, true
}

// Snapshot returns copies of both slots for status reporting.
func (c *Coordinator) Snapshot() State {
	state := State{}
	if current := c.current.Load(); current != nil {
		gen := *current
		state.Current = &gen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting != nil {
		gen := *c.waiting
		state.Waiting = &gen
	}
	return state
}
