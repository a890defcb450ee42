package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// versionDocument is the deployment marker the origin publishes. Anything
// beyond the version field is ignored.
type versionDocument struct {
	Version string `json:"version"`
}

// Poller periodically asks the origin which shell version it is serving and
// installs any version the coordinator has not seen yet. This is the
// proactive half of update detection; the release-file watcher is the
// reactive half.
type Poller struct {
	coordinator *Coordinator
	client      *http.Client
	target      string
	interval    time.Duration
	logger      *slog.Logger
}

// PollerConfig wires the poller.
type PollerConfig struct {
	Coordinator *Coordinator
	Client      *http.Client
	OriginURL   string
	VersionPath string
	Interval    time.Duration
	Logger      *slog.Logger
}

// NewPoller validates the configuration and builds a stopped poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("lifecycle: poller needs a coordinator")
	}
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("lifecycle: origin url %q is not absolute", cfg.OriginURL)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		coordinator: cfg.Coordinator,
		client:      client,
		target:      origin.JoinPath(cfg.VersionPath).String(),
		interval:    interval,
		logger:      logger.With(slog.String("agent", "update-poller")),
	}, nil
}

// Run polls until the context is cancelled. Poll failures are logged and the
// cadence continues; an unreachable origin is the normal offline case, not a
// reason to stop watching for updates.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Debug("version poll failed", slog.Any("error", err))
			}
		}
	}
}

// Poll fetches the version document once and installs the version if it is
// new to the coordinator.
func (p *Poller) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("version endpoint returned %d", resp.StatusCode)
	}
	var doc versionDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode version document: %w", err)
	}
	if doc.Version == "" {
		return fmt.Errorf("version document missing version")
	}
	if p.coordinator.Known(doc.Version) {
		return nil
	}

	p.logger.Info("new shell version published", slog.String("version", doc.Version))
	return p.coordinator.Install(ctx, doc.Version)
}
