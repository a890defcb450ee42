package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every server-level option for the gateway.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Origin        OriginConfig        `koanf:"origin"`
	Cache         CacheConfig         `koanf:"cache"`
	Shell         ShellConfig         `koanf:"shell"`
	Update        UpdateConfig        `koanf:"update"`
	Fetch         FetchConfig         `koanf:"fetch"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Popularity    PopularityConfig    `koanf:"popularity"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OriginConfig points the gateway at the single-page application's origin
// server. Every interception, precache fetch, and version poll targets it.
type OriginConfig struct {
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// Timeout returns the origin fetch timeout as a duration.
func (o OriginConfig) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// CacheConfig selects and tunes the response store backend. Prefix is the
// application's cache-name prefix; every generation namespace starts with it,
// which is what scopes activation-time eviction.
type CacheConfig struct {
	Backend    string            `koanf:"backend"`
	Prefix     string            `koanf:"prefix"`
	TTLSeconds int               `koanf:"ttlSeconds"`
	Valkey     ValkeyCacheConfig `koanf:"valkey"`
}

type ValkeyCacheConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// ShellConfig describes the application shell: the deployment version that
// names the cache generation, the precache list fetched at install time, and
// the offline fallback document.
type ShellConfig struct {
	Version         string   `koanf:"version"`
	Precache        []string `koanf:"precache"`
	OfflinePath     string   `koanf:"offlinePath"`
	OfflineTemplate string   `koanf:"offlineTemplate"`
	ReleaseFile     string   `koanf:"releaseFile"`
	SiteName        string   `koanf:"siteName"`
}

// UpdateConfig tunes the proactive version poller.
type UpdateConfig struct {
	PollSeconds int    `koanf:"pollSeconds"`
	VersionPath string `koanf:"versionPath"`
}

// PollInterval returns the poll cadence as a duration.
func (u UpdateConfig) PollInterval() time.Duration {
	if u.PollSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(u.PollSeconds) * time.Second
}

// FetchConfig carries interception policy. Bypass lists CEL expressions over
// the request; any expression evaluating true exempts the request from
// interception entirely (straight proxy, no cache reads or writes).
type FetchConfig struct {
	Bypass []string `koanf:"bypass"`
}

// NotificationsConfig supplies the defaults substituted into push payloads
// and the presentation fields attached to every notification.
type NotificationsConfig struct {
	DefaultTitle string `koanf:"defaultTitle"`
	DefaultBody  string `koanf:"defaultBody"`
	DefaultURL   string `koanf:"defaultURL"`
	Icon         string `koanf:"icon"`
	Badge        string `koanf:"badge"`
	Tag          string `koanf:"tag"`
}

// PopularityConfig exposes the counter tuning values. They are cosmetic
// product constants; the defaults reproduce the historical output exactly.
type PopularityConfig struct {
	MinBase   int    `koanf:"minBase"`
	MaxBase   int    `koanf:"maxBase"`
	GrowthMin int    `koanf:"growthMin"`
	GrowthMax int    `koanf:"growthMax"`
	Epoch     string `koanf:"epoch"`
}

// DefaultConfig returns the baseline configuration applied before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ListenConfig{Address: "0.0.0.0", Port: 8080},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
		Origin: OriginConfig{TimeoutSeconds: 30},
		Cache: CacheConfig{
			Backend:    "memory",
			Prefix:     "healthpages",
			TTLSeconds: 0,
		},
		Shell: ShellConfig{
			Version: "v2",
			Precache: []string{
				"/",
				"/offline.html",
				"/manifest.json",
				"/icon-192.png",
				"/icon-512.png",
			},
			OfflinePath: "/offline.html",
			SiteName:    "Healthpages",
		},
		Update: UpdateConfig{PollSeconds: 20, VersionPath: "/version.json"},
		Notifications: NotificationsConfig{
			DefaultTitle: "New update",
			DefaultBody:  "",
			DefaultURL:   "/",
			Icon:         "/icon-192.png",
			Badge:        "/icon-192.png",
			Tag:          "new-listing",
		},
		Popularity: PopularityConfig{
			MinBase:   2056,
			MaxBase:   9999,
			GrowthMin: 2,
			GrowthMax: 10,
			Epoch:     "2024-01-01",
		},
	}
}

// Validate rejects configurations the runtime cannot act on.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Origin.URL) == "" {
		return errors.New("config: origin url required")
	}
	parsed, err := url.Parse(c.Origin.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: origin url %q is not an absolute URL", c.Origin.URL)
	}
	if strings.TrimSpace(c.Cache.Prefix) == "" {
		return errors.New("config: cache prefix required")
	}
	if strings.Contains(c.Cache.Prefix, ":") {
		return fmt.Errorf("config: cache prefix %q must not contain ':'", c.Cache.Prefix)
	}
	if strings.TrimSpace(c.Shell.Version) == "" {
		return errors.New("config: shell version required")
	}
	if len(c.Shell.Precache) == 0 {
		return errors.New("config: shell precache list required")
	}
	for _, path := range c.Shell.Precache {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("config: precache path %q must be absolute", path)
		}
	}
	if !strings.HasPrefix(c.Shell.OfflinePath, "/") {
		return fmt.Errorf("config: offline path %q must be absolute", c.Shell.OfflinePath)
	}
	if c.Update.PollSeconds < 0 {
		return fmt.Errorf("config: update poll seconds %d must not be negative", c.Update.PollSeconds)
	}
	if c.Popularity.MinBase >= c.Popularity.MaxBase {
		return fmt.Errorf("config: popularity base range [%d, %d) is empty", c.Popularity.MinBase, c.Popularity.MaxBase)
	}
	if c.Popularity.GrowthMin >= c.Popularity.GrowthMax {
		return fmt.Errorf("config: popularity growth range [%d, %d) is empty", c.Popularity.GrowthMin, c.Popularity.GrowthMax)
	}
	if _, err := time.Parse("2006-01-02", c.Popularity.Epoch); err != nil {
		return fmt.Errorf("config: popularity epoch %q: %w", c.Popularity.Epoch, err)
	}
	return nil
}
