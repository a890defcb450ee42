package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Release is the deployment manifest the gateway watches for new shell
// versions. A change of Version triggers an install of a fresh cache
// generation; Precache, when present, replaces the configured precache list
// for that generation.
type Release struct {
	Version  string   `koanf:"version"`
	Precache []string `koanf:"precache"`
}

// LoadRelease parses a release manifest from disk. YAML, JSON, and TOML are
// supported, selected by file extension.
func LoadRelease(path string) (Release, error) {
	if strings.TrimSpace(path) == "" {
		return Release{}, fmt.Errorf("config: release file path required")
	}
	if _, err := os.Stat(path); err != nil {
		return Release{}, fmt.Errorf("config: stat release file %s: %w", path, err)
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserForPath(path)); err != nil {
		return Release{}, fmt.Errorf("config: load release file %s: %w", path, err)
	}
	var release Release
	if err := k.Unmarshal("", &release); err != nil {
		return Release{}, fmt.Errorf("config: unmarshal release file %s: %w", path, err)
	}
	if strings.TrimSpace(release.Version) == "" {
		return Release{}, fmt.Errorf("config: release file %s missing version", path)
	}
	for _, entry := range release.Precache {
		if !strings.HasPrefix(entry, "/") {
			return Release{}, fmt.Errorf("config: release precache path %q must be absolute", entry)
		}
	}
	return release, nil
}
