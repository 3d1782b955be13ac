package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "https://www.zet.hr/gtfs-scheduled/latest", cfg.Feed.StaticURL)
	assert.Equal(t, "gtfs-scheduled", cfg.Feed.FeedPathSegment)
	assert.Len(t, cfg.Feed.ListingURLs, 2)
	assert.Equal(t, 6, cfg.Feed.StaticRefreshHours)
	assert.Equal(t, 60, cfg.Realtime.IntervalSeconds)
	assert.Equal(t, 300, cfg.Realtime.MaxStaleSeconds)
	assert.Equal(t, 30, cfg.Defaults.WindowMinutes)
	assert.Equal(t, 50, cfg.Defaults.NearbyRadiusMeters)
	assert.Equal(t, "data/watches.json", cfg.Watches.Path)
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  env: production
feed:
  staticURL: https://feeds.example.com/gtfs/latest
  dataDir: /var/lib/transit
realtime:
  intervalSeconds: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, "https://feeds.example.com/gtfs/latest", cfg.Feed.StaticURL)
	assert.Equal(t, "/var/lib/transit", cfg.Feed.DataDir)
	assert.Equal(t, 30, cfg.Realtime.IntervalSeconds)

	// Untouched sections keep their defaults.
	assert.Equal(t, 6, cfg.Feed.StaticRefreshHours)
	assert.Equal(t, 300, cfg.Realtime.MaxStaleSeconds)
	assert.Equal(t, "/var/lib/transit/watches.json", cfg.Watches.Path)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
feed:
  staticURL: not-a-url
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [broken")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}
