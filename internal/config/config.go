// Package config loads and validates the service configuration from a YAML
// file, filling in the defaults the original deployment runs with.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Port int    `yaml:"port" validate:"gt=0"`
	Env  string `yaml:"env"`
}

// FeedConfig contains the static feed endpoints and cache policy.
type FeedConfig struct {
	StaticURL               string   `yaml:"staticURL" validate:"required,url"`
	ListingURLs             []string `yaml:"listingURLs" validate:"dive,url"`
	FeedPathSegment         string   `yaml:"feedPathSegment"`
	DataDir                 string   `yaml:"dataDir" validate:"required"`
	StaticRefreshHours      int      `yaml:"staticRefreshHours" validate:"gte=0"`
	MaxCachedFeeds          int      `yaml:"maxCachedFeeds" validate:"gte=0"`
	MaxListingCandidates    int      `yaml:"maxListingCandidates" validate:"gte=0"`
	MaxPreviousVersionTries int      `yaml:"maxPreviousVersionTries" validate:"gte=0"`
}

// RealtimeConfig contains the delta-update feed settings.
type RealtimeConfig struct {
	URL             string `yaml:"url" validate:"omitempty,url"`
	IntervalSeconds int    `yaml:"intervalSeconds" validate:"gte=0"`
	MaxStaleSeconds int    `yaml:"maxStaleSeconds" validate:"gte=0"`
}

// DefaultsConfig contains the fallback query parameters.
type DefaultsConfig struct {
	WindowMinutes      int `yaml:"windowMinutes" validate:"gte=0"`
	NearbyRadiusMeters int `yaml:"nearbyRadiusMeters" validate:"gte=0"`
}

// WatchesConfig locates the persisted watch registry.
type WatchesConfig struct {
	Path string `yaml:"path"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Feed     FeedConfig     `yaml:"feed"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Watches  WatchesConfig  `yaml:"watches"`
}

// Default returns the configuration the service runs with when no config
// file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads, validates and defaults the configuration at path.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4000
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Feed.StaticURL == "" {
		cfg.Feed.StaticURL = "https://www.zet.hr/gtfs-scheduled/latest"
	}
	if len(cfg.Feed.ListingURLs) == 0 {
		cfg.Feed.ListingURLs = []string{
			"https://www.zet.hr/gtfs2",
			"https://www.zet.hr/odredbe/datoteke-u-gtfs-formatu/669",
		}
	}
	if cfg.Feed.FeedPathSegment == "" {
		cfg.Feed.FeedPathSegment = "gtfs-scheduled"
	}
	if cfg.Feed.DataDir == "" {
		cfg.Feed.DataDir = "data"
	}
	if cfg.Feed.StaticRefreshHours == 0 {
		cfg.Feed.StaticRefreshHours = 6
	}
	if cfg.Feed.MaxCachedFeeds == 0 {
		cfg.Feed.MaxCachedFeeds = 8
	}
	if cfg.Feed.MaxListingCandidates == 0 {
		cfg.Feed.MaxListingCandidates = 5
	}
	if cfg.Feed.MaxPreviousVersionTries == 0 {
		cfg.Feed.MaxPreviousVersionTries = 5
	}
	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = "https://www.zet.hr/gtfs-rt-protobuf"
	}
	if cfg.Realtime.IntervalSeconds == 0 {
		cfg.Realtime.IntervalSeconds = 60
	}
	if cfg.Realtime.MaxStaleSeconds == 0 {
		cfg.Realtime.MaxStaleSeconds = 300
	}
	if cfg.Defaults.WindowMinutes == 0 {
		cfg.Defaults.WindowMinutes = 30
	}
	if cfg.Defaults.NearbyRadiusMeters == 0 {
		cfg.Defaults.NearbyRadiusMeters = 50
	}
	if cfg.Watches.Path == "" {
		cfg.Watches.Path = cfg.Feed.DataDir + "/watches.json"
	}
}
