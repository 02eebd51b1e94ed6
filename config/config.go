// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// Default values applied when the environment does not override them.
const (
	DefaultPort             = "8080"
	DefaultAppPrefix        = "evknews"
	DefaultVersionTag       = "v1"
	DefaultFeedPath         = "/news.json"
	DefaultCacheBackend     = "disk"
	DefaultCacheDir         = ".cache/evknews"
	DefaultStateBackend     = "sqlite"
	DefaultSQLitePath       = "data/evknews.db"
	DefaultMongoDatabase    = "evknews"
	DefaultSnapshotMaxBytes = 2_000_000
	DefaultMetricsEndpoint  = "/metrics"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Origin   OriginConfig
	Cache    CacheConfig
	State    StateConfig
	Feed     FeedConfig
	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	MetricsEnabled  bool
	MetricsEndpoint string
	// AdminKey optionally protects the control endpoints. Empty disables
	// authentication.
	AdminKey string
}

// OriginConfig identifies the upstream origin all intercepted requests resolve against.
type OriginConfig struct {
	// URL is the origin base URL, e.g. "https://news.example.com".
	URL string
	// FeedPath is the path of the feed document under the origin.
	FeedPath string
	// ManifestPath optionally points at a YAML precache manifest file.
	// When empty the built-in manifest is used.
	ManifestPath string
}

// CacheConfig holds cache store configuration.
type CacheConfig struct {
	// Backend selects the store implementation: "memory", "disk", or "redis".
	Backend string
	// AppPrefix and VersionTag name the current cache generation pair.
	// VersionTag must be bumped on every release of the precached assets.
	AppPrefix  string
	VersionTag string
	// Dir is the disk backend's base directory.
	Dir string
	// Compress enables brotli compression of disk-cached bodies.
	Compress bool
	// RedisURL is the redis backend's connection URL.
	RedisURL string
}

// StateConfig holds persisted-local-state configuration.
type StateConfig struct {
	// Backend selects the state store: "sqlite", "postgresql", "mongodb",
	// or "memory" (non-durable).
	Backend       string
	SQLitePath    string
	PostgresURL   string
	MongoURL      string
	MongoDatabase string
}

// FeedConfig holds feed synchronization configuration.
type FeedConfig struct {
	// SnapshotMaxBytes is the serialized-snapshot byte ceiling; writes beyond it are skipped.
	SnapshotMaxBytes int
}

// Load reads configuration from .env file and environment.
func Load() (*Config, error) {
	// Load .env file using Viper (optional, won't fail if not found)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if .env file doesn't exist

	viper.SetDefault("EVKNEWS_PORT", DefaultPort)
	viper.SetDefault("EVKNEWS_APP_PREFIX", DefaultAppPrefix)
	viper.SetDefault("EVKNEWS_VERSION_TAG", DefaultVersionTag)
	viper.SetDefault("EVKNEWS_FEED_PATH", DefaultFeedPath)
	viper.SetDefault("EVKNEWS_CACHE_BACKEND", DefaultCacheBackend)
	viper.SetDefault("EVKNEWS_CACHE_DIR", DefaultCacheDir)
	viper.SetDefault("EVKNEWS_CACHE_COMPRESS", true)
	viper.SetDefault("EVKNEWS_STATE_BACKEND", DefaultStateBackend)
	viper.SetDefault("EVKNEWS_SQLITE_PATH", DefaultSQLitePath)
	viper.SetDefault("EVKNEWS_MONGO_DATABASE", DefaultMongoDatabase)
	viper.SetDefault("EVKNEWS_SNAPSHOT_MAX_BYTES", DefaultSnapshotMaxBytes)
	viper.SetDefault("EVKNEWS_METRICS_ENDPOINT", DefaultMetricsEndpoint)
	viper.SetDefault("EVKNEWS_LOG_LEVEL", "info")

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("EVKNEWS_PORT"),
			MetricsEnabled:  viper.GetBool("EVKNEWS_METRICS_ENABLED"),
			MetricsEndpoint: viper.GetString("EVKNEWS_METRICS_ENDPOINT"),
			AdminKey:        viper.GetString("EVKNEWS_ADMIN_KEY"),
		},
		Origin: OriginConfig{
			URL:          viper.GetString("EVKNEWS_ORIGIN_URL"),
			FeedPath:     viper.GetString("EVKNEWS_FEED_PATH"),
			ManifestPath: viper.GetString("EVKNEWS_PRECACHE_MANIFEST"),
		},
		Cache: CacheConfig{
			Backend:    viper.GetString("EVKNEWS_CACHE_BACKEND"),
			AppPrefix:  viper.GetString("EVKNEWS_APP_PREFIX"),
			VersionTag: viper.GetString("EVKNEWS_VERSION_TAG"),
			Dir:        viper.GetString("EVKNEWS_CACHE_DIR"),
			Compress:   viper.GetBool("EVKNEWS_CACHE_COMPRESS"),
			RedisURL:   viper.GetString("EVKNEWS_REDIS_URL"),
		},
		State: StateConfig{
			Backend:       viper.GetString("EVKNEWS_STATE_BACKEND"),
			SQLitePath:    viper.GetString("EVKNEWS_SQLITE_PATH"),
			PostgresURL:   viper.GetString("EVKNEWS_POSTGRES_URL"),
			MongoURL:      viper.GetString("EVKNEWS_MONGO_URL"),
			MongoDatabase: viper.GetString("EVKNEWS_MONGO_DATABASE"),
		},
		Feed: FeedConfig{
			SnapshotMaxBytes: viper.GetInt("EVKNEWS_SNAPSHOT_MAX_BYTES"),
		},
		LogLevel: viper.GetString("EVKNEWS_LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields no component can default for the caller.
func (c *Config) Validate() error {
	if c.Origin.URL == "" {
		return fmt.Errorf("EVKNEWS_ORIGIN_URL is required")
	}
	u, err := url.Parse(c.Origin.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("EVKNEWS_ORIGIN_URL %q is not an absolute URL", c.Origin.URL)
	}
	if c.Cache.VersionTag == "" {
		return fmt.Errorf("EVKNEWS_VERSION_TAG must not be empty")
	}
	if c.Feed.SnapshotMaxBytes <= 0 {
		return fmt.Errorf("EVKNEWS_SNAPSHOT_MAX_BYTES must be positive, got %d", c.Feed.SnapshotMaxBytes)
	}
	return nil
}
