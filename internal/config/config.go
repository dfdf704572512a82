// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Formats   FormatsConfig   `mapstructure:"formats"`
	Transform TransformConfig `mapstructure:"transform"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadMB     int           `mapstructure:"max_upload_mb"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	Parallel  int         `mapstructure:"parallel"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// PipelineConfig holds the preview pipeline defaults.
type PipelineConfig struct {
	ChunkSize          int           `mapstructure:"chunk_size"`
	MaxMemoryMB        int           `mapstructure:"max_memory_mb"`
	MaxPreviewFeatures int           `mapstructure:"max_preview_features"`
	StreamingThreshold int64         `mapstructure:"streaming_threshold"` // bytes
	ChunkTTL           time.Duration `mapstructure:"chunk_ttl"`
	SmartSampling      bool          `mapstructure:"smart_sampling"`
	EnableCaching      bool          `mapstructure:"enable_caching"`
	MemoryEstimator    string        `mapstructure:"memory_estimator"` // heap, count
	FeatureCost        int           `mapstructure:"feature_cost"`     // bytes per feature
	DefaultTarget      string        `mapstructure:"default_target"`
	SimplifyTolerance  float64       `mapstructure:"simplify_tolerance"`
}

// FormatsConfig holds format reader settings.
type FormatsConfig struct {
	TempDir       string `mapstructure:"temp_dir"`       // GeoPackage scratch files
	OSMProcs      int    `mapstructure:"osm_procs"`      // OSM PBF decoder goroutines
	CurveSegments int    `mapstructure:"curve_segments"` // Segments of a full DXF circle
}

// TransformConfig holds coordinate transformation settings.
type TransformConfig struct {
	CacheLifetime time.Duration `mapstructure:"cache_lifetime"`
}

// CacheConfig holds preview cache settings.
type CacheConfig struct {
	PreviewTTL time.Duration `mapstructure:"preview_ttl"`
}

// SyncConfig holds storage synchronization settings.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables periodic sync
	Cooldown time.Duration `mapstructure:"cooldown"` // Minimum gap between manual syncs
}

// WatcherConfig holds file watcher settings.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS settings for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 60*time.Second)
	viper.SetDefault("server.write_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_upload_mb", 256)
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.parallel", 4)
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Pipeline defaults
	viper.SetDefault("pipeline.chunk_size", 1000)
	viper.SetDefault("pipeline.max_memory_mb", 512)
	viper.SetDefault("pipeline.max_preview_features", 5000)
	viper.SetDefault("pipeline.streaming_threshold", 50<<20)
	viper.SetDefault("pipeline.chunk_ttl", 30*time.Second)
	viper.SetDefault("pipeline.smart_sampling", true)
	viper.SetDefault("pipeline.enable_caching", true)
	viper.SetDefault("pipeline.memory_estimator", "heap")
	viper.SetDefault("pipeline.feature_cost", 1024)
	viper.SetDefault("pipeline.default_target", "EPSG:4326")
	viper.SetDefault("pipeline.simplify_tolerance", 0.0)

	// Format defaults
	viper.SetDefault("formats.temp_dir", "")
	viper.SetDefault("formats.osm_procs", 1)
	viper.SetDefault("formats.curve_segments", 64)

	viper.SetDefault("transform.cache_lifetime", 10*time.Minute)
	viper.SetDefault("cache.preview_ttl", 5*time.Minute)

	viper.SetDefault("sync.interval", 0)
	viper.SetDefault("sync.cooldown", 30*time.Second)

	viper.SetDefault("watcher.enabled", true)
	viper.SetDefault("watcher.debounce", 500*time.Millisecond)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("GEOPREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/geopreview")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("invalid max upload size: %d MB", c.Server.MaxUploadMB)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	return nil
}

// Validate validates the pipeline defaults.
func (p *PipelineConfig) Validate() error {
	if p.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", p.ChunkSize)
	}
	if p.MaxMemoryMB < 1 {
		return fmt.Errorf("invalid memory ceiling: %d MB", p.MaxMemoryMB)
	}
	if p.MaxPreviewFeatures < 1 {
		return fmt.Errorf("invalid preview feature limit: %d", p.MaxPreviewFeatures)
	}
	if p.SimplifyTolerance < 0 {
		return fmt.Errorf("invalid simplify tolerance: %g", p.SimplifyTolerance)
	}
	switch p.MemoryEstimator {
	case "heap", "count":
	default:
		return fmt.Errorf("unknown memory estimator: %s", p.MemoryEstimator)
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
