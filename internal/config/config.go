package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ardhilink/plotsync/internal/geo"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	Source SourceConfig
	Region RegionConfig
	Render RenderConfig
	Sync   SyncConfig
	CORS   CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// SourceConfig holds remote land-registry source configuration.
// An empty BaseURL selects the built-in in-memory source, which is how the
// server runs without a live registry (local development, demos).
type SourceConfig struct {
	BaseURL      string
	Timeout      time.Duration
	HealthTTL    time.Duration
	RetryMax     int
	RetryBackoff time.Duration
}

// RegionConfig holds the operating region bounding box (lon/lat, WGS84).
// Coordinates outside this box fail geometry validation.
type RegionConfig struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// Bounds returns the region as a geo.Region.
func (r RegionConfig) Bounds() geo.Region {
	return geo.Region{MinLng: r.MinLng, MinLat: r.MinLat, MaxLng: r.MaxLng, MaxLat: r.MaxLat}
}

// RenderConfig holds render derivation configuration.
type RenderConfig struct {
	LabelMinZoom float64
}

// SyncConfig holds periodic refresh configuration.
type SyncConfig struct {
	RefreshInterval time.Duration
	AutoRefresh     bool
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for
// development. Default region is the Dar es Salaam planning area.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("SOURCE_BASE_URL", "")
	v.SetDefault("SOURCE_TIMEOUT", "10s")
	v.SetDefault("SOURCE_HEALTH_TTL", "30s")
	v.SetDefault("SOURCE_RETRY_MAX", 3)
	v.SetDefault("SOURCE_RETRY_BACKOFF", "2s")
	v.SetDefault("REGION_MIN_LNG", 38.9)
	v.SetDefault("REGION_MIN_LAT", -7.2)
	v.SetDefault("REGION_MAX_LNG", 39.6)
	v.SetDefault("REGION_MAX_LAT", -6.4)
	v.SetDefault("RENDER_LABEL_MIN_ZOOM", 15.0)
	v.SetDefault("SYNC_REFRESH_INTERVAL", "60s")
	v.SetDefault("SYNC_AUTO_REFRESH", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Source: SourceConfig{
			BaseURL:      v.GetString("SOURCE_BASE_URL"),
			Timeout:      v.GetDuration("SOURCE_TIMEOUT"),
			HealthTTL:    v.GetDuration("SOURCE_HEALTH_TTL"),
			RetryMax:     v.GetInt("SOURCE_RETRY_MAX"),
			RetryBackoff: v.GetDuration("SOURCE_RETRY_BACKOFF"),
		},
		Region: RegionConfig{
			MinLng: v.GetFloat64("REGION_MIN_LNG"),
			MinLat: v.GetFloat64("REGION_MIN_LAT"),
			MaxLng: v.GetFloat64("REGION_MAX_LNG"),
			MaxLat: v.GetFloat64("REGION_MAX_LAT"),
		},
		Render: RenderConfig{
			LabelMinZoom: v.GetFloat64("RENDER_LABEL_MIN_ZOOM"),
		},
		Sync: SyncConfig{
			RefreshInterval: v.GetDuration("SYNC_REFRESH_INTERVAL"),
			AutoRefresh:     v.GetBool("SYNC_AUTO_REFRESH"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Source.Timeout <= 0 {
		return fmt.Errorf("SOURCE_TIMEOUT must be positive")
	}
	if c.Source.HealthTTL <= 0 {
		return fmt.Errorf("SOURCE_HEALTH_TTL must be positive")
	}
	if c.Source.RetryMax < 1 {
		return fmt.Errorf("SOURCE_RETRY_MAX must be at least 1")
	}
	if c.Source.RetryBackoff <= 0 {
		return fmt.Errorf("SOURCE_RETRY_BACKOFF must be positive")
	}

	if c.Region.MinLng >= c.Region.MaxLng {
		return fmt.Errorf("REGION_MIN_LNG must be less than REGION_MAX_LNG")
	}
	if c.Region.MinLat >= c.Region.MaxLat {
		return fmt.Errorf("REGION_MIN_LAT must be less than REGION_MAX_LAT")
	}
	if c.Region.MinLng < -180 || c.Region.MaxLng > 180 {
		return fmt.Errorf("region longitude bounds must be within [-180, 180]")
	}
	if c.Region.MinLat < -90 || c.Region.MaxLat > 90 {
		return fmt.Errorf("region latitude bounds must be within [-90, 90]")
	}

	if c.Render.LabelMinZoom < 0 {
		return fmt.Errorf("RENDER_LABEL_MIN_ZOOM must be non-negative")
	}

	if c.Sync.RefreshInterval <= 0 {
		return fmt.Errorf("SYNC_REFRESH_INTERVAL must be positive")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
