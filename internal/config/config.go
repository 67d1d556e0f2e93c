package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	// history timezones must resolve on hosts without zoneinfo
	_ "time/tzdata"
)

// AppConfig holds all configuration for the dashboard service
type AppConfig struct {
	Server    ServerSettings    `yaml:"server"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
	Refresh   RefreshSettings   `yaml:"refresh"`
	History   HistorySettings   `yaml:"history"`
	Store     StoreSettings     `yaml:"store"`
	Archive   ArchiveSettings   `yaml:"archive"`
	Snapshot  SnapshotSettings  `yaml:"snapshot"`
	Logging   LoggingConfig     `yaml:"logging"`
	Pools     Pools             `yaml:"pools"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	StaticDir      string        `yaml:"static_dir"`
}

// Addr is the listen address.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TelemetrySettings configures access to ThingSpeak
type TelemetrySettings struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	LatestResults  int           `yaml:"latest_results"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	SeriesCacheTTL time.Duration `yaml:"series_cache_ttl"`
}

// RefreshSettings controls the refresh cycle
type RefreshSettings struct {
	Interval time.Duration `yaml:"interval"`
}

// HistorySettings controls the daily history view
type HistorySettings struct {
	Timezone    string `yaml:"timezone"`
	DefaultDays int    `yaml:"default_days"`
	MaxDays     int    `yaml:"max_days"`
}

// Location loads the configured timezone.
func (h HistorySettings) Location() (*time.Location, error) {
	return time.LoadLocation(h.Timezone)
}

// ClampDays bounds a requested window to [1, MaxDays]; 0 means DefaultDays.
func (h HistorySettings) ClampDays(days int) int {
	if days <= 0 {
		return h.DefaultDays
	}
	if days > h.MaxDays {
		return h.MaxDays
	}
	return days
}

// StoreSettings locates the last-value store
type StoreSettings struct {
	DBPath    string `yaml:"db_path"`
	Namespace string `yaml:"namespace"`
}

// ArchiveSettings controls sample archiving and retention
type ArchiveSettings struct {
	Enabled       *bool         `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	QueueSize     int           `yaml:"queue_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// IsEnabled defaults to true when unset.
func (a ArchiveSettings) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// SnapshotSettings points at the prebuilt last-values document
type SnapshotSettings struct {
	Source string `yaml:"source"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// LoadAppConfig loads configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseAppConfig(yamlData)
}

// ParseAppConfig runs the same pipeline as LoadAppConfig on raw YAML.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8080
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 15 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 60 * time.Second
	}

	if ac.Telemetry.BaseURL == "" {
		ac.Telemetry.BaseURL = "https://api.thingspeak.com"
	}
	if ac.Telemetry.Timeout == 0 {
		ac.Telemetry.Timeout = 10 * time.Second
	}
	if ac.Telemetry.LatestResults == 0 {
		ac.Telemetry.LatestResults = 120
	}
	if ac.Telemetry.MaxRetries == 0 {
		ac.Telemetry.MaxRetries = 3
	}
	if ac.Telemetry.SeriesCacheTTL == 0 {
		ac.Telemetry.SeriesCacheTTL = 5 * time.Minute
	}

	if ac.Refresh.Interval == 0 {
		ac.Refresh.Interval = 5 * time.Minute
	}

	if ac.History.Timezone == "" {
		ac.History.Timezone = "Europe/Berlin"
	}
	if ac.History.DefaultDays == 0 {
		ac.History.DefaultDays = 7
	}
	if ac.History.MaxDays == 0 {
		ac.History.MaxDays = 31
	}

	if ac.Store.DBPath == "" {
		ac.Store.DBPath = "./data/baeder.db"
	}
	if ac.Store.Namespace == "" {
		ac.Store.Namespace = "baeder:last-values:v2"
	}

	if ac.Archive.BatchSize == 0 {
		ac.Archive.BatchSize = 50
	}
	if ac.Archive.FlushPeriod == 0 {
		ac.Archive.FlushPeriod = 30 * time.Second
	}
	if ac.Archive.QueueSize == 0 {
		ac.Archive.QueueSize = 500
	}
	if ac.Archive.RetentionDays == 0 {
		ac.Archive.RetentionDays = ac.History.MaxDays
	}
	if ac.Archive.CleanupPeriod == 0 {
		ac.Archive.CleanupPeriod = 6 * time.Hour
	}

	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	if v := os.Getenv("STORE_DB_PATH"); v != "" {
		ac.Store.DBPath = v
	}
	if v := os.Getenv("SNAPSHOT_SOURCE"); v != "" {
		ac.Snapshot.Source = v
	}
	if v := os.Getenv("THINGSPEAK_BASE_URL"); v != "" {
		ac.Telemetry.BaseURL = v
	}

	// THINGSPEAK_KEY_<channel> fills in read keys without putting them in YAML
	for i := range ac.Pools {
		p := &ac.Pools[i]
		if v := channelKeyFromEnv(p.ChannelID); v != "" {
			p.ReadAPIKey = v
		}
		for j := range p.Tiles {
			t := &p.Tiles[j]
			if t.ChannelID == 0 {
				continue
			}
			if v := channelKeyFromEnv(t.ChannelID); v != "" {
				t.ReadAPIKey = v
			}
		}
	}
	return nil
}

func channelKeyFromEnv(channelID int) string {
	if channelID <= 0 {
		return ""
	}
	return os.Getenv("THINGSPEAK_KEY_" + strconv.Itoa(channelID))
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Telemetry.LatestResults < 1 {
		return fmt.Errorf("telemetry latest_results must be at least 1")
	}
	if ac.Telemetry.MaxRetries < 0 {
		return fmt.Errorf("telemetry max_retries must not be negative")
	}
	if ac.Refresh.Interval < 10*time.Second {
		return fmt.Errorf("refresh interval must be at least 10 seconds")
	}
	if _, err := ac.History.Location(); err != nil {
		return fmt.Errorf("history timezone %q: %w", ac.History.Timezone, err)
	}
	if ac.History.DefaultDays < 1 {
		return fmt.Errorf("history default_days must be at least 1")
	}
	if ac.History.MaxDays < ac.History.DefaultDays {
		return fmt.Errorf("history max_days (%d) must be >= default_days (%d)", ac.History.MaxDays, ac.History.DefaultDays)
	}
	if ac.Archive.RetentionDays < 1 {
		return fmt.Errorf("archive retention_days must be at least 1")
	}
	// the archive backs history when ThingSpeak fails, so it must cover the widest window
	if ac.Archive.IsEnabled() && ac.Archive.RetentionDays < ac.History.MaxDays {
		return fmt.Errorf("archive retention_days (%d) must be >= history max_days (%d)", ac.Archive.RetentionDays, ac.History.MaxDays)
	}
	switch strings.ToLower(ac.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", ac.Logging.Format)
	}
	return ac.Pools.validate()
}

// String returns a safe string representation (hides read keys)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %+v, Telemetry: %+v, Refresh: %+v, History: %+v, Store: %+v, Pools: %s, Logging: %+v}",
		ac.Server,
		ac.Telemetry,
		ac.Refresh,
		ac.History,
		ac.Store,
		ac.Pools,
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
