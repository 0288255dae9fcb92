// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/prasertk/setpulse/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for the database and cycle journal (always absolute)
	Port            int
	LogLevel        string
	DevMode         bool
	ExtractorURL    string // browser extractor microservice for spreadsheet-backed datasets
	MarketProxyURL  string // reader proxy prepended to market page URLs (empty = direct)
	RefreshInterval time.Duration
	ScheduledTimes  []string // "HH:MM" wall-clock times for full refreshes (business days only)
	Retention       time.Duration
	Datasets        map[domain.Dataset]DatasetConfig
	Backup          *BackupConfig
}

// DatasetConfig holds per-dataset tunables. Loaded from datasets.yml when
// present, otherwise built-in defaults apply.
type DatasetConfig struct {
	Enabled bool
	Timeout time.Duration
	MinRows int
}

// datasetTunables is the YAML shape of one datasets.yml entry. Every field
// is optional: Enabled is a pointer so an entry that only tunes timeout or
// min_rows does not flip the dataset off, and Timeout is a duration string
// ("90s", "3m").
type datasetTunables struct {
	Enabled *bool  `yaml:"enabled"`
	Timeout string `yaml:"timeout"`
	MinRows int    `yaml:"min_rows"`
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled
// unless all of bucket, access key and secret are provided.
type BackupConfig struct {
	Enabled         bool
	Bucket          string
	AccountEndpoint string // full endpoint URL (R2 / MinIO / S3)
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	RetainCount     int // number of daily snapshots to keep
}

// datasetDefaults are the built-in tunables per dataset. The scraped pages
// share a 60s budget wide enough for multi-page fetches (sectors walks eight
// industry pages under one deadline); the spreadsheet exports (NVDR, short
// sales) get longer because they round-trip through the extractor service.
func datasetDefaults() map[domain.Dataset]DatasetConfig {
	return map[domain.Dataset]DatasetConfig{
		domain.DatasetIndex:        {Enabled: true, Timeout: 60 * time.Second, MinRows: 5},
		domain.DatasetSectors:      {Enabled: true, Timeout: 60 * time.Second, MinRows: 50},
		domain.DatasetInvestorFlow: {Enabled: true, Timeout: 60 * time.Second, MinRows: 4},
		domain.DatasetNVDR:         {Enabled: true, Timeout: 90 * time.Second, MinRows: 50},
		domain.DatasetShortSales:   {Enabled: true, Timeout: 90 * time.Second, MinRows: 20},
	}
}

// Load reads configuration from environment variables and, when present,
// per-dataset tunables from a YAML file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SETPULSE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("SETPULSE_PORT", 8010),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		ExtractorURL:    getEnv("EXTRACTOR_SERVICE_URL", "http://localhost:9100"),
		MarketProxyURL:  getEnv("MARKET_PROXY_URL", ""),
		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", 10*time.Minute),
		ScheduledTimes:  getEnvAsList("SCHEDULED_TIMES", []string{"10:30", "13:00", "17:30"}),
		Retention:       getEnvAsDuration("FAST_TABLE_RETENTION", 24*time.Hour),
		Datasets:        datasetDefaults(),
		Backup:          loadBackupConfig(),
	}

	tunablesPath := getEnv("DATASETS_CONFIG", filepath.Join(absDataDir, "datasets.yml"))
	if err := cfg.loadDatasetTunables(tunablesPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDatasetTunables overlays the built-in dataset defaults with values from
// a YAML file keyed by dataset name. A missing file is not an error.
func (c *Config) loadDatasetTunables(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read dataset config %s: %w", path, err)
	}

	var raw map[string]datasetTunables
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse dataset config %s: %w", path, err)
	}

	for name, dc := range raw {
		ds := domain.Dataset(name)
		if !ds.Valid() {
			return fmt.Errorf("dataset config %s: unknown dataset %q", path, name)
		}
		base := c.Datasets[ds]
		if dc.Enabled != nil {
			base.Enabled = *dc.Enabled
		}
		if dc.Timeout != "" {
			d, err := time.ParseDuration(dc.Timeout)
			if err != nil || d <= 0 {
				return fmt.Errorf("dataset config %s: %s: invalid timeout %q", path, name, dc.Timeout)
			}
			base.Timeout = d
		}
		if dc.MinRows > 0 {
			base.MinRows = dc.MinRows
		}
		c.Datasets[ds] = base
	}
	return nil
}

// loadBackupConfig reads S3 backup settings from the environment
func loadBackupConfig() *BackupConfig {
	cfg := &BackupConfig{
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		AccountEndpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		RetainCount:     getEnvAsInt("BACKUP_RETAIN_COUNT", 7),
	}
	cfg.Enabled = cfg.Bucket != "" && cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
	return cfg
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh interval %s is below the 1m minimum", c.RefreshInterval)
	}
	for _, t := range c.ScheduledTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid scheduled time %q: %w", t, err)
		}
	}
	for ds, dc := range c.Datasets {
		if dc.Timeout <= 0 {
			return fmt.Errorf("dataset %s: timeout must be positive", ds)
		}
	}
	return nil
}

// DatabasePath returns the path of the SQLite database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "setpulse.db")
}

// JournalPath returns the path of the msgpack cycle journal
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "cycles.journal")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
