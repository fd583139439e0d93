// Package config provides configuration loading and management for GoPanelGuard
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PanelConfig defines a hosting control panel connection
type PanelConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"apiKey"`
	Enabled bool   `yaml:"enabled"`
}

// TelegramConfig defines Telegram delivery settings
type TelegramConfig struct {
	BotToken      string `yaml:"botToken"`
	ChatID        string `yaml:"chatID"`
	SizeCeiling   int64  `yaml:"sizeCeiling"`   // bytes; uploads above this are refused before any network I/O
	UploadTimeout string `yaml:"uploadTimeout"` // bounded upload window, multi-gigabyte files take hours
	APIBase       string `yaml:"apiBase"`       // override for self-hosted bot API servers
}

// S3Config defines S3 delivery settings
type S3Config struct {
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	AccessKey          string `yaml:"accessKey"`
	SecretKey          string `yaml:"secretKey"`
	Prefix             string `yaml:"prefix"`
	PathStyle          bool   `yaml:"pathStyle"` // Use path-style access for S3
	UseSSL             bool   `yaml:"useSSL"`
	CustomCAPath       string `yaml:"customCAPath"`       // Path to custom CA certificate
	SkipCertValidation bool   `yaml:"skipCertValidation"` // Skip certificate validation
}

// DeliveryConfig selects and configures the delivery channel
type DeliveryConfig struct {
	Channel  string         `yaml:"channel"` // telegram or s3
	Telegram TelegramConfig `yaml:"telegram"`
	S3       S3Config       `yaml:"s3"`
}

// SchedulerConfig defines due-check tick settings
type SchedulerConfig struct {
	TickInterval string `yaml:"tickInterval"`
}

// ScheduleRuleConfig defines one recurring backup rule
type ScheduleRuleConfig struct {
	PanelName  string `yaml:"panel"`
	Database   string `yaml:"database"`
	Kind       string `yaml:"kind"`       // hourly, daily, weekly or custom
	AnchorTime string `yaml:"anchorTime"` // "HH:MM"; minute only for hourly rules
	AnchorDay  int    `yaml:"anchorDay"`  // weekly rules, 0 = Monday
	CronExpr   string `yaml:"cronExpr"`   // custom rules
	Enabled    bool   `yaml:"enabled"`
}

// RunnerConfig defines job runner tuning
type RunnerConfig struct {
	Workers         int    `yaml:"workers"`
	QueueSize       int    `yaml:"queueSize"`
	MaxAttempts     int    `yaml:"maxAttempts"`
	BackoffBase     string `yaml:"backoffBase"`
	BackoffCap      string `yaml:"backoffCap"`
	ReconcileWindow string `yaml:"reconcileWindow"` // how long to poll for an artifact after an ambiguous trigger
	ReconcilePoll   string `yaml:"reconcilePoll"`
	PanelTimeout    string `yaml:"panelTimeout"` // per-request timeout for panel API calls
}

// HistoryDBConfig defines MySQL connection settings for the job history database
type HistoryDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
	AutoMigrate     bool   `yaml:"autoMigrate"`
}

// MetricsConfig defines settings for the metrics/admin server
type MetricsConfig struct {
	Port string `yaml:"port"`
}

// AppConfig is the top-level application configuration
type AppConfig struct {
	Debug            bool                 `yaml:"debug"`
	DataDirectory    string               `yaml:"dataDirectory"`    // file-based history store location when historyDB is disabled
	HistoryRetention string               `yaml:"historyRetention"` // terminal job records older than this are purged; "0" disables
	Panels           []PanelConfig        `yaml:"panels"`
	Schedules        []ScheduleRuleConfig `yaml:"schedules"`
	Delivery         DeliveryConfig       `yaml:"delivery"`
	Scheduler        SchedulerConfig      `yaml:"scheduler"`
	Runner           RunnerConfig         `yaml:"runner"`
	HistoryDB        HistoryDBConfig      `yaml:"historyDB"`
	Metrics          MetricsConfig        `yaml:"metrics"`
}

// CFG is the global application configuration
var CFG AppConfig

// LoadConfiguration loads configuration from the config file (if present)
// and then applies environment variable overrides
func LoadConfiguration() {
	configFile := getEnvOrDefault("CONFIG_FILE", "")
	if configFile != "" {
		if err := loadFromFile(configFile); err != nil {
			log.Fatalf("Failed to load configuration file %s: %v", configFile, err)
		}
		log.Printf("Loaded configuration from %s", configFile)
	}

	loadFromEnvironment()
	setDefaults()

	if CFG.Debug {
		DisplayConfiguration()
	}
}

// loadFromFile reads YAML configuration
func loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &CFG); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnvironment applies environment variable overrides
func loadFromEnvironment() {
	CFG.Debug = parseEnvBool("DEBUG", CFG.Debug)

	if v := getEnvOrDefault("DATA_DIRECTORY", ""); v != "" {
		CFG.DataDirectory = v
	}
	if v := getEnvOrDefault("HISTORY_RETENTION", ""); v != "" {
		CFG.HistoryRetention = v
	}

	// Delivery settings
	if v := getEnvOrDefault("DELIVERY_CHANNEL", ""); v != "" {
		CFG.Delivery.Channel = v
	}
	if v := getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""); v != "" {
		CFG.Delivery.Telegram.BotToken = v
	}
	if v := getEnvOrDefault("TELEGRAM_CHAT_ID", ""); v != "" {
		CFG.Delivery.Telegram.ChatID = v
	}
	if v := getEnvOrDefault("TELEGRAM_SIZE_CEILING", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			CFG.Delivery.Telegram.SizeCeiling = n
		}
	}

	// S3 delivery settings
	if v := getEnvOrDefault("S3_BUCKET", ""); v != "" {
		CFG.Delivery.S3.Bucket = v
	}
	if v := getEnvOrDefault("S3_REGION", ""); v != "" {
		CFG.Delivery.S3.Region = v
	}
	if v := getEnvOrDefault("S3_ENDPOINT", ""); v != "" {
		CFG.Delivery.S3.Endpoint = v
	}
	if v := getEnvOrDefault("S3_ACCESS_KEY", ""); v != "" {
		CFG.Delivery.S3.AccessKey = v
	}
	if v := getEnvOrDefault("S3_SECRET_KEY", ""); v != "" {
		CFG.Delivery.S3.SecretKey = v
	}

	// History database settings
	CFG.HistoryDB.Enabled = parseEnvBool("HISTORY_DB_ENABLED", CFG.HistoryDB.Enabled)
	if v := getEnvOrDefault("HISTORY_DB_HOST", ""); v != "" {
		CFG.HistoryDB.Host = v
	}
	if v := getEnvOrDefault("HISTORY_DB_PORT", ""); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			CFG.HistoryDB.Port = port
		}
	}
	if v := getEnvOrDefault("HISTORY_DB_USERNAME", ""); v != "" {
		CFG.HistoryDB.Username = v
	}
	if v := getEnvOrDefault("HISTORY_DB_PASSWORD", ""); v != "" {
		CFG.HistoryDB.Password = v
	}
	if v := getEnvOrDefault("HISTORY_DB_DATABASE", ""); v != "" {
		CFG.HistoryDB.Database = v
	}

	// Metrics settings
	if v := getEnvOrDefault("METRICS_PORT", ""); v != "" {
		CFG.Metrics.Port = v
	}

	// Note: Panels can only be configured via config file or the admin API
}

// setDefaults ensures all config fields have reasonable default values
func setDefaults() {
	if CFG.DataDirectory == "" {
		CFG.DataDirectory = "/var/lib/gopanelguard"
	}
	if CFG.HistoryRetention == "" {
		CFG.HistoryRetention = "720h" // 30 days
	}

	if CFG.Delivery.Channel == "" {
		CFG.Delivery.Channel = "telegram"
	}
	if CFG.Delivery.Telegram.SizeCeiling == 0 {
		CFG.Delivery.Telegram.SizeCeiling = 50 * 1024 * 1024 // Bot API document limit
	}
	if CFG.Delivery.Telegram.UploadTimeout == "" {
		CFG.Delivery.Telegram.UploadTimeout = "4h"
	}
	if CFG.Delivery.Telegram.APIBase == "" {
		CFG.Delivery.Telegram.APIBase = "https://api.telegram.org"
	}
	if CFG.Delivery.S3.Region == "" {
		CFG.Delivery.S3.Region = "us-east-1"
	}
	if CFG.Delivery.S3.Prefix == "" {
		CFG.Delivery.S3.Prefix = "panel-backups"
	}

	if CFG.Scheduler.TickInterval == "" {
		CFG.Scheduler.TickInterval = "30s"
	}

	if CFG.Runner.Workers == 0 {
		CFG.Runner.Workers = 2
	}
	if CFG.Runner.QueueSize == 0 {
		CFG.Runner.QueueSize = 32
	}
	if CFG.Runner.MaxAttempts == 0 {
		CFG.Runner.MaxAttempts = 3
	}
	if CFG.Runner.BackoffBase == "" {
		CFG.Runner.BackoffBase = "5s"
	}
	if CFG.Runner.BackoffCap == "" {
		CFG.Runner.BackoffCap = "2m"
	}
	if CFG.Runner.ReconcileWindow == "" {
		CFG.Runner.ReconcileWindow = "10m"
	}
	if CFG.Runner.ReconcilePoll == "" {
		CFG.Runner.ReconcilePoll = "10s"
	}
	if CFG.Runner.PanelTimeout == "" {
		CFG.Runner.PanelTimeout = "5m"
	}

	if CFG.HistoryDB.Enabled {
		if CFG.HistoryDB.Host == "" {
			CFG.HistoryDB.Host = "localhost"
		}
		if CFG.HistoryDB.Port == 0 {
			CFG.HistoryDB.Port = 3306
		}
		if CFG.HistoryDB.Database == "" {
			CFG.HistoryDB.Database = "gopanelguard"
		}
		if CFG.HistoryDB.MaxOpenConns == 0 {
			CFG.HistoryDB.MaxOpenConns = 10
		}
		if CFG.HistoryDB.MaxIdleConns == 0 {
			CFG.HistoryDB.MaxIdleConns = 5
		}
		if CFG.HistoryDB.ConnMaxLifetime == "" {
			CFG.HistoryDB.ConnMaxLifetime = "5m"
		}
	}

	if CFG.Metrics.Port == "" {
		CFG.Metrics.Port = "8080"
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parseEnvBool parses a boolean environment variable
func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// DisplayConfiguration logs the active configuration with secrets masked
func DisplayConfiguration() {
	log.Println("Active configuration:")
	log.Printf("  Debug: %v", CFG.Debug)
	log.Printf("  Data directory: %s", CFG.DataDirectory)
	log.Printf("  History retention: %s", CFG.HistoryRetention)
	log.Printf("  Delivery channel: %s", CFG.Delivery.Channel)
	for _, p := range CFG.Panels {
		log.Printf("  Panel %s: %s (enabled=%v, key=%s)", p.Name, p.URL, p.Enabled, maskSensitiveInfo(p.APIKey))
	}
	if CFG.Delivery.Channel == "telegram" {
		log.Printf("  Telegram chat: %s (token=%s, ceiling=%d bytes)",
			CFG.Delivery.Telegram.ChatID, maskSensitiveInfo(CFG.Delivery.Telegram.BotToken), CFG.Delivery.Telegram.SizeCeiling)
	}
	if CFG.Delivery.Channel == "s3" {
		log.Printf("  S3 bucket: %s (region=%s, endpoint=%s)",
			CFG.Delivery.S3.Bucket, CFG.Delivery.S3.Region, CFG.Delivery.S3.Endpoint)
	}
	log.Printf("  Schedules: %d rules", len(CFG.Schedules))
	log.Printf("  Scheduler tick: %s", CFG.Scheduler.TickInterval)
	log.Printf("  Runner: %d workers, %d attempts, backoff %s..%s, reconcile %s/%s",
		CFG.Runner.Workers, CFG.Runner.MaxAttempts, CFG.Runner.BackoffBase, CFG.Runner.BackoffCap,
		CFG.Runner.ReconcileWindow, CFG.Runner.ReconcilePoll)
	log.Printf("  History DB enabled: %v", CFG.HistoryDB.Enabled)
}

// maskSensitiveInfo masks all but the edges of a secret for logging
func maskSensitiveInfo(info string) string {
	if info == "" {
		return ""
	}
	if len(info) <= 4 {
		return "****"
	}
	return info[:2] + "****" + info[len(info)-2:]
}

// ValidateConfig validates the configuration
func ValidateConfig() error {
	if len(CFG.Panels) == 0 {
		return fmt.Errorf("at least one panel must be configured")
	}

	seen := make(map[string]bool)
	for _, p := range CFG.Panels {
		if p.Name == "" {
			return fmt.Errorf("panel name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate panel name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("panel %s: URL is required", p.Name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("panel %s: API key is required", p.Name)
		}
	}

	switch CFG.Delivery.Channel {
	case "telegram":
		if CFG.Delivery.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when telegram delivery is enabled")
		}
		if CFG.Delivery.Telegram.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when telegram delivery is enabled")
		}
	case "s3":
		if CFG.Delivery.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket must be specified when S3 delivery is enabled")
		}
		if CFG.Delivery.S3.AccessKey == "" || CFG.Delivery.S3.SecretKey == "" {
			return fmt.Errorf("S3 access key and secret key must be specified when S3 delivery is enabled")
		}
		if CFG.Delivery.S3.CustomCAPath != "" {
			if _, err := os.Stat(CFG.Delivery.S3.CustomCAPath); err != nil {
				return fmt.Errorf("custom CA path %s is not accessible: %w", CFG.Delivery.S3.CustomCAPath, err)
			}
		}
		if CFG.Delivery.S3.CustomCAPath != "" && CFG.Delivery.S3.SkipCertValidation {
			log.Printf("Warning: Both custom CA path and skip certificate validation are set. Custom CA will be ignored.")
		}
	default:
		return fmt.Errorf("unsupported delivery channel: %s", CFG.Delivery.Channel)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"historyRetention", CFG.HistoryRetention},
		{"scheduler.tickInterval", CFG.Scheduler.TickInterval},
		{"runner.backoffBase", CFG.Runner.BackoffBase},
		{"runner.backoffCap", CFG.Runner.BackoffCap},
		{"runner.reconcileWindow", CFG.Runner.ReconcileWindow},
		{"runner.reconcilePoll", CFG.Runner.ReconcilePoll},
		{"runner.panelTimeout", CFG.Runner.PanelTimeout},
		{"delivery.telegram.uploadTimeout", CFG.Delivery.Telegram.UploadTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", field.name, field.value)
		}
	}

	if CFG.HistoryDB.Enabled {
		if CFG.HistoryDB.Host == "" {
			return fmt.Errorf("history database host is required when enabled")
		}
		if CFG.HistoryDB.Username == "" {
			return fmt.Errorf("history database username is required when enabled")
		}
		if CFG.HistoryDB.Database == "" {
			return fmt.Errorf("history database name is required when enabled")
		}
		if _, err := time.ParseDuration(CFG.HistoryDB.ConnMaxLifetime); err != nil {
			return fmt.Errorf("history database connMaxLifetime is not a valid duration: %q", CFG.HistoryDB.ConnMaxLifetime)
		}
	}

	return nil
}
