package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validCFG returns a configuration that passes validation, for tests that
// mutate a single field
func validCFG() AppConfig {
	return AppConfig{
		HistoryRetention: "720h",
		Panels: []PanelConfig{
			{Name: "panel-a", URL: "http://panel-a:8888", APIKey: "key", Enabled: true},
		},
		Delivery: DeliveryConfig{
			Channel: "telegram",
			Telegram: TelegramConfig{
				BotToken:      "123:abc",
				ChatID:        "-100200300",
				SizeCeiling:   50 * 1024 * 1024,
				UploadTimeout: "4h",
				APIBase:       "https://api.telegram.org",
			},
		},
		Scheduler: SchedulerConfig{TickInterval: "30s"},
		Runner: RunnerConfig{
			Workers:         2,
			QueueSize:       32,
			MaxAttempts:     3,
			BackoffBase:     "5s",
			BackoffCap:      "2m",
			ReconcileWindow: "10m",
			ReconcilePoll:   "10s",
			PanelTimeout:    "5m",
		},
		Metrics: MetricsConfig{Port: "8080"},
	}
}

func TestSetDefaults(t *testing.T) {
	CFG = AppConfig{}
	setDefaults()

	assert.Equal(t, "/var/lib/gopanelguard", CFG.DataDirectory)
	assert.Equal(t, "720h", CFG.HistoryRetention)
	assert.Equal(t, "telegram", CFG.Delivery.Channel)
	assert.Equal(t, int64(50*1024*1024), CFG.Delivery.Telegram.SizeCeiling)
	assert.Equal(t, "4h", CFG.Delivery.Telegram.UploadTimeout)
	assert.Equal(t, "https://api.telegram.org", CFG.Delivery.Telegram.APIBase)
	assert.Equal(t, "30s", CFG.Scheduler.TickInterval)
	assert.Equal(t, 2, CFG.Runner.Workers)
	assert.Equal(t, 32, CFG.Runner.QueueSize)
	assert.Equal(t, 3, CFG.Runner.MaxAttempts)
	assert.Equal(t, "10m", CFG.Runner.ReconcileWindow)
	assert.Equal(t, "8080", CFG.Metrics.Port)

	// History DB defaults only apply when the store is enabled.
	assert.Zero(t, CFG.HistoryDB.Port)

	CFG = AppConfig{HistoryDB: HistoryDBConfig{Enabled: true}}
	setDefaults()
	assert.Equal(t, 3306, CFG.HistoryDB.Port)
	assert.Equal(t, "gopanelguard", CFG.HistoryDB.Database)
	assert.Equal(t, "5m", CFG.HistoryDB.ConnMaxLifetime)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
debug: true
panels:
  - name: panel-a
    url: http://panel-a:8888
    apiKey: secret
    enabled: true
schedules:
  - panel: panel-a
    database: shop
    kind: daily
    anchorTime: "03:30"
    enabled: true
delivery:
  channel: telegram
  telegram:
    botToken: 123:abc
    chatID: "-100200300"
`), 0o600))

	CFG = AppConfig{}
	require.NoError(t, loadFromFile(path))

	assert.True(t, CFG.Debug)
	require.Len(t, CFG.Panels, 1)
	assert.Equal(t, "panel-a", CFG.Panels[0].Name)
	assert.Equal(t, "secret", CFG.Panels[0].APIKey)
	require.Len(t, CFG.Schedules, 1)
	assert.Equal(t, "shop", CFG.Schedules[0].Database)
	assert.Equal(t, "daily", CFG.Schedules[0].Kind)
	assert.Equal(t, "03:30", CFG.Schedules[0].AnchorTime)
	assert.Equal(t, "-100200300", CFG.Delivery.Telegram.ChatID)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DEBUG", "true")
	t.Setenv("DELIVERY_CHANNEL", "s3")
	t.Setenv("S3_BUCKET", "backups")
	t.Setenv("TELEGRAM_SIZE_CEILING", "1048576")
	t.Setenv("HISTORY_RETENTION", "240h")
	t.Setenv("HISTORY_DB_PORT", "3307")
	t.Setenv("METRICS_PORT", "9090")

	CFG = AppConfig{}
	loadFromEnvironment()

	assert.True(t, CFG.Debug)
	assert.Equal(t, "s3", CFG.Delivery.Channel)
	assert.Equal(t, "backups", CFG.Delivery.S3.Bucket)
	assert.Equal(t, int64(1048576), CFG.Delivery.Telegram.SizeCeiling)
	assert.Equal(t, "240h", CFG.HistoryRetention)
	assert.Equal(t, 3307, CFG.HistoryDB.Port)
	assert.Equal(t, "9090", CFG.Metrics.Port)
}

func TestValidateConfig(t *testing.T) {
	CFG = validCFG()
	assert.NoError(t, ValidateConfig())

	CFG = validCFG()
	CFG.Panels = nil
	assert.Error(t, ValidateConfig(), "no panels")

	CFG = validCFG()
	CFG.Panels = append(CFG.Panels, CFG.Panels[0])
	assert.Error(t, ValidateConfig(), "duplicate panel name")

	CFG = validCFG()
	CFG.Panels[0].APIKey = ""
	assert.Error(t, ValidateConfig(), "missing API key")

	CFG = validCFG()
	CFG.Delivery.Channel = "carrier-pigeon"
	assert.Error(t, ValidateConfig(), "unknown channel")

	CFG = validCFG()
	CFG.Delivery.Telegram.BotToken = ""
	assert.Error(t, ValidateConfig(), "telegram without token")

	CFG = validCFG()
	CFG.Delivery.Channel = "s3"
	assert.Error(t, ValidateConfig(), "s3 without bucket")

	CFG = validCFG()
	CFG.Delivery.Channel = "s3"
	CFG.Delivery.S3 = S3Config{Bucket: "backups", AccessKey: "ak", SecretKey: "sk"}
	assert.NoError(t, ValidateConfig())

	CFG = validCFG()
	CFG.Runner.BackoffBase = "soon"
	assert.Error(t, ValidateConfig(), "bad duration")

	CFG = validCFG()
	CFG.HistoryRetention = "forever"
	assert.Error(t, ValidateConfig(), "bad retention duration")

	CFG = validCFG()
	CFG.HistoryRetention = "0"
	assert.NoError(t, ValidateConfig(), "zero retention disables the sweep")

	CFG = validCFG()
	CFG.HistoryDB = HistoryDBConfig{Enabled: true, Host: "db", Database: "gpg", ConnMaxLifetime: "5m"}
	assert.Error(t, ValidateConfig(), "history db without username")
}

func TestMaskSensitiveInfo(t *testing.T) {
	assert.Equal(t, "", maskSensitiveInfo(""))
	assert.Equal(t, "****", maskSensitiveInfo("abcd"))
	assert.Equal(t, "se****et", maskSensitiveInfo("secretsecret"))
}
