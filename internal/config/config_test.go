package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
telegram:
  bot_token: "token"
  admin_id: 1000
database:
  path: "`+filepath.Join(dir, "bot.db")+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Warsaw", cfg.Service.Timezone)
	assert.Equal(t, 3, cfg.Service.PriceCount)
	assert.Equal(t, 30*time.Minute, cfg.ReminderInterval())
	assert.Equal(t, "data/backups", cfg.Database.Backup.Dir)
	assert.Equal(t, 7, cfg.Database.Backup.RetentionDays)

	perSecond, burst := cfg.SendRate()
	assert.Equal(t, float64(20), perSecond)
	assert.Equal(t, 30, burst)

	limit, window := cfg.CommandLimit()
	assert.Equal(t, 20, limit)
	assert.Equal(t, time.Minute, window)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "secret-token")
	dir := t.TempDir()
	path := writeConfig(t, `
telegram:
  bot_token: "${TEST_BOT_TOKEN}"
  admin_id: 1000
database:
  path: "`+filepath.Join(dir, "bot.db")+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Telegram.BotToken)
}

func TestLoadRequiresAdminID(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: "token"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_id")
}

func TestReminderIntervalCap(t *testing.T) {
	cfg := &Config{}
	cfg.Reminders.CheckIntervalMinutes = 180

	assert.Equal(t, time.Hour, cfg.ReminderInterval(),
		"interval is capped so reminder windows cannot be skipped")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
