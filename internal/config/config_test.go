package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helferbot/pkg/utils"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Mailbox.Username = "bot@example.com"
	cfg.Mailbox.Password = "secret"
	cfg.Mailbox.Sender = "noreply@portal.example"
	cfg.Mailbox.PollInterval = 20 * time.Second
	cfg.Portal.BaseURL = "https://portal.example"
	cfg.Portal.Username = "bot"
	cfg.Portal.Password = "secret"
	cfg.Notify.Enabled = false
	cfg.Dedup.MaxEntries = 1000
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing portal url", func(c *Config) { c.Portal.BaseURL = "" }, "portal.base_url"},
		{"missing portal username", func(c *Config) { c.Portal.Username = "" }, "portal.username"},
		{"missing portal password", func(c *Config) { c.Portal.Password = "" }, "portal.password"},
		{"missing mailbox username", func(c *Config) { c.Mailbox.Username = "" }, "mailbox.username"},
		{"missing mailbox password", func(c *Config) { c.Mailbox.Password = "" }, "mailbox.password"},
		{"missing watched sender", func(c *Config) { c.Mailbox.Sender = "" }, "mailbox.sender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)

			var cerr *utils.CustomError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "Configuration invalid", cerr.Message)
		})
	}
}

func TestValidateRequiresNotifyAddressesWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.from")
	assert.Contains(t, err.Error(), "notify.to")

	cfg.Notify.From = "bot@example.com"
	cfg.Notify.To = "operator@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.Mailbox.PollInterval = 500 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Dedup.MaxEntries = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 993, cfg.Mailbox.Port)
	assert.Equal(t, 20*time.Second, cfg.Mailbox.PollInterval)
	assert.Equal(t, 3, cfg.Mailbox.MaxAttempts)
	assert.Equal(t, "/login", cfg.Portal.LoginPath)
	assert.Equal(t, "/meine-auftraege", cfg.Portal.ListingsPath)
	assert.Equal(t, "session.json", cfg.Portal.CookieFile)
	assert.True(t, cfg.Portal.HeadlessMode)
	assert.Equal(t, 1000, cfg.Dedup.MaxEntries)
}

func TestLoadConfigFromYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_PORTAL_PASSWORD", "expanded-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
portal:
  base_url: "https://portal.example"
  username: "bot"
  password: "${TEST_PORTAL_PASSWORD}"
mailbox:
  sender: "jobs@portal.example"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "expanded-secret", cfg.Portal.Password)
	assert.Equal(t, "jobs@portal.example", cfg.Mailbox.Sender)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7001")
	t.Setenv("PORTAL_HEADLESS", "false")
	t.Setenv("MAILBOX_SENDER", "jobs@portal.example")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.False(t, cfg.Portal.HeadlessMode)
	assert.Equal(t, "jobs@portal.example", cfg.Mailbox.Sender)
}
