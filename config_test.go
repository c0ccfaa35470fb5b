package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Auth:   AuthConfig{TokenSecret: "0123456789abcdef"},
	}
}

func TestInitConfigDefaults(t *testing.T) {
	config := validTestConfig()
	require.NoError(t, InitConfig(config, "abc123", "v1.0.0", "2023-07-02"))

	assert.Equal(t, "abc123", config.GitCommit)
	assert.Equal(t, "v1.0.0", config.GitTag)
	assert.Equal(t, StorageBolt, config.Storage.Driver)
	assert.Equal(t, DefaultBorrowWindowDays, config.Library.BorrowWindowDays)
	assert.Equal(t, "0 8 * * *", config.Library.OverdueScanSchedule)
	assert.Equal(t, "catalog", config.BoltDB.BucketName)
	assert.Equal(t, DefaultRedisCatalogKey, config.Redis.CatalogKey)
	assert.Equal(t, 12*time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, config.Server.RequestTimeout)
}

func TestInitConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing server port", func(c *Config) { c.Server.Port = "" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"redis driver without address", func(c *Config) { c.Storage.Driver = StorageRedis }},
		{"mirror on bolt", func(c *Config) { c.Storage.MirrorEnabled = true }},
		{"mirror without redis", func(c *Config) {
			c.Storage.Driver = StorageSQLite
			c.Storage.MirrorEnabled = true
		}},
		{"short token secret", func(c *Config) { c.Auth.TokenSecret = "short" }},
		{"negative borrow window", func(c *Config) { c.Library.BorrowWindowDays = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := validTestConfig()
			tc.mutate(config)
			assert.Error(t, InitConfig(config, "", "", ""))
		})
	}
}

func TestLoadConfigFileAndEnvs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
server:
  host: 0.0.0.0
  port: "8080"
library:
  borrow_window_days: 10
storage:
  driver: sqlite
auth:
  token_secret: 0123456789abcdef
  users:
    - username: admin
      password_hash: hash
      admin: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10, config.Library.BorrowWindowDays)
	assert.Equal(t, StorageSQLite, config.Storage.Driver)
	require.Len(t, config.Auth.Users, 1)
	assert.True(t, config.Auth.Users[0].Admin)

	t.Setenv("LBT_LIBRARY_BORROW_WINDOW_DAYS", "21")
	t.Setenv("LBT_SERVER_PORT", "9090")
	require.NoError(t, LoadConfigEnvs("LBT", config))
	assert.Equal(t, 21, config.Library.BorrowWindowDays)
	assert.Equal(t, "9090", config.Server.Port)
	require.Len(t, config.Auth.Users, 1)
}
