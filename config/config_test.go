package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_Defaults(t *testing.T) {
	t.Setenv("IMAP_SERVER", "imap.example.org:993")
	t.Setenv("IMAP_USERNAME", "alice")

	cfg, err := InitConfig()
	require.NoError(t, err)

	assert.Equal(t, "imap.example.org:993", cfg.ImapConfig.Server)
	assert.Equal(t, "alice", cfg.ImapConfig.Username)
	assert.Equal(t, "tls", cfg.ImapConfig.Security)
	assert.Equal(t, 30*time.Second, cfg.ImapConfig.DialTimeout)
	assert.Equal(t, "mailfs", cfg.MountConfig.FsName)
	assert.Equal(t, "mailfs", cfg.KeyringConfig.ServiceName)
	assert.Equal(t, "0 */4 * * * *", cfg.CronConfig.CronScheduleKeepalive)
	assert.Empty(t, cfg.StatusConfig.Addr)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestCacheConfig_TTLs(t *testing.T) {
	t.Setenv("MAILFS_SEARCH_TTL", "30s")

	cfg, err := InitConfig()
	require.NoError(t, err)

	ttl := cfg.CacheConfig.TTLs()
	assert.Equal(t, 5*time.Minute, ttl.List)
	assert.Equal(t, time.Minute, ttl.Select)
	assert.Equal(t, 30*time.Second, ttl.Search)
	assert.Equal(t, 24*time.Hour, ttl.Metadata)
	assert.Equal(t, 168*time.Hour, ttl.Body)
}

func TestInitConfig_BadDuration(t *testing.T) {
	t.Setenv("MAILFS_LIST_TTL", "soon")

	_, err := InitConfig()
	assert.Error(t, err)
}
