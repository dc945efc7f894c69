package config

import (
	"time"

	"github.com/customeros/mailfs/internal/models"
)

type ImapConfig struct {
	Server             string        `env:"IMAP_SERVER"`
	Username           string        `env:"IMAP_USERNAME"`
	Password           string        `env:"IMAP_PASSWORD"`
	Security           string        `env:"IMAP_SECURITY" envDefault:"tls"`
	InsecureSkipVerify bool          `env:"IMAP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	DialTimeout        time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
}

type CacheConfig struct {
	ListTTL     time.Duration `env:"MAILFS_LIST_TTL" envDefault:"5m"`
	SelectTTL   time.Duration `env:"MAILFS_SELECT_TTL" envDefault:"1m"`
	SearchTTL   time.Duration `env:"MAILFS_SEARCH_TTL" envDefault:"1m"`
	MetadataTTL time.Duration `env:"MAILFS_METADATA_TTL" envDefault:"24h"`
	BodyTTL     time.Duration `env:"MAILFS_BODY_TTL" envDefault:"168h"`
}

func (c *CacheConfig) TTLs() models.TTLs {
	return models.TTLs{
		List:     c.ListTTL,
		Select:   c.SelectTTL,
		Search:   c.SearchTTL,
		Metadata: c.MetadataTTL,
		Body:     c.BodyTTL,
	}
}

type MountConfig struct {
	Mountpoint string `env:"MAILFS_MOUNTPOINT"`
	AllowOther bool   `env:"MAILFS_ALLOW_OTHER" envDefault:"false"`
	Debug      bool   `env:"MAILFS_FUSE_DEBUG" envDefault:"false"`
	FsName     string `env:"MAILFS_FS_NAME" envDefault:"mailfs"`
}

type StatusConfig struct {
	// Empty disables the status server.
	Addr string `env:"MAILFS_STATUS_ADDR"`
}

type CronConfig struct {
	// Keepalive NOOP, every four minutes
	CronScheduleKeepalive string `env:"CRON_SCHEDULE_KEEPALIVE" envDefault:"0 */4 * * * *"`
}

type KeyringConfig struct {
	ServiceName string `env:"MAILFS_KEYRING_SERVICE" envDefault:"mailfs"`
	FileDir     string `env:"MAILFS_KEYRING_DIR"`
}
