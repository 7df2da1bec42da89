// Package config builds the job configuration once at process start.
//
// Values come from viper (flags, DUMPKEEPER_* environment variables and an
// optional YAML file) and are decoded into a flat Config that is validated
// before any step runs.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lucasew/dumpkeeper/internal/archive"
	"github.com/lucasew/dumpkeeper/internal/eviction"
	"github.com/lucasew/dumpkeeper/internal/remote"
)

// ByteSize is a size in bytes that may be written as "10GB" or "512MiB".
type ByteSize int64

type Config struct {
	Database        string `mapstructure:"database" validate:"required"`
	MongoURI        string `mapstructure:"mongodb-uri" validate:"required"`
	DumpTool        string `mapstructure:"dump-tool" validate:"required"`
	DumpParallelism int    `mapstructure:"dump-parallelism" validate:"min=1"`
	WorkDir         string `mapstructure:"work-dir" validate:"required"`

	ArchiveDir  string         `mapstructure:"archive-dir" validate:"required"`
	Compression archive.Format `mapstructure:"compression"`
	Checksum    string         `mapstructure:"checksum" validate:"required"`

	KeepLocal        int      `mapstructure:"keep-local" validate:"min=1"`
	MinRemoteEntries int      `mapstructure:"min-remote-entries" validate:"min=1"`
	MinFreeSpace     ByteSize `mapstructure:"min-free-space" validate:"min=0"`
	MaxDumpSize      ByteSize `mapstructure:"max-dump-size" validate:"min=0"`

	Remote         string        `mapstructure:"remote" validate:"required"`
	DestinationDir string        `mapstructure:"destination-dir"`
	SSHOrigin      string        `mapstructure:"ssh-origin" validate:"required_if=Remote ssh"`
	SSHPort        int           `mapstructure:"ssh-port" validate:"min=1,max=65535"`
	SSHPassword    string        `mapstructure:"ssh-password"`
	SSHKeyFile     string        `mapstructure:"ssh-key-file"`
	SSHKnownHosts  string        `mapstructure:"ssh-known-hosts"`
	SSHInsecure    bool          `mapstructure:"ssh-insecure-ignore-host-key"`
	SSHTimeout     time.Duration `mapstructure:"ssh-timeout"`

	S3Bucket          string `mapstructure:"s3-bucket" validate:"required_if=Remote s3"`
	S3Region          string `mapstructure:"s3-region"`
	S3Endpoint        string `mapstructure:"s3-endpoint" validate:"omitempty,url"`
	S3AccessKeyID     string `mapstructure:"s3-access-key-id"`
	S3SecretAccessKey string `mapstructure:"s3-secret-access-key"`
	S3UsePathStyle    bool   `mapstructure:"s3-use-path-style"`

	WebhookURL      string        `mapstructure:"webhook-url" validate:"omitempty,url"`
	WebhookUsername string        `mapstructure:"webhook-username"`
	WebhookCABundle string        `mapstructure:"webhook-ca-bundle"`
	WebhookTimeout  time.Duration `mapstructure:"webhook-timeout"`
	WebhookInterval time.Duration `mapstructure:"webhook-interval"`

	Progress    bool   `mapstructure:"progress"`
	Schedule    string `mapstructure:"schedule"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	Pushgateway string `mapstructure:"pushgateway-url" validate:"omitempty,url"`
	HistoryDB   string `mapstructure:"history-db"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database:         "Sofi",
		DumpTool:         "/usr/bin/mongodump",
		DumpParallelism:  10,
		WorkDir:          "/home/backup",
		ArchiveDir:       "/home/backup/zips",
		Compression:      archive.FormatGzip,
		Checksum:         "sha256",
		KeepLocal:        eviction.DefaultKeep,
		MinRemoteEntries: eviction.DefaultMinEntries,
		Remote:           "ssh",
		DestinationDir:   "rustBackup/",
		SSHPort:          23,
		SSHTimeout:       30 * time.Second,
		WebhookTimeout:   10 * time.Second,
		WebhookInterval:  500 * time.Millisecond,
		Schedule:         "0 3 * * *",
	}
}

// WebhookName is the display name used for notifications.
func (c *Config) WebhookName() string {
	if c.WebhookUsername != "" {
		return c.WebhookUsername
	}
	return c.Database + "-Backup"
}

// RemoteConfig assembles the settings of the configured remote backend.
func (c *Config) RemoteConfig() (remote.Config, error) {
	rc := remote.Config{
		Dir:      c.DestinationDir,
		Progress: c.Progress,
		S3: remote.S3Config{
			Bucket:          c.S3Bucket,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
			UsePathStyle:    c.S3UsePathStyle,
		},
	}

	if c.Remote == "ssh" {
		user, addr, err := SplitOrigin(c.SSHOrigin, c.SSHPort)
		if err != nil {
			return remote.Config{}, err
		}
		rc.SSH = remote.SSHConfig{
			User:            user,
			Addr:            addr,
			Password:        c.SSHPassword,
			KeyFile:         c.SSHKeyFile,
			KnownHostsFile:  c.SSHKnownHosts,
			InsecureHostKey: c.SSHInsecure,
			Timeout:         c.SSHTimeout,
		}
	}
	return rc, nil
}

// SplitOrigin parses an ssh origin of the form user@host or user@host:port.
func SplitOrigin(origin string, defaultPort int) (user, addr string, err error) {
	user, host, found := strings.Cut(origin, "@")
	if !found || user == "" || host == "" {
		return "", "", fmt.Errorf("invalid ssh origin %q: expected user@host", origin)
	}

	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		if _, convErr := strconv.Atoi(p); convErr != nil {
			return "", "", fmt.Errorf("invalid ssh origin %q: bad port", origin)
		}
		return user, net.JoinHostPort(h, p), nil
	}
	return user, net.JoinHostPort(host, strconv.Itoa(defaultPort)), nil
}
