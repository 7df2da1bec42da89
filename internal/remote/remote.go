// Package remote defines the off-site archive store and the registry of its backends.
package remote

import (
	"context"
	"time"
)

// Store is an off-site directory of archives.
type Store interface {
	// List returns the archive names currently stored.
	List(ctx context.Context) ([]string, error)
	// Remove deletes an archive by name.
	Remove(ctx context.Context, name string) error
	// Upload copies the local file at localPath into the store as name.
	Upload(ctx context.Context, localPath, name string) error
	Close() error
}

// Config carries the settings for every backend; each backend reads its own part.
type Config struct {
	// Dir is the directory (or key prefix) that holds the archives.
	Dir      string
	Progress bool
	SSH      SSHConfig
	S3       S3Config
}

type SSHConfig struct {
	User            string
	Addr            string
	Password        string
	KeyFile         string
	KnownHostsFile  string
	InsecureHostKey bool
	Timeout         time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}
