package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/lucasew/dumpkeeper/internal/config"
	"github.com/lucasew/dumpkeeper/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dumpkeeper",
	Short: "Scheduled MongoDB backups with bounded retention",
	Long: `dumpkeeper dumps a MongoDB database, packs the dump into a dated archive,
ships it to a remote store over SSH or S3 and keeps a bounded number of
archives both locally and remotely.`,
}

// legacyEnv maps config keys to the environment variables the first
// deployments used, before the DUMPKEEPER_ prefix existed.
var legacyEnv = map[string]string{
	"mongodb-uri":  "MONGODB_URI",
	"webhook-url":  "BACKUP_WEBHOOK_URL",
	"ssh-origin":   "SSH_ORIGIN",
	"ssh-password": "SSH_PASSWORD",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	bindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("DUMPKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for key, legacy := range legacyEnv {
		envKey := "DUMPKEEPER_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		errutil.ReportError(viper.BindEnv(key, envKey, legacy), "Failed to bind environment", "key", key)
	}

	if err := setupLogger(viper.GetString("log-level"), viper.GetString("log-format")); err != nil {
		errutil.ReportError(err, "Invalid logging flags")
		os.Exit(1)
	}

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			errutil.ReportError(err, "Failed to read config file", "path", file)
			os.Exit(1)
		}
		slog.Debug("Loaded config file", "path", viper.ConfigFileUsed())
	}
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// bindFlags binds every flag of fs to the viper key of the same name.
func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		errutil.ReportError(viper.BindPFlag(f.Name, f), "Failed to bind flag", "flag", f.Name)
	})
}

// addJobFlags registers the flags shared by the commands that run backups.
func addJobFlags(cmd *cobra.Command) {
	d := config.Default()
	fs := cmd.Flags()

	fs.String("database", d.Database, "Database to dump")
	fs.String("mongodb-uri", d.MongoURI, "MongoDB connection string")
	fs.String("dump-tool", d.DumpTool, "Path to mongodump")
	fs.Int("dump-parallelism", d.DumpParallelism, "Collections dumped in parallel")
	fs.String("work-dir", d.WorkDir, "Directory the dump is written to")

	fs.String("archive-dir", d.ArchiveDir, "Directory holding the local archives")
	fs.String("compression", string(d.Compression), "Archive compression (tar, gzip, zstd)")
	fs.String("checksum", d.Checksum, "Archive checksum algorithm")

	fs.Int("keep-local", d.KeepLocal, "Local archives to keep")
	fs.Int("min-remote-entries", d.MinRemoteEntries, "Remote archives required before evicting the oldest")
	fs.String("min-free-space", byteFlag(d.MinFreeSpace), "Free space required in the work dir before dumping (e.g. 10GB)")
	fs.String("max-dump-size", byteFlag(d.MaxDumpSize), "Largest dump accepted (e.g. 50GB, 0 for unlimited)")

	fs.String("remote", d.Remote, "Remote backend (ssh, s3)")
	fs.String("destination-dir", d.DestinationDir, "Remote directory holding the archives")
	fs.String("ssh-origin", d.SSHOrigin, "SSH destination as user@host[:port]")
	fs.Int("ssh-port", d.SSHPort, "SSH port used when the origin has none")
	fs.String("ssh-password", d.SSHPassword, "SSH password")
	fs.String("ssh-key-file", d.SSHKeyFile, "SSH private key")
	fs.String("ssh-known-hosts", d.SSHKnownHosts, "known_hosts file used to verify the server")
	fs.Bool("ssh-insecure-ignore-host-key", d.SSHInsecure, "Skip host key verification")
	fs.Duration("ssh-timeout", d.SSHTimeout, "SSH connect timeout")

	fs.String("s3-bucket", d.S3Bucket, "S3 bucket")
	fs.String("s3-region", d.S3Region, "S3 region")
	fs.String("s3-endpoint", d.S3Endpoint, "S3 compatible endpoint URL")
	fs.String("s3-access-key-id", d.S3AccessKeyID, "S3 access key ID")
	fs.String("s3-secret-access-key", d.S3SecretAccessKey, "S3 secret access key")
	fs.Bool("s3-use-path-style", d.S3UsePathStyle, "Use path style S3 addressing")

	fs.String("webhook-url", d.WebhookURL, "Webhook receiving progress messages")
	fs.String("webhook-username", d.WebhookUsername, "Webhook display name (default <database>-Backup)")
	fs.String("webhook-ca-bundle", d.WebhookCABundle, "Extra CA certificates for the webhook endpoint")
	fs.Duration("webhook-timeout", d.WebhookTimeout, "Webhook request timeout")
	fs.Duration("webhook-interval", d.WebhookInterval, "Minimum spacing between webhook messages")

	fs.Bool("progress", d.Progress, "Show upload progress")
	fs.String("pushgateway-url", d.Pushgateway, "Prometheus Pushgateway to push run metrics to")
	fs.String("history-db", d.HistoryDB, "SQLite database recording every run")
}

func byteFlag(n config.ByteSize) string {
	return strconv.FormatInt(int64(n), 10)
}

// loadConfig binds the flags of cmd and decodes the configuration.
func loadConfig(cmd *cobra.Command) *config.Config {
	bindFlags(cmd.Flags())
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		errutil.ReportError(err, "Failed to load configuration")
		os.Exit(1)
	}
	slog.Debug("Configuration loaded",
		"database", cfg.Database,
		"remote", cfg.Remote,
		"archive_dir", cfg.ArchiveDir,
		"keep_local", cfg.KeepLocal,
		"min_remote_entries", cfg.MinRemoteEntries,
	)
	return cfg
}
