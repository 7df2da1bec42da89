package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/lucasew/dumpkeeper/internal/archive"
	"github.com/lucasew/dumpkeeper/internal/hashutil"
	"github.com/lucasew/dumpkeeper/internal/remote"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Load decodes the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		byteSizeHook(),
		formatHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags first, then the rules that depend on registries.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !hashutil.IsSupported(c.Checksum) {
		return fmt.Errorf("invalid configuration: checksum %q not in %v", c.Checksum, hashutil.Algorithms())
	}
	if !remote.IsRegistered(c.Remote) {
		return fmt.Errorf("invalid configuration: %w: %s", remote.ErrUnknownBackend, c.Remote)
	}
	if c.Remote == "ssh" {
		if c.SSHPassword == "" && c.SSHKeyFile == "" {
			return errors.New("invalid configuration: ssh needs a password or a key file")
		}
		if c.SSHKnownHosts == "" && !c.SSHInsecure {
			return errors.New("invalid configuration: set ssh-known-hosts or ssh-insecure-ignore-host-key")
		}
		if _, _, err := SplitOrigin(c.SSHOrigin, c.SSHPort); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// ValidateSchedule checks the cron expression used by the serve command.
func (c *Config) ValidateSchedule() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", c.Schedule, err)
	}
	return nil
}

func byteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		raw := strings.TrimSpace(reflect.ValueOf(data).String())
		if raw == "" {
			return ByteSize(0), nil
		}
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", raw, err)
		}
		return ByteSize(n), nil
	}
}

func formatHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(archive.Format("")) || from.Kind() != reflect.String {
			return data, nil
		}
		return archive.ParseFormat(reflect.ValueOf(data).String())
	}
}
