package config

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-franchise-auth"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, AUTH_SIGNING_KEY,
// AUTH_DATABASE_DSN and so on.
const EnvPrefix = "auth"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config is the authd process configuration. The embedded auth.Settings
// keys live at the top level of the file.
type Config struct {
	auth.Settings `mapstructure:",squash"`
	Database      Database `mapstructure:"database" json:"database"`
	Server        Server   `mapstructure:"server" json:"server"`
}

type Database struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
}

type Server struct {
	Addr        string `mapstructure:"addr" json:"addr"`
	MetricsPath string `mapstructure:"metrics_path" json:"metrics_path"`
	APIPrefix   string `mapstructure:"api_prefix" json:"api_prefix"`
}

// Defaults lists every key with its default value. Keys must be known to
// viper for environment overrides to apply.
func Defaults() map[string]any {
	s := auth.DefaultSettings()
	return map[string]any{
		"signing_key":               "",
		"signing_method":            s.SigningMethod,
		"issuer":                    s.Issuer,
		"audience":                  []string{},
		"access_token_ttl":          s.AccessTokenTTL,
		"refresh_token_ttl":         s.RefreshTokenTTL,
		"password_pepper":           "",
		"argon_memory_kib":          s.ArgonMemoryKiB,
		"argon_iterations":          s.ArgonIterations,
		"argon_parallelism":         s.ArgonParallelism,
		"legacy_password_strategy":  s.LegacyPasswordStrategy,
		"permission_cache_ttl":      s.PermissionCacheTTL,
		"lockout_threshold":         s.LockoutThreshold,
		"lockout_cooldown":          s.LockoutCooldown,
		"platform_tenant_id":        s.PlatformTenantID,
		"disclose_principal_errors": s.DisclosePrincipalErrors,
		"database.driver":           DriverSQLite,
		"database.dsn":              "file:authd.db?cache=shared",
		"server.addr":               ":8080",
		"server.metrics_path":       "/metrics",
		"server.api_prefix":         "",
	}
}

// Load reads defaults, then path (or ./authd.yaml when path is empty and the
// file exists), then AUTH_* environment variables. The result is validated.
func Load(path string) (Config, error) {
	var cfg Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("authd")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the auth settings and the database section.
func (c Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres, DriverMySQL)),
		validation.Field(&c.Database.DSN, validation.Required),
	)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.Settings = c.Settings.Redacted()
	if out.Database.DSN != "" {
		out.Database.DSN = "[REDACTED]"
	}
	return out
}
