// Package config loads gcodeml configuration from defaults, an optional
// config file, a .env file, GCODEML_* environment variables and runtime
// overrides, in increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "GCODEML"

// Config is the typed application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Session SessionConfig `mapstructure:"session"`
	TaskDB  TaskDBConfig  `mapstructure:"taskdb"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// ToolsConfig names the grid client executables.
type ToolsConfig struct {
	Submit     string `mapstructure:"submit"`
	Status     string `mapstructure:"status"`
	Get        string `mapstructure:"get"`
	ProxyInfo  string `mapstructure:"proxy_info"`
	ProxyInit  string `mapstructure:"proxy_init"`
	DebugLevel int    `mapstructure:"debug_level"`
	IDScheme   string `mapstructure:"id_scheme"`
}

type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	VO       string `mapstructure:"vo"`
	Validity string `mapstructure:"validity"`
}

type SessionConfig struct {
	Root         string        `mapstructure:"root"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// SubmitRate caps submission tool invocations per second; 0 disables pacing.
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
}

// TaskDBConfig locates the analytics database. URL selects a remote libsql
// server and takes precedence over Path.
type TaskDBConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ArchiveConfig locates the S3-compatible bucket for session archives.
type ArchiveConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("tools.submit", "ngsub")
	v.SetDefault("tools.status", "ngstat")
	v.SetDefault("tools.get", "ngget")
	v.SetDefault("tools.proxy_info", "voms-proxy-info")
	v.SetDefault("tools.proxy_init", "voms-proxy-init")
	v.SetDefault("tools.debug_level", 0)
	v.SetDefault("tools.id_scheme", "gsiftp")

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.vo", "life")
	v.SetDefault("proxy.validity", "24:00")

	v.SetDefault("session.root", "sessions")
	v.SetDefault("session.poll_interval", "30s")
	v.SetDefault("session.submit_rate", 0)
	v.SetDefault("session.submit_burst", 1)

	v.SetDefault("taskdb.path", "")
	v.SetDefault("taskdb.url", "")
	v.SetDefault("taskdb.auth_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.prefix", "gcodeml/")
	v.SetDefault("archive.profile", "")
	v.SetDefault("archive.force_path_style", false)
}

// BindEnv wires GCODEML_* variables into v, including the short aliases
// GCODEML_PORT and GCODEML_LOG_LEVEL.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", EnvPrefix+"_PORT", EnvPrefix+"_SERVER_PORT")
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_LOGGING_LEVEL")
}

// LoadDotEnv loads path (default ".env") into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_DOTENV")
	}
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from a fresh viper instance. Each overrides map is
// merged last, in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if err := ReadConfigFile(v, os.Getenv(EnvPrefix+"_CONFIG")); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}
	return Decode(v)
}

// ReadConfigFile reads path into v. With an empty path it looks for
// gcodeml.yaml in the working directory and the user config directory, and
// finding none is not an error.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gcodeml")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "gcodeml"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Decode converts v into a validated Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Session.PollInterval <= 0 {
		return apperrors.Validation("session.poll_interval", "must be positive")
	}
	if c.Session.SubmitRate < 0 {
		return apperrors.Validation("session.submit_rate", "must not be negative")
	}
	if c.Tools.DebugLevel < -3 || c.Tools.DebugLevel > 3 {
		return apperrors.Validation("tools.debug_level", "must be between -3 and 3")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return apperrors.Validation("server.port", "must be between 0 and 65535")
	}
	return nil
}
