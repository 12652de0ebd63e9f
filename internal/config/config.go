// Package config provides configuration management for encodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	defaultServerPort        = 8096
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultDownmixBoost      = 2.0
	defaultSegmentLength     = 3
	defaultMaxConcurrentJobs = 4
	defaultCleanupSchedule   = "*/30 * * * *"
	defaultCleanupMaxAge     = 24 * time.Hour
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "ENCODARR"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Encoding EncodingConfig `mapstructure:"encoding" yaml:"encoding"`
	ISO      ISOConfig      `mapstructure:"iso" yaml:"iso"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup" yaml:"cleanup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the working directories. Relative directories live under BaseDir.
type StorageConfig struct {
	BaseDir      string `mapstructure:"base_dir" yaml:"base_dir"`
	TranscodeDir string `mapstructure:"transcode_dir" yaml:"transcode_dir"`
	LogDir       string `mapstructure:"log_dir" yaml:"log_dir"`
	MountDir     string `mapstructure:"mount_dir" yaml:"mount_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// EncodingConfig holds encoder settings shared by every job.
type EncodingConfig struct {
	EncoderPath        string  `mapstructure:"encoder_path" yaml:"encoder_path"` // empty = auto-detect
	ProbePath          string  `mapstructure:"probe_path" yaml:"probe_path"`     // empty = auto-detect
	EnableDebugLogging bool    `mapstructure:"enable_debug_logging" yaml:"enable_debug_logging"`
	DownmixAudioBoost  float64 `mapstructure:"downmix_audio_boost" yaml:"downmix_audio_boost"`
	// HardwareAccelerationType is "", "qsv" or "nvenc".
	HardwareAccelerationType string `mapstructure:"hardware_acceleration_type" yaml:"hardware_acceleration_type"`
	SegmentLength            int    `mapstructure:"segment_length" yaml:"segment_length"`
	// ProbeSize bounds network input analysis. Supports values like "5MB" or raw byte counts.
	ProbeSize         ByteSize      `mapstructure:"probe_size" yaml:"probe_size"`
	AnalyzeDuration   time.Duration `mapstructure:"analyze_duration" yaml:"analyze_duration"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"` // 0 = unlimited
}

// ISOConfig holds disc image mounting configuration. The commands are templates where
// {source} is the image path and {target} the mount point.
type ISOConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	MountCommand   string `mapstructure:"mount_command" yaml:"mount_command"`
	UnmountCommand string `mapstructure:"unmount_command" yaml:"unmount_command"`
}

// CleanupConfig holds the stale output sweeper configuration.
type CleanupConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule string        `mapstructure:"schedule" yaml:"schedule"` // 5-field cron expression
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/encodarr")
		v.AddConfigPath("$HOME/.encodarr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}
	return v, nil
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ENCODARR_ and use underscores for nesting.
// Example: ENCODARR_ENCODING_ENCODER_PATH=/usr/bin/ffmpeg.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // output downloads can be long
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "encodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.transcode_dir", "transcodes")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.mount_dir", "mounts")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Encoding defaults
	v.SetDefault("encoding.encoder_path", "")
	v.SetDefault("encoding.probe_path", "")
	v.SetDefault("encoding.enable_debug_logging", false)
	v.SetDefault("encoding.downmix_audio_boost", defaultDownmixBoost)
	v.SetDefault("encoding.hardware_acceleration_type", "")
	v.SetDefault("encoding.segment_length", defaultSegmentLength)
	v.SetDefault("encoding.probe_size", "0")
	v.SetDefault("encoding.analyze_duration", time.Duration(0))
	v.SetDefault("encoding.max_concurrent_jobs", defaultMaxConcurrentJobs)

	// ISO defaults
	v.SetDefault("iso.enabled", false)
	v.SetDefault("iso.mount_command", "mount -o loop,ro {source} {target}")
	v.SetDefault("iso.unmount_command", "umount {target}")

	// Cleanup defaults
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.schedule", defaultCleanupSchedule)
	v.SetDefault("cleanup.max_age", defaultCleanupMaxAge)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	if !slices.Contains([]string{"sqlite", "postgres", "mysql"}, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.LogLevel != "" && !slices.Contains([]string{"silent", "error", "warn", "info"}, c.Database.LogLevel) {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	if !slices.Contains([]string{"json", "text"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Encoding validation
	if !slices.Contains([]string{"", "qsv", "nvenc"}, c.Encoding.HardwareAccelerationType) {
		return fmt.Errorf("encoding.hardware_acceleration_type must be one of: qsv, nvenc, or empty")
	}
	if c.Encoding.SegmentLength < 1 {
		return fmt.Errorf("encoding.segment_length must be at least 1")
	}
	if c.Encoding.DownmixAudioBoost <= 0 {
		return fmt.Errorf("encoding.downmix_audio_boost must be positive")
	}
	if c.Encoding.ProbeSize < 0 {
		return fmt.Errorf("encoding.probe_size must not be negative")
	}
	if c.Encoding.MaxConcurrentJobs < 0 {
		return fmt.Errorf("encoding.max_concurrent_jobs must not be negative")
	}

	// ISO validation
	if c.ISO.Enabled {
		if !strings.Contains(c.ISO.MountCommand, "{source}") || !strings.Contains(c.ISO.MountCommand, "{target}") {
			return fmt.Errorf("iso.mount_command must reference {source} and {target}")
		}
		if !strings.Contains(c.ISO.UnmountCommand, "{target}") {
			return fmt.Errorf("iso.unmount_command must reference {target}")
		}
	}

	// Cleanup validation
	if c.Cleanup.Enabled {
		if c.Cleanup.Schedule == "" {
			return fmt.Errorf("cleanup.schedule is required when cleanup is enabled")
		}
		if c.Cleanup.MaxAge <= 0 {
			return fmt.Errorf("cleanup.max_age must be positive")
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *StorageConfig) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BaseDir, dir)
}

// TranscodePath returns the directory transcode outputs are written to.
func (c *StorageConfig) TranscodePath() string {
	return c.resolve(c.TranscodeDir)
}

// LogPath returns the directory of the per-job encoder logs.
func (c *StorageConfig) LogPath() string {
	return c.resolve(c.LogDir)
}

// MountPath returns the directory disc images are mounted under.
func (c *StorageConfig) MountPath() string {
	return c.resolve(c.MountDir)
}

// Dump renders the effective configuration (defaults, file and environment) as YAML.
func Dump(configPath string) ([]byte, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return out, nil
}
