// Package config merges defaults, an optional config file, dotenv files,
// WHISPERD_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/device"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	EnvPrefix = "WHISPERD"

	BackendServer = "server"
	BackendCLI    = "cli"

	defaultEnvFile = ".env"
)

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Model           string        `mapstructure:"model"`
	ModelDir        string        `mapstructure:"model_dir"`
	Backend         string        `mapstructure:"backend"`
	Device          string        `mapstructure:"device"`
	AutoDownload    bool          `mapstructure:"auto_download"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WhisperServer   string        `mapstructure:"whisper_server"`
	WhisperCLI      string        `mapstructure:"whisper_cli"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	LogLevel        string        `mapstructure:"log_level"`
	LogJSON         bool          `mapstructure:"log_json"`
	NoProgress      bool          `mapstructure:"no_progress"`
}

type Options struct {
	// ConfigFile is read when set; a missing file is an error.
	ConfigFile string
	// EnvFile is loaded when set; otherwise .env in the working directory
	// is loaded if present. Variables already in the environment win.
	EnvFile string
	// Flags are applied last, but only those the user actually set.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"host":             "host",
	"port":             "port",
	"model":            "model",
	"model-dir":        "model_dir",
	"backend":          "backend",
	"device":           "device",
	"auto-download":    "auto_download",
	"load-timeout":     "load_timeout",
	"shutdown-timeout": "shutdown_timeout",
	"whisper-server":   "whisper_server",
	"whisper-cli":      "whisper_cli",
	"ffmpeg-path":      "ffmpeg_path",
	"log-level":        "log_level",
	"json":             "log_json",
	"no-progress":      "no_progress",
}

func Defaults() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            5555,
		Model:           "medium",
		Backend:         BackendServer,
		Device:          "auto",
		AutoDownload:    true,
		LoadTimeout:     5 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

func Load(opts Options) (Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// FFMPEG_PATH is the conventional name and is honored unprefixed.
	if err := v.BindEnv("ffmpeg_path", EnvPrefix+"_FFMPEG_PATH", "FFMPEG_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind FFMPEG_PATH: %w", err)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Backend != BackendServer && c.Backend != BackendCLI {
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s|%s)", c.Backend, BackendServer, BackendCLI))
	}

	normalized, err := device.ParseOverride(c.Device)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Device = normalized
	}

	if c.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("load_timeout must be positive, got %s", c.LoadTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("model", d.Model)
	v.SetDefault("model_dir", d.ModelDir)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("device", d.Device)
	v.SetDefault("auto_download", d.AutoDownload)
	v.SetDefault("load_timeout", d.LoadTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("whisper_server", d.WhisperServer)
	v.SetDefault("whisper_cli", d.WhisperCLI)
	v.SetDefault("ffmpeg_path", d.FFmpegPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("no_progress", d.NoProgress)
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}

	if _, err := os.Stat(defaultEnvFile); err == nil {
		if err := godotenv.Load(defaultEnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", defaultEnvFile, err)
		}
	}
	return nil
}
