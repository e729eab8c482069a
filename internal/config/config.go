package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutout-cli/cutout/pkg/cloud"
	"github.com/cutout-cli/cutout/pkg/compress"
	"github.com/cutout-cli/cutout/pkg/desktop"
	"github.com/cutout-cli/cutout/pkg/pipeline"
	"github.com/cutout-cli/cutout/pkg/security"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Image host account
	CloudName    string `mapstructure:"cloud-name"`
	UploadPreset string `mapstructure:"upload-preset"`

	// Files and directories
	OutputDir  string `mapstructure:"output-dir"`
	LogFile    string `mapstructure:"log-file"`
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	TempDir    string `mapstructure:"temp-dir"`

	// Size limits
	SoftLimit    int64 `mapstructure:"soft-limit"`
	HardLimit    int64 `mapstructure:"hard-limit"`
	MaxDimension int   `mapstructure:"max-dimension"`

	// Network timeouts
	UploadTimeout    time.Duration `mapstructure:"upload-timeout"`
	TransferTimeout  time.Duration `mapstructure:"transfer-timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect-timeout"`
	TransformTimeout time.Duration `mapstructure:"transform-timeout"`

	// Collaborators
	Resizer    string `mapstructure:"resizer"`
	MIMEProber string `mapstructure:"mime-prober"`

	// Image host endpoints
	APIBaseURL      string `mapstructure:"api-base-url"`
	DeliveryBaseURL string `mapstructure:"delivery-base-url"`

	// S3 sources
	S3Region   string `mapstructure:"s3-region"`
	S3Endpoint string `mapstructure:"s3-endpoint"`

	OpenResult bool `mapstructure:"open-result"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cloud-name", "")
	v.SetDefault("upload-preset", "")
	v.SetDefault("output-dir", pipeline.DefaultOutputDir)
	v.SetDefault("log-file", "~/cutout-upload-debug.log")
	v.SetDefault("sqlite-path", "~/.cutout/cutout.db")
	v.SetDefault("fsm-db-path", "~/.cutout/fsm")
	v.SetDefault("temp-dir", os.TempDir())
	v.SetDefault("soft-limit", compress.DefaultSoftLimit)
	v.SetDefault("hard-limit", security.DefaultHardLimit)
	v.SetDefault("max-dimension", compress.DefaultMaxDimension)
	v.SetDefault("upload-timeout", cloud.DefaultUploadTimeout)
	v.SetDefault("transfer-timeout", cloud.DefaultTransferTimeout)
	v.SetDefault("connect-timeout", cloud.DefaultConnectTimeout)
	v.SetDefault("transform-timeout", cloud.DefaultTransformTimeout)
	v.SetDefault("resizer", compress.ResizerAuto)
	v.SetDefault("mime-prober", desktop.ProberAuto)
	v.SetDefault("api-base-url", cloud.DefaultAPIBaseURL)
	v.SetDefault("delivery-base-url", cloud.DefaultDeliveryBaseURL)
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("s3-endpoint", "")
	v.SetDefault("open-result", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}

// Load reads configuration from .env, environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration through v. Flags bound to v take precedence
// over the environment, which takes precedence over the config file.
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv_load_failed", "error", err)
	}

	SetDefaults(v)

	// Environment variables (will be CUTOUT_CLOUD_NAME, etc.)
	v.SetEnvPrefix("CUTOUT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.cutout")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.LogFile = ExpandPath(cfg.LogFile)
	cfg.SQLitePath = ExpandPath(cfg.SQLitePath)
	cfg.FSMDBPath = ExpandPath(cfg.FSMDBPath)
	cfg.TempDir = ExpandPath(cfg.TempDir)

	return &cfg, nil
}

// Validate checks configuration for errors. Missing image host credentials
// are reported by the upload itself, so commands that never upload still
// work without them.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output-dir cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.SoftLimit <= 0 {
		return fmt.Errorf("soft-limit must be positive")
	}
	if c.HardLimit <= 0 {
		return fmt.Errorf("hard-limit must be positive")
	}
	if c.SoftLimit > c.HardLimit {
		return fmt.Errorf("soft-limit (%d) cannot exceed hard-limit (%d)", c.SoftLimit, c.HardLimit)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("max-dimension must be positive")
	}
	for name, d := range map[string]time.Duration{
		"upload-timeout":    c.UploadTimeout,
		"transfer-timeout":  c.TransferTimeout,
		"connect-timeout":   c.ConnectTimeout,
		"transform-timeout": c.TransformTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch c.Resizer {
	case compress.ResizerAuto, compress.ResizerSips, compress.ResizerImaging:
	default:
		return fmt.Errorf("unknown resizer %q (want auto, sips or imaging)", c.Resizer)
	}
	switch c.MIMEProber {
	case desktop.ProberAuto, desktop.ProberFile, desktop.ProberSniff:
	default:
		return fmt.Errorf("unknown mime-prober %q (want auto, file or sniff)", c.MIMEProber)
	}
	return nil
}

// CloudConfig returns the image host settings
func (c *Config) CloudConfig() cloud.Config {
	return cloud.Config{
		CloudName:        c.CloudName,
		UploadPreset:     c.UploadPreset,
		APIBaseURL:       c.APIBaseURL,
		DeliveryBaseURL:  c.DeliveryBaseURL,
		UploadTimeout:    c.UploadTimeout,
		TransferTimeout:  c.TransferTimeout,
		ConnectTimeout:   c.ConnectTimeout,
		TransformTimeout: c.TransformTimeout,
	}
}

// ExpandPath replaces a leading ~ with the home directory
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
