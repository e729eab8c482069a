package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadIn(t *testing.T, dir string) *Config {
	t.Helper()
	t.Chdir(dir)
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := loadIn(t, t.TempDir())

	if cfg.SoftLimit != 10*1024*1024 {
		t.Errorf("soft-limit = %d", cfg.SoftLimit)
	}
	if cfg.HardLimit != 100*1024*1024 {
		t.Errorf("hard-limit = %d", cfg.HardLimit)
	}
	if cfg.MaxDimension != 2000 {
		t.Errorf("max-dimension = %d", cfg.MaxDimension)
	}
	if cfg.UploadTimeout != 150*time.Second || cfg.TransformTimeout != 120*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.UploadTimeout, cfg.TransformTimeout)
	}
	if cfg.OutputDir != "~/Downloads" {
		t.Errorf("output-dir = %q", cfg.OutputDir)
	}
	if strings.HasPrefix(cfg.LogFile, "~") {
		t.Errorf("log-file not expanded: %q", cfg.LogFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFrom_EnvAndFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "cloud-name: from-file\nupload-preset: preset_file\ntransfer-timeout: 45s\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CUTOUT_CLOUD_NAME", "from-env")
	t.Setenv("CUTOUT_SOFT_LIMIT", "2048")

	cfg := loadIn(t, dir)

	if cfg.CloudName != "from-env" {
		t.Errorf("cloud-name = %q, env should win over file", cfg.CloudName)
	}
	if cfg.UploadPreset != "preset_file" {
		t.Errorf("upload-preset = %q", cfg.UploadPreset)
	}
	if cfg.TransferTimeout != 45*time.Second {
		t.Errorf("transfer-timeout = %v", cfg.TransferTimeout)
	}
	if cfg.SoftLimit != 2048 {
		t.Errorf("soft-limit = %d", cfg.SoftLimit)
	}

	cc := cfg.CloudConfig()
	if cc.CloudName != "from-env" || cc.TransferTimeout != 45*time.Second {
		t.Errorf("cloud config = %+v", cc)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			OutputDir:        "~/Downloads",
			SQLitePath:       "/tmp/c.db",
			FSMDBPath:        "/tmp/fsm",
			SoftLimit:        10,
			HardLimit:        100,
			MaxDimension:     2000,
			UploadTimeout:    time.Second,
			TransferTimeout:  time.Second,
			ConnectTimeout:   time.Second,
			TransformTimeout: time.Second,
			Resizer:          "auto",
			MIMEProber:       "sniff",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty output dir", func(c *Config) { c.OutputDir = " " }, "output-dir"},
		{"zero soft limit", func(c *Config) { c.SoftLimit = 0 }, "soft-limit must be positive"},
		{"soft above hard", func(c *Config) { c.SoftLimit = 200 }, "cannot exceed"},
		{"negative dimension", func(c *Config) { c.MaxDimension = -1 }, "max-dimension"},
		{"zero timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect-timeout"},
		{"unknown resizer", func(c *Config) { c.Resizer = "magick" }, "unknown resizer"},
		{"unknown prober", func(c *Config) { c.MIMEProber = "libmagic" }, "unknown mime-prober"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/~/x"); got != "/abs/~/x" {
		t.Errorf("ExpandPath changed absolute path: %q", got)
	}
}
