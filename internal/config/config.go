package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration. Precedence, lowest to highest:
// flag defaults, TOML config file, environment variables.
type Config struct {
	Port    int    `toml:"port"`
	DBPath  string `toml:"db_path"`
	WorkDir string `toml:"work_dir"`

	StoreUploadURL string `toml:"store_upload_url"`
	WebhookURL     string `toml:"webhook_url"`

	ScalePercent int `toml:"scale_percent"`
	Quality      int `toml:"quality"`

	ImageConcurrency int           `toml:"image_concurrency"`
	MaxRetries       int           `toml:"max_retries"`
	StageTimeout     time.Duration `toml:"-"`
	JobDeadline      time.Duration `toml:"-"`
	MaxUploadMB      int64         `toml:"max_upload_mb"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "imagebatch", "jobs.db")
}

// DefaultWorkDir returns the default directory for per-image temporaries.
func DefaultWorkDir() string {
	return filepath.Join(os.TempDir(), "imagebatch")
}

// Load parses flags, an optional TOML file and environment to build Config.
func Load() *Config {
	cfg := &Config{}
	var configFile string

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", DefaultDBPath(), "SQLite database path")
	flag.StringVar(&cfg.WorkDir, "work-dir", DefaultWorkDir(), "Directory for image temporaries")
	flag.StringVar(&cfg.StoreUploadURL, "store-url", "", "Image store upload endpoint")
	flag.StringVar(&cfg.WebhookURL, "webhook-url", "", "Outbound webhook endpoint (empty disables)")
	flag.IntVar(&cfg.ScalePercent, "scale", 50, "Resize percentage of original dimensions")
	flag.IntVar(&cfg.Quality, "quality", 50, "JPEG re-encode quality")
	flag.IntVar(&cfg.ImageConcurrency, "image-concurrency", 4, "Concurrent image transforms per row")
	flag.IntVar(&cfg.MaxRetries, "max-retries", 2, "Retries per image on transient failure")
	flag.DurationVar(&cfg.StageTimeout, "stage-timeout", 30*time.Second, "Timeout per transform stage")
	flag.DurationVar(&cfg.JobDeadline, "job-deadline", 30*time.Minute, "Overall deadline per job")
	flag.Int64Var(&cfg.MaxUploadMB, "max-upload-mb", 10, "Maximum batch upload size in MB")
	flag.StringVar(&configFile, "config", "", "TOML config file path")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("IMAGEBATCH_CONFIG")
	}
	if configFile != "" {
		// Missing file is not fatal; a broken file is.
		if _, err := os.Stat(configFile); err == nil {
			if _, err := toml.DecodeFile(configFile, cfg); err != nil {
				panic("config: " + err.Error())
			}
		}
	}

	// Env overrides
	if port := os.Getenv("IMAGEBATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if db := os.Getenv("IMAGEBATCH_DB"); db != "" {
		cfg.DBPath = db
	}
	if dir := os.Getenv("IMAGEBATCH_WORK_DIR"); dir != "" {
		cfg.WorkDir = dir
	}
	if u := os.Getenv("IMAGEBATCH_STORE_URL"); u != "" {
		cfg.StoreUploadURL = u
	}
	if u := os.Getenv("IMAGEBATCH_WEBHOOK_URL"); u != "" {
		cfg.WebhookURL = u
	}

	return cfg
}
