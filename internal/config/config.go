package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Worker     WorkerConfig     `yaml:"worker"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Storage    StorageConfig    `yaml:"storage"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// Styles is the style definitions file.
	Styles string `yaml:"styles"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type WorkerConfig struct {
	Count            int           `yaml:"count"`
	Revalidate       bool          `yaml:"revalidate"`
	TileCacheMaxCost int64         `yaml:"tile_cache_max_cost"`
	TileCacheTTL     time.Duration `yaml:"tile_cache_ttl"`
}

type FetchConfig struct {
	Mode       string        `yaml:"mode"` // local | http | blob
	LocalDir   string        `yaml:"local_dir"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	BucketURL  string        `yaml:"bucket_url"`
	S3Endpoint string        `yaml:"s3_endpoint"`
	S3Region   string        `yaml:"s3_region"`
	Prefix     string        `yaml:"prefix"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // local | blob | none
	LocalDir  string `yaml:"local_dir"`
	BucketURL string `yaml:"bucket_url"`
	Prefix    string `yaml:"prefix"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Namespace   string `yaml:"namespace"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "text", Level: "info"},
		Worker: WorkerConfig{
			Count:            4,
			TileCacheMaxCost: 256 << 20,
		},
		Fetch: FetchConfig{
			Mode:     "local",
			LocalDir: "./data",
			Timeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./out",
			Prefix:   "tiles/",
		},
		Checkpoint: CheckpointConfig{
			Dir: "./checkpoints",
		},
		Catalog: CatalogConfig{
			Namespace: "default",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Styles: "styles.yaml",
	}
}

// Load reads the optional YAML file at path over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the configuration or exits.
func MustLoad(path string) Config {
	log.Println("[config] loading")
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func applyEnv(cfg *Config) error {
	var errs []error

	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)

	if v := os.Getenv("TILE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TILE_WORKERS: %w", err))
		}
		cfg.Worker.Count = n
	}
	if v := os.Getenv("REVALIDATE"); v != "" {
		cfg.Worker.Revalidate = v == "true"
	}
	if v := os.Getenv("TILE_CACHE_MAX_COST"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TILE_CACHE_MAX_COST: %w", err))
		}
		cfg.Worker.TileCacheMaxCost = n
	}

	cfg.Fetch.Mode = getenvDefault("FETCH_MODE", cfg.Fetch.Mode)
	cfg.Fetch.BaseURL = getenvDefault("FETCH_BASE_URL", cfg.Fetch.BaseURL)
	cfg.Fetch.BucketURL = getenvDefault("FETCH_BUCKET_URL", cfg.Fetch.BucketURL)
	cfg.Fetch.LocalDir = getenvDefault("FETCH_LOCAL_DIR", cfg.Fetch.LocalDir)
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FETCH_TIMEOUT: %w", err))
		}
		cfg.Fetch.Timeout = d
	}

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.LocalDir = getenvDefault("STORAGE_DIR", cfg.Storage.LocalDir)
	cfg.Storage.BucketURL = getenvDefault("STORAGE_BUCKET_URL", cfg.Storage.BucketURL)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)

	if v := os.Getenv("CHECKPOINT_ENABLED"); v != "" {
		cfg.Checkpoint.Enabled = v == "true"
	}
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	cfg.Styles = getenvDefault("STYLES_FILE", cfg.Styles)

	return errors.Join(errs...)
}

// Validate checks that the selected backends are fully configured.
func (c Config) Validate() error {
	var errs []error
	if c.Worker.Count < 1 {
		errs = append(errs, fmt.Errorf("worker count must be >= 1, got %d", c.Worker.Count))
	}

	switch c.Fetch.Mode {
	case "local":
		if c.Fetch.LocalDir == "" {
			errs = append(errs, errors.New("fetch.local_dir is required for local mode"))
		}
	case "http":
		if c.Fetch.BaseURL == "" {
			errs = append(errs, errors.New("fetch.base_url is required for http mode"))
		}
	case "blob":
		if c.Fetch.BucketURL == "" {
			errs = append(errs, errors.New("fetch.bucket_url is required for blob mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fetch mode %q", c.Fetch.Mode))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for local backend"))
		}
	case "blob":
		if c.Storage.BucketURL == "" {
			errs = append(errs, errors.New("storage.bucket_url is required for blob backend"))
		}
	case "none", "":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		errs = append(errs, errors.New("checkpoint.dir is required when checkpoints are enabled"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
