// Package config loads the application configuration and user preferences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gcp-tagger/internal/detect"
	"gcp-tagger/pkg/geometry"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"
)

// AppName names the per-user configuration directory.
const AppName = "gcp-tagger"

// Config holds the application configuration.
type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Storage  StorageConfig  `yaml:"storage"`
}

// DetectorConfig controls marker detection.
type DetectorConfig struct {
	ClassifierDir string   `yaml:"classifier_dir"`
	Classifiers   []string `yaml:"classifiers"` // Priority order, most specific first
	ScaleFactor   float64  `yaml:"scale_factor"`
	MinNeighbors  int      `yaml:"min_neighbors"`
	MinSize       int      `yaml:"min_size"`
	MaxSize       int      `yaml:"max_size"` // 0 disables the cap
}

// StorageConfig selects the project backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // "json" or "sqlite"
	LogLevel string `yaml:"log_level"`
}

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Default returns a configuration with default values.
func Default() *Config {
	p := detect.DefaultParams()
	return &Config{
		Detector: DetectorConfig{
			ClassifierDir: defaultClassifierDir(),
			Classifiers:   detect.DefaultClassifiers(),
			ScaleFactor:   p.ScaleFactor,
			MinNeighbors:  p.MinNeighbors,
			MinSize:       p.MinSize.Width,
			MaxSize:       p.MaxSize.Width,
		},
		Storage: StorageConfig{
			Backend:  BackendJSON,
			LogLevel: "silent",
		},
	}
}

// Dir returns the per-user configuration directory.
func Dir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, AppName)
}

// DefaultPath returns the location of config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// defaultClassifierDir prefers share/haarcascades next to the executable.
func defaultClassifierDir() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Join(filepath.Dir(exe), "..", "share", AppName, "haarcascades")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return filepath.Join(Dir(), "haarcascades")
}

// Load reads the configuration from a YAML file. Missing keys keep their
// defaults; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	d := c.Detector
	if len(d.Classifiers) == 0 {
		return fmt.Errorf("detector.classifiers must name at least one classifier")
	}
	for i, id := range d.Classifiers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("detector.classifiers[%d] is empty", i)
		}
	}
	if d.ScaleFactor <= 1 {
		return fmt.Errorf("detector.scale_factor must be greater than 1, got %v", d.ScaleFactor)
	}
	if d.MinNeighbors < 0 {
		return fmt.Errorf("detector.min_neighbors must not be negative")
	}
	if d.MinSize < 0 || d.MaxSize < 0 {
		return fmt.Errorf("detector sizes must not be negative")
	}
	if d.MaxSize != 0 && d.MaxSize < d.MinSize {
		return fmt.Errorf("detector.max_size %d is below min_size %d", d.MaxSize, d.MinSize)
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := ParseLogLevel(c.Storage.LogLevel); err != nil {
		return err
	}
	return nil
}

// Params returns the detection parameters.
func (d DetectorConfig) Params() detect.Params {
	return detect.Params{
		ScaleFactor:  d.ScaleFactor,
		MinNeighbors: d.MinNeighbors,
		MinSize:      geometry.Size{Width: d.MinSize, Height: d.MinSize},
		MaxSize:      geometry.Size{Width: d.MaxSize, Height: d.MaxSize},
	}
}

// ParseLogLevel maps a level name to a GORM log level.
func ParseLogLevel(name string) (logger.LogLevel, error) {
	switch strings.ToLower(name) {
	case "", "silent":
		return logger.Silent, nil
	case "error":
		return logger.Error, nil
	case "warn":
		return logger.Warn, nil
	case "info":
		return logger.Info, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
