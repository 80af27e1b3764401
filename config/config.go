package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "SITEBUILD_"

// Config represents the build configuration
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Avatar      AvatarConfig      `yaml:"avatar"`
	Fonts       []FontConfig      `yaml:"fonts"`
	Compression CompressionConfig `yaml:"compression"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Log         LogConfig         `yaml:"log"`
}

type SiteConfig struct {
	OutputDir string `yaml:"output_dir"`
	Document  string `yaml:"document"`
	URL       string `yaml:"url"`
}

type AvatarConfig struct {
	URL     string `yaml:"url"`
	Dir     string `yaml:"dir"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
}

// FontConfig is one required font file copied into the output tree
type FontConfig struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

type CompressionConfig struct {
	Enabled     *bool          `yaml:"enabled"`
	Algorithms  []string       `yaml:"algorithms"`
	Levels      map[string]int `yaml:"levels"`
	Files       []string       `yaml:"files"`
	Concurrency int            `yaml:"concurrency"`
}

type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRedirects int           `yaml:"max_redirects"`
	MaxBytes     int64         `yaml:"max_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default compression levels, one per known algorithm
var DefaultLevels = map[string]int{
	"brotli": 11,
	"gzip":   9,
	"zstd":   3,
	"lz4":    9,
	"snappy": 0,
}

// DefaultAlgorithms is the configured set when the file names none
var DefaultAlgorithms = []string{"brotli", "gzip", "zstd"}

// DefaultFiles is the artifact list pre-compressed after the build
var DefaultFiles = []string{
	"index.html",
	"404.html",
	"sitemap.xml",
	"robots.txt",
	"site.webmanifest",
}

// Default returns a config with every optional field populated
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Site.OutputDir == "" {
		c.Site.OutputDir = "dist"
	}
	if c.Site.Document == "" {
		c.Site.Document = "index.html"
	}
	if c.Avatar.Dir == "" {
		c.Avatar.Dir = "img"
	}
	if c.Avatar.Name == "" {
		c.Avatar.Name = "avatar"
	}
	if len(c.Compression.Algorithms) == 0 {
		c.Compression.Algorithms = append([]string(nil), DefaultAlgorithms...)
	}
	if len(c.Compression.Files) == 0 {
		c.Compression.Files = append([]string(nil), DefaultFiles...)
	}
	levels := make(map[string]int, len(DefaultLevels))
	for algo, level := range DefaultLevels {
		levels[algo] = level
	}
	for algo, level := range c.Compression.Levels {
		levels[strings.ToLower(algo)] = level
	}
	c.Compression.Levels = levels
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxRedirects <= 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "sitebuild/1.0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if required configuration fields are set
func (c *Config) Validate() error {
	if c.Site.OutputDir == "" {
		return fmt.Errorf("site.output_dir is required")
	}
	if c.AvatarEnabled() && c.Avatar.URL == "" {
		return fmt.Errorf("avatar.url is required unless avatar.enabled is false")
	}
	if c.Avatar.URL != "" && !strings.HasPrefix(c.Avatar.URL, "http://") && !strings.HasPrefix(c.Avatar.URL, "https://") {
		return fmt.Errorf("avatar.url must be an http(s) URL, got %q", c.Avatar.URL)
	}
	for i, font := range c.Fonts {
		if font.Src == "" || font.Dst == "" {
			return fmt.Errorf("fonts[%d]: src and dst are required", i)
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// AvatarEnabled reports whether the avatar pipeline should run
func (c *Config) AvatarEnabled() bool {
	return c.Avatar.Enabled == nil || *c.Avatar.Enabled
}

// CompressionEnabled reports whether the compression stage should run
func (c *Config) CompressionEnabled() bool {
	return c.Compression.Enabled == nil || *c.Compression.Enabled
}

// DocumentPath returns the full path to the markup document
func (c *Config) DocumentPath() string {
	return filepath.Join(c.Site.OutputDir, c.Site.Document)
}

// AvatarDir returns the directory the avatar assets are written to
func (c *Config) AvatarDir() string {
	return filepath.Join(c.Site.OutputDir, c.Avatar.Dir)
}

// LoadEnv loads a .env file into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides compression levels from SITEBUILD_<ALGO>_LEVEL.
// Invalid values are reported and ignored.
func (c *Config) ApplyEnv(log *logrus.Entry) {
	for algo := range DefaultLevels {
		key := EnvPrefix + strings.ToUpper(algo) + "_LEVEL"
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			log.WithFields(logrus.Fields{"env": key, "value": raw}).Warn("Ignoring invalid compression level override")
			continue
		}
		c.Compression.Levels[algo] = level
	}
}

// NewLogger builds the root logger from the log section
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
