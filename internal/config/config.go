package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	DefaultMetadataPath    = "Metadata.xml"
	DefaultMetadataURL     = "https://gamesdb.launchbox-app.com/Metadata.zip"
	DefaultArtworkBaseURL  = "https://images.launchbox-app.com"
	DefaultMarqueeMaxWidth = 400
	DefaultConcurrency     = 4
	DefaultRatePerSecond   = 8
	DefaultTimeoutSecond   = 60
	DefaultLogFile         = "logs/romscraper.log"
	DefaultLogLevel        = "info"
	DefaultMatchThreshold  = 0.70
)

// Config describes the application level configuration loaded from json.
type Config struct {
	Metadata   MetadataConfig    `json:"metadata"`
	S3         S3Config          `json:"s3"`
	Artwork    ArtworkConfig     `json:"artwork"`
	Platforms  map[string]string `json:"platforms"`
	Extensions []string          `json:"extensions"`
	// ArcadeDats lists MAME or FinalBurn Neo DAT files used to resolve
	// arcade ROM set names such as sf2.zip.
	ArcadeDats []string          `json:"arcade_dats"`

	// MatchThreshold is the similarity a fuzzy match must exceed.
	MatchThreshold float64 `json:"match_threshold"`

	Log LogConfig `json:"log"`
}

// MetadataConfig locates the LaunchBox database.
type MetadataConfig struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Timeout int    `json:"timeout"`
}

// S3Config holds the options for accessing the object store.
type S3Config struct {
	Host            string `json:"host"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

// ArtworkConfig controls image downloads.
type ArtworkConfig struct {
	Enabled *bool  `json:"enabled"`
	BaseURL string `json:"base_url"`
	// Mirror is an s3://bucket/prefix location used instead of BaseURL.
	Mirror          string  `json:"mirror"`
	Concurrency     int     `json:"concurrency"`
	RatePerSecond   float64 `json:"rate_per_second"`
	MarqueeMaxWidth int     `json:"marquee_max_width"`
	Timeout         int     `json:"timeout"`
}

// IsEnabled reports whether artwork should be downloaded. Defaults to true.
func (a ArtworkConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LogConfig is passed to logger.Init.
type LogConfig struct {
	File      string `json:"file"`
	Level     string `json:"level"`
	FileCount int    `json:"file_count"`
	FileSize  int    `json:"file_size"`
	KeepDays  int    `json:"keep_days"`
	Console   *bool  `json:"console"`
}

// WithConsole reports whether logs are mirrored to the console. Defaults to true.
func (l LogConfig) WithConsole() bool {
	return l.Console == nil || *l.Console
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFirst tries to load configuration from the given paths, returning the
// first successfully decoded configuration and its path. If none of the paths
// contain a readable config, an error wrapping os.ErrNotExist is returned.
func LoadFirst(paths ...string) (*Config, string, error) {
	var lastErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("config not found in paths %v: %w", paths, os.ErrNotExist)
	}
	return nil, "", lastErr
}

// Load reads configuration from a single json file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Metadata.Path) == "" {
		c.Metadata.Path = DefaultMetadataPath
	}
	if strings.TrimSpace(c.Metadata.URL) == "" {
		c.Metadata.URL = DefaultMetadataURL
	}
	if c.Metadata.Timeout <= 0 {
		c.Metadata.Timeout = 10 * DefaultTimeoutSecond
	}
	if strings.TrimSpace(c.Artwork.BaseURL) == "" {
		c.Artwork.BaseURL = DefaultArtworkBaseURL
	}
	if c.Artwork.Concurrency <= 0 {
		c.Artwork.Concurrency = DefaultConcurrency
	}
	if c.Artwork.RatePerSecond == 0 {
		c.Artwork.RatePerSecond = DefaultRatePerSecond
	}
	if c.Artwork.MarqueeMaxWidth == 0 {
		c.Artwork.MarqueeMaxWidth = DefaultMarqueeMaxWidth
	}
	if c.Artwork.Timeout <= 0 {
		c.Artwork.Timeout = DefaultTimeoutSecond
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = DefaultMatchThreshold
	}
	if c.Log.File == "" {
		c.Log.File = DefaultLogFile
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate performs basic validation of the configuration.
func (c *Config) Validate() error {
	if c.Artwork.RatePerSecond < 0 {
		return errors.New("config.artwork.rate_per_second must not be negative")
	}
	if c.Artwork.MarqueeMaxWidth < 0 {
		return errors.New("config.artwork.marquee_max_width must not be negative")
	}
	if c.Artwork.Mirror != "" && !strings.HasPrefix(c.Artwork.Mirror, "s3://") {
		return errors.New("config.artwork.mirror must be an s3:// location")
	}
	if c.Artwork.Mirror != "" && c.S3.Host == "" {
		return errors.New("config.s3.host must be set when artwork.mirror is used")
	}
	if strings.HasPrefix(c.Metadata.URL, "s3://") && c.S3.Host == "" {
		return errors.New("config.s3.host must be set when metadata.url is an s3:// location")
	}
	for folder, label := range c.Platforms {
		if strings.TrimSpace(folder) == "" || strings.TrimSpace(label) == "" {
			return fmt.Errorf("config.platforms entry %q -> %q must not be blank", folder, label)
		}
	}
	if c.MatchThreshold < 0 || c.MatchThreshold >= 1 {
		return errors.New("config.match_threshold must be in [0, 1)")
	}
	for _, p := range c.ArcadeDats {
		if strings.TrimSpace(p) == "" {
			return errors.New("config.arcade_dats entry must not be blank")
		}
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(strings.TrimSpace(ext), ".") {
			return fmt.Errorf("config.extensions entry %q must start with a dot", ext)
		}
	}
	return nil
}
