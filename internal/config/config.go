package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Download   DownloadConfig `yaml:"download"`
	Search     SearchConfig   `yaml:"search"`
	Stats      StatsConfig    `yaml:"stats"`
	Sources    SourcesConfig  `yaml:"sources"`
	Categories []Category     `yaml:"categories"`
}

// DownloadConfig holds asset transfer settings
type DownloadConfig struct {
	Dir        string        `yaml:"dir"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	UserAgent  string        `yaml:"user_agent"`
	FFprobe    string        `yaml:"ffprobe"`
}

// SearchConfig holds settings for upstream search and autocomplete calls
type SearchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// StatsConfig selects where download statistics are persisted
type StatsConfig struct {
	Backend string `yaml:"backend"` // "json" or "sqlite"
	Path    string `yaml:"path"`
	DBPath  string `yaml:"db_path"`
}

// SourcesConfig holds per-source settings
type SourcesConfig struct {
	Default string        `yaml:"default"`
	Booru   BooruConfig   `yaml:"booru"`
	Nekobot NekobotConfig `yaml:"nekobot"`
}

// BooruConfig is the config for the dapi-style booru source
type BooruConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	AutocompleteURL    string `yaml:"autocomplete_url"`
	UserID             string `yaml:"user_id"`
	APIKey             string `yaml:"api_key"`
	RequireCredentials bool   `yaml:"require_credentials"`
	Limit              int    `yaml:"limit"`
	VideoLimit         int    `yaml:"video_limit"`
}

// NekobotConfig is the config for the nekobot image API source
type NekobotConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// Category is a named, predefined tag set offered by the CLI
type Category struct {
	ID   int      `yaml:"id"`
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// CustomCategory is the label recorded for free-form tag searches.
const CustomCategory = "Custom"

// DefaultCategories returns the built-in category catalog
func DefaultCategories() []Category {
	return []Category{
		{ID: 1, Name: "Anime", Tags: []string{"anime", "1girl", "solo"}},
		{ID: 2, Name: "Manga", Tags: []string{"manga", "monochrome"}},
		{ID: 3, Name: "Original", Tags: []string{"original", "artist"}},
		{ID: 4, Name: "Video Games", Tags: []string{"video_games", "game"}},
		{ID: 5, Name: "Western", Tags: []string{"western", "cartoon"}},
		{ID: 6, Name: "Furry", Tags: []string{"furry", "anthro"}},
		{ID: 7, Name: "Misc", Tags: []string{"misc"}},
		{ID: 8, Name: "Hentai", Tags: []string{"hentai", "nsfw"}},
		{ID: 9, Name: "Video", Tags: []string{"video", "animated"}},
	}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			Dir:        "downloads",
			Timeout:    60 * time.Second,
			RetryCount: 2,
			UserAgent:  "mediagrab/1.0",
			FFprobe:    "ffprobe",
		},
		Search: SearchConfig{
			Timeout:       30 * time.Second,
			MaxAttempts:   10,
			RatePerSecond: 2,
			Burst:         4,
		},
		Stats: StatsConfig{
			Backend: "json",
			Path:    "stats.json",
			DBPath:  "stats.db",
		},
		Sources: SourcesConfig{
			Default: "booru",
			Booru: BooruConfig{
				Enabled:            true,
				BaseURL:            "https://api.rule34.xxx/index.php",
				AutocompleteURL:    "https://ac.rule34.xxx/autocomplete.php",
				RequireCredentials: true,
				Limit:              50,
				VideoLimit:         30,
			},
			Nekobot: NekobotConfig{
				Enabled: true,
				BaseURL: "https://nekobot.xyz/api/image",
			},
		},
		Categories: DefaultCategories(),
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	// A file that lists its own categories replaces the built-in catalog.
	cfg.Categories = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mediagrab.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mediagrab", "mediagrab.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// credentialsEnv maps source credentials to environment variables. The
// RULE34_* names are accepted for compatibility with older .env files.
type credentialsEnv struct {
	UserID string `env:"BOORU_USER_ID,RULE34_USER_ID"`
	APIKey string `env:"BOORU_API_KEY,RULE34_API_KEY"`
}

// ApplyEnv overlays credentials from the environment onto cfg. If envFile
// exists it is loaded first; variables already set in the process win.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading env file %s: %w", envFile, err)
			}
		}
	}

	var creds credentialsEnv
	if err := cleanenv.ReadEnv(&creds); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if creds.UserID != "" {
		c.Sources.Booru.UserID = creds.UserID
	}
	if creds.APIKey != "" {
		c.Sources.Booru.APIKey = creds.APIKey
	}
	return nil
}

// FindCategory looks a category up by numeric id or case-insensitive name
func (c *Config) FindCategory(key string) (Category, bool) {
	key = strings.TrimSpace(key)
	if id, err := strconv.Atoi(key); err == nil {
		for _, cat := range c.Categories {
			if cat.ID == id {
				return cat, true
			}
		}
		return Category{}, false
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, key) {
			return cat, true
		}
	}
	return Category{}, false
}

// Validate checks settings that would otherwise fail deep inside a batch
func (c *Config) Validate() error {
	switch c.Stats.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown stats backend %q (want json or sqlite)", c.Stats.Backend)
	}
	if c.Search.MaxAttempts <= 0 {
		return fmt.Errorf("search.max_attempts must be positive, got %d", c.Search.MaxAttempts)
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download.dir is required")
	}
	seen := make(map[int]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if seen[cat.ID] {
			return fmt.Errorf("duplicate category id %d", cat.ID)
		}
		seen[cat.ID] = true
		if strings.EqualFold(cat.Name, CustomCategory) {
			return fmt.Errorf("category name %q is reserved", CustomCategory)
		}
	}
	return nil
}
