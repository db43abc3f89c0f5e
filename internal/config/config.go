// Package config loads codetree settings from defaults, an optional
// .codetree.{yaml,json,toml} file in the indexed root, CODETREE_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/phobologic/codetree/internal/cache"
	"github.com/phobologic/codetree/internal/discover"
)

// Config is the full set of settings.
type Config struct {
	Include     []string      `mapstructure:"include"`
	Exclude     []string      `mapstructure:"exclude"`
	Languages   []string      `mapstructure:"languages"`
	MaxFileSize int64         `mapstructure:"max_file_size"`
	Debounce    time.Duration `mapstructure:"debounce"`
	Workers     int           `mapstructure:"workers"`

	Cache  CacheConfig  `mapstructure:"cache"`
	Search SearchConfig `mapstructure:"search"`
	Picker PickerConfig `mapstructure:"picker"`
	Model  ModelConfig  `mapstructure:"model"`
	Log    LogConfig    `mapstructure:"log"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // file or bolt
	Path    string `mapstructure:"path"`    // relative to the root unless absolute
}

type SearchConfig struct {
	MaxResults     int     `mapstructure:"max_results"`
	MinScore       float64 `mapstructure:"min_score"`
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
}

type PickerConfig struct {
	MaxFiles     int     `mapstructure:"max_files"`
	MinRelevance float64 `mapstructure:"min_relevance"`
	IncludeTests bool    `mapstructure:"include_tests"`
	UseAI        bool    `mapstructure:"use_ai"`
}

type ModelConfig struct {
	Provider    string        `mapstructure:"provider"` // "" disables the model
	BaseURL     string        `mapstructure:"base_url"`
	Name        string        `mapstructure:"name"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// FileName is the configuration file base name looked up in the root.
const FileName = ".codetree"

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Include:     discover.DefaultInclude,
		Exclude:     discover.DefaultExclude,
		MaxFileSize: discover.DefaultMaxFileSize,
		Debounce:    500 * time.Millisecond,
		Cache: CacheConfig{
			Enabled: true,
			Backend: "file",
			Path:    cache.DefaultPath,
		},
		Search: SearchConfig{
			MaxResults:     50,
			FuzzyThreshold: 0.6,
		},
		Picker: PickerConfig{
			MaxFiles: 10,
		},
		Model: ModelConfig{
			BaseURL:     "http://127.0.0.1:11434",
			MaxTokens:   512,
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("include", d.Include)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("languages", []string{})
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.min_score", d.Search.MinScore)
	v.SetDefault("search.fuzzy_threshold", d.Search.FuzzyThreshold)
	v.SetDefault("picker.max_files", d.Picker.MaxFiles)
	v.SetDefault("picker.min_relevance", d.Picker.MinRelevance)
	v.SetDefault("picker.include_tests", d.Picker.IncludeTests)
	v.SetDefault("picker.use_ai", d.Picker.UseAI)
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.timeout", d.Model.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"include":         "include",
	"exclude":         "exclude",
	"lang":            "languages",
	"workers":         "workers",
	"no-cache":        "cache.enabled",
	"cache-backend":   "cache.backend",
	"max-results":     "search.max_results",
	"min-score":       "search.min_score",
	"fuzzy-threshold": "search.fuzzy_threshold",
	"max-files":       "picker.max_files",
	"min-relevance":   "picker.min_relevance",
	"include-tests":   "picker.include_tests",
	"ai":              "picker.use_ai",
	"model":           "model.name",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// Load reads the configuration for root. file, when set, names the
// configuration file explicitly and must exist; otherwise .codetree.* in
// root is used if present. Flags that the user set override everything.
func Load(root, file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODETREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(root)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if name == "no-cache" {
				v.Set(key, f.Value.String() != "true")
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Search.FuzzyThreshold <= 0 || c.Search.FuzzyThreshold > 1:
		return &Error{Field: "search.fuzzy_threshold", Message: "must be in (0, 1]"}
	case c.Search.MinScore < 0 || c.Search.MinScore > 1:
		return &Error{Field: "search.min_score", Message: "must be in [0, 1]"}
	case c.Picker.MinRelevance < 0 || c.Picker.MinRelevance > 1:
		return &Error{Field: "picker.min_relevance", Message: "must be in [0, 1]"}
	case c.Workers < 0:
		return &Error{Field: "workers", Message: "must not be negative"}
	case c.Debounce < 0:
		return &Error{Field: "debounce", Message: "must not be negative"}
	case c.Cache.Backend != "file" && c.Cache.Backend != "bolt":
		return &Error{Field: "cache.backend", Message: `must be "file" or "bolt"`}
	case c.Log.Format != "text" && c.Log.Format != "json":
		return &Error{Field: "log.format", Message: `must be "text" or "json"`}
	case c.Model.Provider != "" && c.Model.Provider != "ollama":
		return &Error{Field: "model.provider", Message: `must be empty or "ollama"`}
	}
	return nil
}

// CachePath resolves the cache location against root.
func (c *Config) CachePath(root string) string {
	if filepath.IsAbs(c.Cache.Path) {
		return c.Cache.Path
	}
	return filepath.Join(root, filepath.FromSlash(c.Cache.Path))
}

// DiscoverOptions returns the file discovery rules.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{
		Include:     c.Include,
		Exclude:     c.Exclude,
		MaxFileSize: c.MaxFileSize,
		Languages:   c.Languages,
	}
}
