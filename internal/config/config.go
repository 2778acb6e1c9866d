package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a Go duration string ("5s") in the config file
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `json:"port"`
		StaticDir string `json:"static_dir"`
		Debug     bool   `json:"debug"`
		LogMode   string `json:"log_mode"` // "dev" or "prod"
	} `json:"server"`

	Store struct {
		Type          string `json:"type"` // "sqlite" or "redis"
		Path          string `json:"path"`
		RedisAddr     string `json:"redis_addr"`
		RedisPassword string `json:"redis_password"`
		RedisDB       int    `json:"redis_db"`
		RedisPrefix   string `json:"redis_prefix"`
	} `json:"store"`

	OpenFoodFacts struct {
		BaseURL   string   `json:"base_url"`
		UserAgent string   `json:"user_agent"`
		Timeout   Duration `json:"timeout"`
	} `json:"openfoodfacts"`

	Resolver struct {
		NetworkTimeout     Duration `json:"network_timeout"`
		BackfillTimeout    Duration `json:"backfill_timeout"`
		DefaultSearchCount int      `json:"default_search_count"`
	} `json:"resolver"`

	Scan struct {
		Threshold int `json:"threshold"`
	} `json:"scan"`

	ML struct {
		Type       string `json:"type"` // "none" or "google"
		ConfigPath string `json:"config_path"`
	} `json:"ml"`
}

// LoadEnv loads .env, plus .env.local when APP_ENV is "local". Variables already set win.
func LoadEnv() {
	if strings.EqualFold(os.Getenv("APP_ENV"), "local") {
		_ = godotenv.Load(".env.local")
	}
	_ = godotenv.Load()
}

// LoadConfig loads configuration from a JSON file, then applies environment overrides.
// A missing file is not an error when the environment provides the required values.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.LogMode, "LOG_MODE")
	setString(&c.Store.Type, "STORE_TYPE")
	setString(&c.Store.Path, "DATABASE_PATH")
	setString(&c.Store.RedisAddr, "REDIS_ADDR")
	setString(&c.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&c.OpenFoodFacts.BaseURL, "OFF_BASE_URL")
	setString(&c.ML.Type, "ML_TYPE")
	if v := strings.TrimSpace(os.Getenv("SCAN_THRESHOLD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SCAN_THRESHOLD %q: %w", v, err)
		}
		c.Scan.Threshold = n
	}
	if v := strings.TrimSpace(os.Getenv("DEBUG")); v != "" {
		c.Server.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./static"
	}
	if c.Server.LogMode == "" {
		c.Server.LogMode = "dev"
	}
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "plateswipe.db"
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = "plateswipe"
	}
	if c.OpenFoodFacts.Timeout == 0 {
		c.OpenFoodFacts.Timeout = Duration(15 * time.Second)
	}
	if c.Resolver.NetworkTimeout == 0 {
		c.Resolver.NetworkTimeout = Duration(10 * time.Second)
	}
	if c.Resolver.BackfillTimeout == 0 {
		c.Resolver.BackfillTimeout = Duration(10 * time.Second)
	}
	if c.Resolver.DefaultSearchCount == 0 {
		c.Resolver.DefaultSearchCount = 10
	}
	if c.Scan.Threshold == 0 {
		c.Scan.Threshold = 3
	}
	if c.ML.Type == "" {
		c.ML.Type = "none"
	}
}

// Validate checks the values that have no sensible default
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set in config file or PORT")
	}
	switch c.Store.Type {
	case "sqlite":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store type redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}
	if c.Scan.Threshold < 1 {
		return fmt.Errorf("scan threshold must be at least 1, got %d", c.Scan.Threshold)
	}
	if c.Resolver.DefaultSearchCount < 1 {
		return fmt.Errorf("default search count must be at least 1, got %d", c.Resolver.DefaultSearchCount)
	}
	switch c.ML.Type {
	case "none", "google":
	default:
		return fmt.Errorf("unsupported ml type: %s", c.ML.Type)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("PLATESWIPE_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}
