// Package config loads the qnetctl configuration: a toml file with
// QNETCTL_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Controller identifies the device and its credentials.
type Controller struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	KeepaliveSeconds int    `toml:"keepalive_seconds"`
}

// Database configures the XML catalog loader.
type Database struct {
	// URL of the DbXmlInfo.xml export. Empty derives it from the
	// controller host.
	URL       string `toml:"url"`
	CachePath string `toml:"cache_path"`
	CacheOnly bool   `toml:"cache_only"`
}

// Filter is one name-normalization rule applied to catalog entities.
type Filter struct {
	Name string   `toml:"name"`
	Args []string `toml:"args"`
}

// Config is the full file shape.
type Config struct {
	Controller Controller          `toml:"controller"`
	Database   Database            `toml:"database"`
	Filters    []Filter            `toml:"filters"`
	Synonyms   map[string][]string `toml:"synonyms"`
	TypeMap    map[string]string   `toml:"type_map"`
}

// Load reads path (optional; empty means defaults only), applies
// environment overrides, fills defaults and validates.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QNETCTL_HOST"); v != "" {
		c.Controller.Host = v
	}
	if v := os.Getenv("QNETCTL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.Port = n
		}
	}
	if v := os.Getenv("QNETCTL_USERNAME"); v != "" {
		c.Controller.Username = v
	}
	if v := os.Getenv("QNETCTL_PASSWORD"); v != "" {
		c.Controller.Password = v
	}
	if v := os.Getenv("QNETCTL_DB_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("QNETCTL_DB_CACHE"); v != "" {
		c.Database.CachePath = v
	}
	if v := os.Getenv("QNETCTL_DB_CACHE_ONLY"); v != "" {
		c.Database.CacheOnly = parseBool(v)
	}
}

func (c Config) WithDefaults() Config {
	if c.Controller.Port == 0 {
		c.Controller.Port = 23
	}
	if c.Controller.KeepaliveSeconds <= 0 {
		c.Controller.KeepaliveSeconds = 60
	}
	if c.Database.URL == "" && c.Controller.Host != "" {
		c.Database.URL = "http://" + c.Controller.Host + "/DbXmlInfo.xml"
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Controller.Host) == "" {
		return fmt.Errorf("%w: controller host is required", ErrInvalidConfig)
	}
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		return fmt.Errorf("%w: controller port %d out of range", ErrInvalidConfig, c.Controller.Port)
	}
	if strings.TrimSpace(c.Controller.Username) == "" {
		return fmt.Errorf("%w: controller username is required", ErrInvalidConfig)
	}
	for i, f := range c.Filters {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: filters[%d] missing name", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Keepalive returns the heartbeat interval as a duration.
func (c Config) Keepalive() time.Duration {
	return time.Duration(c.Controller.KeepaliveSeconds) * time.Second
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
