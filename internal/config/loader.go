package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".bizcrawl"

// Environment variables read by ApplyEnv.
const (
	EnvProxyURL      = "BIZCRAWL_PROXY_URL"
	EnvProxyCountry  = "BIZCRAWL_PROXY_COUNTRY"
	EnvCookie        = "BIZCRAWL_COOKIE"
	EnvRedisAddr     = "BIZCRAWL_REDIS_ADDR"
	EnvRedisPassword = "BIZCRAWL_REDIS_PASSWORD"
	EnvRedisDB       = "BIZCRAWL_REDIS_DB"
	EnvStorage       = "BIZCRAWL_STORAGE"
	EnvDBDir         = "BIZCRAWL_DB_DIR"
)

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .bizcrawl in the current directory
// 3. Look for .bizcrawl in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays the BIZCRAWL_* variables found through lookup.
// Secrets such as the proxy URL and the Redis password are only read here.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvProxyURL); ok {
		c.ProxyURL = v
	}
	if v, ok := get(EnvProxyCountry); ok {
		c.ProxyCountryCode = v
	}
	if v, ok := get(EnvCookie); ok {
		c.Navigation.Cookie = v
	}
	if v, ok := get(EnvRedisAddr); ok {
		c.RedisAddr = v
	}
	if v, ok := get(EnvRedisPassword); ok {
		c.RedisPassword = v
	}
	if v, ok := get(EnvRedisDB); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return &EnvError{Key: EnvRedisDB, Err: err}
		}
		c.RedisDB = db
	}
	if v, ok := get(EnvStorage); ok {
		c.StorageDriver = v
	}
	if v, ok := get(EnvDBDir); ok {
		c.DBDir = v
	}
	return nil
}

// EnvError reports an environment variable that could not be parsed.
type EnvError struct {
	Key string
	Err error
}

// Error implements error.
func (e *EnvError) Error() string {
	return "invalid " + e.Key + ": " + e.Err.Error()
}

// Unwrap returns the parse error.
func (e *EnvError) Unwrap() error {
	return e.Err
}
