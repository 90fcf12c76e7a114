package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHOCOBREW"

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `mapstructure:"port"`
		StaticDir string `mapstructure:"static_dir"`
		BaseURL   string `mapstructure:"base_url"`
		Debug     bool   `mapstructure:"debug"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	ML struct {
		Type      string `mapstructure:"type"` // "local" or "none"
		ModelPath string `mapstructure:"model_path"`
	} `mapstructure:"ml"`

	Auth struct {
		JWTSecret  string        `mapstructure:"jwt_secret"`
		CookieName string        `mapstructure:"cookie_name"`
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"auth"`

	Log struct {
		Env string `mapstructure:"env"` // "production" or "development"
	} `mapstructure:"log"`
}

// LoadConfig loads configuration from a JSON or YAML file, with CHOCOBREW_*
// environment variables taking precedence. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("server.port", "")
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.debug", false)
	v.SetDefault("database.path", "chocobrew.db")
	v.SetDefault("ml.type", "none")
	v.SetDefault("ml.model_path", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cookie_name", "chocobrew_session")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("log.env", "development")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("server port is not set")
	}
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwt_secret is not set")
	}
	if config.Server.BaseURL == "" {
		config.Server.BaseURL = "http://localhost:" + config.Server.Port
	}

	return &config, nil
}

// Origin returns the scheme and host of the public base URL, in the form
// browsers send in the Origin header. It is empty when the URL has no host.
func (c *Config) Origin() string {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
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
