package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/Treewagon/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. TREEWAGON_LOG_LEVEL=debug
const EnvPrefix = "TREEWAGON"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "treewagon"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "treewagon"))
		paths = append(paths, filepath.Join(homeDir, ".treewagon"))
	}

	return paths
}

// newViper returns a viper instance with defaults and environment overrides
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper knows about
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("commit_prefix", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.repository", "")
	v.SetDefault("server.mount", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_issuer", "")
	v.SetDefault("server.anonymous_read", false)
	v.SetDefault("server.metrics", false)
	v.SetDefault("server.pid_file", "")
	return v
}

// Load reads and parses a configuration file.
// If path is empty, searches default locations for config.yaml; a missing
// default file yields the default configuration.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		// Use specific file
		v.SetConfigFile(path)
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && path == "":
			// Defaults plus environment
		case errors.As(err, &notFound), os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.ApplyDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
