package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
	"github.com/Ning0612/Treewagon/internal/wagon"
)

// Config represents the complete configuration for treewagon
type Config struct {
	// Log configures the global logger
	Log LogConfig `mapstructure:"log"`

	// StateDir holds the session journal and upload locks
	StateDir string `mapstructure:"state_dir"`

	// CommitPrefix starts every commit message
	CommitPrefix string `mapstructure:"commit_prefix"`

	// AutoProps attach properties to newly added files
	AutoProps []domain.AutoPropRule `mapstructure:"auto_props"`

	// MimeTypes map extensions to content types; keys may omit the leading
	// dot, which viper would read as a key separator
	MimeTypes map[string]string `mapstructure:"mime_types"`

	// Repositories define named remote repositories
	Repositories []domain.Repository `mapstructure:"repositories"`

	// Server configures "treewagon serve"
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerUser is a user allowed to authenticate with basic credentials
type ServerUser struct {
	Name         string `mapstructure:"name"`
	PasswordHash string `mapstructure:"password_hash"`
}

// ServerConfig configures the HTTP repository server
type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	Repository     string        `mapstructure:"repository"`
	Mount          string        `mapstructure:"mount"`
	Users          []ServerUser  `mapstructure:"users"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	AnonymousRead  bool          `mapstructure:"anonymous_read"`
	Metrics        bool          `mapstructure:"metrics"`
	PIDFile        string        `mapstructure:"pid_file"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxCommitBytes int64         `mapstructure:"max_commit_bytes"`
}

// UserHashes returns the configured users keyed by name
func (s ServerConfig) UserHashes() map[string]string {
	users := make(map[string]string, len(s.Users))
	for _, u := range s.Users {
		users[u.Name] = u.PasswordHash
	}
	return users
}

// ApplyDefaults fills in unset values
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.CommitPrefix == "" {
		c.CommitPrefix = wagon.DefaultCommitPrefix
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	c.StateDir = ExpandPath(c.StateDir)
	if c.Log.File != "" {
		c.Log.File = ExpandPath(c.Log.File)
	}
	if c.Server.Repository != "" {
		c.Server.Repository = ExpandPath(c.Server.Repository)
	}
	if c.Server.PIDFile != "" {
		c.Server.PIDFile = ExpandPath(c.Server.PIDFile)
	}

	// Extensions are matched with their leading dot, lower case
	if len(c.MimeTypes) > 0 {
		normalized := make(map[string]string, len(c.MimeTypes))
		for ext, mime := range c.MimeTypes {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			normalized[ext] = mime
		}
		c.MimeTypes = normalized
	}
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format: %s", domain.ErrConfigInvalid, c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: invalid log level: %s", domain.ErrConfigInvalid, c.Log.Level)
	}

	// Check repository name uniqueness and addresses
	names := make(map[string]bool)
	for _, r := range c.Repositories {
		if r.Name == "" {
			return fmt.Errorf("%w: repository name cannot be empty", domain.ErrConfigInvalid)
		}
		if names[r.Name] {
			return fmt.Errorf("%w: duplicate repository name: %s", domain.ErrConfigInvalid, r.Name)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: repository %s: url must start with %s", err, r.Name, domain.AddressPrefix)
		}
		names[r.Name] = true
	}

	for i, rule := range c.AutoProps {
		if rule.Pattern == "" {
			return fmt.Errorf("%w: auto_props[%d] has no pattern", domain.ErrConfigInvalid, i)
		}
		if _, err := path.Match(rule.Pattern, ""); err != nil {
			return fmt.Errorf("%w: auto_props[%d]: bad pattern %q", domain.ErrConfigInvalid, i, rule.Pattern)
		}
	}

	users := make(map[string]bool)
	for _, u := range c.Server.Users {
		if u.Name == "" {
			return fmt.Errorf("%w: server user name cannot be empty", domain.ErrConfigInvalid)
		}
		if users[u.Name] {
			return fmt.Errorf("%w: duplicate server user: %s", domain.ErrConfigInvalid, u.Name)
		}
		if !strings.HasPrefix(u.PasswordHash, "$2") {
			return fmt.Errorf("%w: server user %s needs a bcrypt password_hash", domain.ErrConfigInvalid, u.Name)
		}
		users[u.Name] = true
	}
	if strings.Contains(c.Server.Mount, "!api") {
		return fmt.Errorf("%w: server mount cannot contain !api", domain.ErrConfigInvalid)
	}
	if c.Server.MaxCommitBytes < 0 || c.Server.RequestTimeout < 0 {
		return fmt.Errorf("%w: server limits cannot be negative", domain.ErrConfigInvalid)
	}

	return nil
}

// GetRepository returns a repository by name
func (c *Config) GetRepository(name string) (*domain.Repository, error) {
	for i := range c.Repositories {
		if c.Repositories[i].Name == name {
			return &c.Repositories[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrRepositoryNotFound, name)
}

// LoggerConfig converts the log section for logger.Init
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level:   logger.ParseLevel(c.Log.Level),
		Format:  logger.ParseFormat(c.Log.Format),
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if c.Log.File != "" {
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		cfg.File = logger.FileConfig{
			Enabled:    true,
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxAgeDays: c.Log.MaxAgeDays,
			MaxBackups: c.Log.MaxBackups,
			Compress:   c.Log.Compress,
		}
	}
	return cfg
}

// WagonOptions returns the wagon settings shared by every connection
func (c *Config) WagonOptions() wagon.Options {
	return wagon.Options{
		CommitPrefix: c.CommitPrefix,
		AutoProps:    c.AutoProps,
		MimeTypes:    c.MimeTypes,
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "treewagon")
	}
	return ".treewagon"
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
