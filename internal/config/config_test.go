package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/logger"
)

const sampleConfig = `
log:
  level: debug
  format: json
  file: /var/log/treewagon/treewagon.log
state_dir: /tmp/treewagon-state
commit_prefix: "[deploy]"
auto_props:
  - pattern: "*.sh"
    properties:
      tree:executable: "*"
mime_types:
  POM: text/xml
  md: text/markdown
repositories:
  - name: releases
    url: tree:https://repo.example.com/repo/releases
    username: deployer
    password: secret
  - name: local
    url: tree:file:///srv/repo/releases
server:
  listen: 0.0.0.0:8642
  repository: /srv/repo
  mount: /repo
  users:
    - name: deployer
      password_hash: $2a$10$abcdefghijklmnopqrstuv
  jwt_secret: 0123456789abcdef0123456789abcdef
  request_timeout: 2m
  metrics: true
`

func TestLoadFromString(t *testing.T) {
	cfg, err := LoadFromString(sampleConfig)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.CommitPrefix != "[deploy]" {
		t.Errorf("CommitPrefix = %q", cfg.CommitPrefix)
	}
	if len(cfg.Repositories) != 2 {
		t.Fatalf("Expected 2 repositories, got %d", len(cfg.Repositories))
	}
	if cfg.Repositories[0].Username != "deployer" || cfg.Repositories[0].Password != "secret" {
		t.Errorf("Credentials not decoded: %+v", cfg.Repositories[0].Credentials)
	}
	if got := cfg.MimeTypes[".pom"]; got != "text/xml" {
		t.Errorf("Expected normalized .pom mime type, got %q", got)
	}
	if got := cfg.MimeTypes[".md"]; got != "text/markdown" {
		t.Errorf("Expected .md mime type, got %q", got)
	}
	if len(cfg.AutoProps) != 1 || cfg.AutoProps[0].Properties["tree:executable"] != "*" {
		t.Errorf("Unexpected auto props: %+v", cfg.AutoProps)
	}
	if cfg.Server.RequestTimeout.Minutes() != 2 {
		t.Errorf("RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if !cfg.Server.Metrics {
		t.Error("Expected metrics enabled")
	}
	if hashes := cfg.Server.UserHashes(); hashes["deployer"] == "" {
		t.Error("Expected deployer hash")
	}

	logCfg := cfg.LoggerConfig()
	if logCfg.Level != logger.LevelDebug || logCfg.Format != logger.FormatJSON {
		t.Errorf("Unexpected logger config: %+v", logCfg)
	}
	if !logCfg.File.Enabled || logCfg.File.MaxSizeMB != 50 {
		t.Errorf("Expected file output with defaults, got %+v", logCfg.File)
	}

	opts := cfg.WagonOptions()
	if opts.CommitPrefix != "[deploy]" || len(opts.AutoProps) != 1 {
		t.Errorf("Unexpected wagon options: %+v", opts)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromString("repositories: []\n")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.CommitPrefix != "[treewagon]" {
		t.Errorf("CommitPrefix = %q", cfg.CommitPrefix)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.StateDir == "" {
		t.Error("Expected a default state dir")
	}
	if len(cfg.LoggerConfig().Outputs) != 1 {
		t.Error("Expected stderr output only")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("TREEWAGON_LOG_LEVEL", "error")
	t.Setenv("TREEWAGON_COMMIT_PREFIX", "[ci]")

	cfg, err := LoadFromString(sampleConfig)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Expected env level, got %q", cfg.Log.Level)
	}
	if cfg.CommitPrefix != "[ci]" {
		t.Errorf("Expected env prefix, got %q", cfg.CommitPrefix)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty repository name", "repositories:\n  - url: tree:mem://x\n"},
		{"missing prefix", "repositories:\n  - name: a\n    url: file:///srv\n"},
		{"duplicate repository", "repositories:\n  - name: a\n    url: tree:mem://x\n  - name: a\n    url: tree:mem://y\n"},
		{"bad pattern", "auto_props:\n  - pattern: \"[\"\n"},
		{"empty pattern", "auto_props:\n  - properties: {a: b}\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"plain password", "server:\n  users:\n    - name: a\n      password_hash: secret\n"},
		{"api mount", "server:\n  mount: /!api\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.yaml)
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Repositories) != 2 {
		t.Errorf("Expected 2 repositories, got %d", len(cfg.Repositories))
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestGetRepository(t *testing.T) {
	cfg, err := LoadFromString(sampleConfig)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	repo, err := cfg.GetRepository("local")
	if err != nil {
		t.Fatalf("Failed to get repository: %v", err)
	}
	if repo.URL != "tree:file:///srv/repo/releases" {
		t.Errorf("Unexpected url: %s", repo.URL)
	}

	if _, err := cfg.GetRepository("nope"); !errors.Is(err, domain.ErrRepositoryNotFound) {
		t.Errorf("Expected ErrRepositoryNotFound, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("TREEWAGON_TEST_DIR", "/opt/tw")

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/repo", filepath.Join(home, "repo")},
		{"$TREEWAGON_TEST_DIR/state", "/opt/tw/state"},
		{"/srv//repo/", "/srv/repo"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
