// Package core holds the tool's local configuration, secrets and run history.
package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "saorsa-deploy"

// StateConfig selects the object store holding deployment documents.
type StateConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// PathStyle addresses objects as endpoint/bucket/key, which most
	// S3-compatible services other than AWS require.
	PathStyle bool `yaml:"path_style"`

	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

type ReleaseConfig struct {
	Repo   string `yaml:"repo"`
	Asset  string `yaml:"asset"`
	APIURL string `yaml:"api_url"`
}

type SSHConfig struct {
	User       string        `yaml:"user"`
	KeyPath    string        `yaml:"key_path"`
	Timeout    time.Duration `yaml:"timeout"`
	KnownHosts string        `yaml:"known_hosts"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Config is the on-disk configuration.
type Config struct {
	State   StateConfig   `yaml:"state"`
	Release ReleaseConfig `yaml:"release"`
	SSH     SSHConfig     `yaml:"ssh"`
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		State: StateConfig{
			Bucket: "saorsa-deploy",
			Prefix: "deployments",
			Region: "us-east-1",
		},
		Release: ReleaseConfig{
			Repo:   "saorsa-labs/saorsa-node",
			Asset:  "saorsa-node-cli-linux-x64.tar.gz",
			APIURL: "https://api.github.com",
		},
		SSH: SSHConfig{
			User:       "root",
			KeyPath:    "~/.ssh/id_rsa",
			Timeout:    30 * time.Second,
			KnownHosts: "~/.ssh/known_hosts",
		},
		History: HistoryConfig{Path: filepath.Join(ConfigDir(), "history.db")},
	}
}

// ConfigDir returns $XDG_CONFIG_HOME/saorsa-deploy or ~/.config/saorsa-deploy.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// LoadConfig reads YAML configuration from path, or from config.yaml in
// ConfigDir when path is empty. Keys absent from the file keep their defaults
// and a missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Credentials stay out of YAML: secrets.env beside the config, then the environment.
	secrets, _ := LoadSecretsEnv(filepath.Join(filepath.Dir(path), "secrets.env"))
	for _, k := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	cfg.State.AccessKey = secrets["AWS_ACCESS_KEY_ID"]
	cfg.State.SecretKey = secrets["AWS_SECRET_ACCESS_KEY"]
	return cfg, nil
}
