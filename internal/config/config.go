package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGlamourStyle = "dark"
	DefaultBaseURL      = "http://127.0.0.1:8000"
	DefaultDevAddr      = "127.0.0.1:8000"
	DefaultTimeout      = 2 * time.Minute
	appDirName          = "geonli-desk"
	envPrefix           = "GEONLI_"
)

type AppConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	AuthMode  string        `yaml:"auth_mode"`
	DataDir   string        `yaml:"data_dir"`
	PrefsPath string        `yaml:"prefs_path"`
	ExportDir string        `yaml:"export_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFile   string        `yaml:"log_file"`
	Timeout   time.Duration `yaml:"timeout"`
	DevAddr   string        `yaml:"dev_addr"`
}

func Defaults() AppConfig {
	return AppConfig{
		BaseURL:  DefaultBaseURL,
		AuthMode: "cookie",
		LogLevel: "info",
		Timeout:  DefaultTimeout,
		DevAddr:  DefaultDevAddr,
	}
}

type LoadOptions struct {
	// ConfigPath is the YAML file to read. Empty means DefaultConfigPath,
	// which may be absent; an explicit path must exist.
	ConfigPath string
	// EnvFile is loaded into the environment without overriding variables
	// already set. Empty means ".env" in the working directory.
	EnvFile string
	Getenv  func(string) string
}

// Load layers defaults, the YAML file and GEONLI_* environment variables.
// Flags are applied by the caller, followed by Finalize.
func Load(opts LoadOptions) (AppConfig, error) {
	cfg := Defaults()

	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		p, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	if err := cfg.mergeFile(path, explicit); err != nil {
		return cfg, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *AppConfig) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"BASE_URL":   &c.BaseURL,
		"TOKEN":      &c.Token,
		"AUTH_MODE":  &c.AuthMode,
		"DATA_DIR":   &c.DataDir,
		"PREFS_PATH": &c.PrefsPath,
		"EXPORT_DIR": &c.ExportDir,
		"LOG_LEVEL":  &c.LogLevel,
		"LOG_FILE":   &c.LogFile,
		"DEV_ADDR":   &c.DevAddr,
	}
	for name, dst := range strs {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(getenv(envPrefix + "TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sTIMEOUT: %w", envPrefix, err)
		}
		c.Timeout = d
	}
	return nil
}

// Finalize fills derived paths and creates the directories they live in.
func (c *AppConfig) Finalize() error {
	dir, err := DetectDataDir(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.PrefsPath == "" {
		c.PrefsPath = filepath.Join(c.DataDir, "prefs.sqlite")
	}
	if c.ExportDir == "" {
		c.ExportDir = filepath.Join(c.DataDir, "exports")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "geonli-desk.log")
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return fmt.Errorf("base url is empty")
	}

	for _, d := range []string{c.DataDir, filepath.Dir(c.PrefsPath), filepath.Dir(c.LogFile)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	return nil
}

func DefaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName, "config.yaml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, "config.yaml"), nil
}

func DetectDataDir(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if fromEnv := os.Getenv(envPrefix + "DATA_DIR"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appDirName), nil
}
