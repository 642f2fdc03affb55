// Package config provides configuration management for coursedl. It handles
// loading, validating and saving the YAML configuration file covering the
// platform connection, course selection, download behavior and hooks.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/fsutil"
)

// Config represents the application configuration.
type Config struct {
	// Platform connection
	Platform PlatformConfig `yaml:"platform"`

	// Courses selects what to synchronize; empty means every enrolled
	// course.
	Courses []CourseSelection `yaml:"courses,omitempty"`

	// General settings
	Settings Settings `yaml:"settings"`
}

// PlatformConfig holds the connection and credential settings for the
// learning platform.
type PlatformConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token,omitempty"`
	PrivateToken string `yaml:"private_token,omitempty"`
	UserID       int    `yaml:"user_id,omitempty"`
}

// CourseSelection picks one course by its platform id. Name is informational.
type CourseSelection struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// Settings represents general application settings.
type Settings struct {
	// Local tree
	DownloadDir string `yaml:"download_dir,omitempty"`
	StateDir    string `yaml:"state_dir,omitempty"`

	// Network settings
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent_downloads"`

	// Retry settings
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`

	// Content settings
	FoldersAsZip bool `yaml:"folders_as_zip"`

	// External media tool
	MediaToolPath       string `yaml:"media_tool_path,omitempty"`
	MediaToolMinVersion string `yaml:"media_tool_min_version,omitempty"`

	// Hook scripts directory
	HookDir string `yaml:"hook_dir,omitempty"`

	// Output settings
	LogLevel string `yaml:"log_level"` // error, warn, info, debug
}

// Default configuration values.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 60 * time.Second

	// DefaultMaxConcurrent is the default worker pool size.
	DefaultMaxConcurrent = 4

	// DefaultMaxAttempts is the default per-task attempt budget.
	DefaultMaxAttempts = 5

	// DefaultBackoffBase is the default first retry delay.
	DefaultBackoffBase = time.Second

	// DefaultMediaTool is the external media download binary.
	DefaultMediaTool = "yt-dlp"

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir, err := os.UserConfigDir()
	if err != nil {
		stateDir = home
	}
	stateDir = filepath.Join(stateDir, "coursedl")

	return &Config{
		Settings: Settings{
			DownloadDir:   filepath.Join(home, "coursedl"),
			StateDir:      stateDir,
			HTTPTimeout:   DefaultHTTPTimeout,
			MaxConcurrent: DefaultMaxConcurrent,
			MaxAttempts:   DefaultMaxAttempts,
			BackoffBase:   DefaultBackoffBase,
			MediaToolPath: DefaultMediaTool,
			HookDir:       filepath.Join(stateDir, "hooks"),
			LogLevel:      "info",
		},
	}
}

// LoadConfig loads configuration from a file. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves configuration to a file, replacing it atomically.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(absPath), fsutil.DirModeSecure); err != nil {
		return errors.Wrap(errors.ErrConfigDirectory, err.Error())
	}

	// Tokens live in this file; keep it owner-only.
	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(errors.ErrConfigFileCreate, err.Error())
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)
	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigEncode, err.Error())
	}
	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrConfigFileRename, err.Error())
	}
	return nil
}

// Validate checks if the configuration is valid. Credentials may be absent;
// commands that need them check separately.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if c.Platform.URL != "" {
		u, err := url.Parse(c.Platform.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Wrapf(errors.ErrConfigValidation, "invalid platform URL %q", c.Platform.URL)
		}
	}
	if c.Settings.MaxConcurrent <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "max_concurrent_downloads must be positive")
	}
	if c.Settings.MaxAttempts <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "max_attempts must be positive")
	}
	if c.Settings.HTTPTimeout <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_timeout must be positive")
	}
	if c.Settings.BackoffBase <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "backoff_base must be positive")
	}
	switch c.Settings.LogLevel {
	case "error", "warn", "warning", "info", "debug":
	default:
		return errors.Wrapf(errors.ErrConfigValidation, "unknown log level %q", c.Settings.LogLevel)
	}
	seen := map[int]bool{}
	for _, course := range c.Courses {
		if course.ID <= 0 {
			return errors.Wrap(errors.ErrConfigValidation, "course ids must be positive")
		}
		if seen[course.ID] {
			return errors.Wrapf(errors.ErrConfigValidation, "duplicate course id %d", course.ID)
		}
		seen[course.ID] = true
	}
	return nil
}

// applyDefaults fills unset fields from the default configuration.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Settings.DownloadDir == "" {
		c.Settings.DownloadDir = def.Settings.DownloadDir
	}
	if c.Settings.StateDir == "" {
		c.Settings.StateDir = def.Settings.StateDir
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = def.Settings.HTTPTimeout
	}
	if c.Settings.MaxConcurrent == 0 {
		c.Settings.MaxConcurrent = def.Settings.MaxConcurrent
	}
	if c.Settings.MaxAttempts == 0 {
		c.Settings.MaxAttempts = def.Settings.MaxAttempts
	}
	if c.Settings.BackoffBase == 0 {
		c.Settings.BackoffBase = def.Settings.BackoffBase
	}
	if c.Settings.MediaToolPath == "" {
		c.Settings.MediaToolPath = def.Settings.MediaToolPath
	}
	if c.Settings.HookDir == "" {
		c.Settings.HookDir = filepath.Join(c.Settings.StateDir, "hooks")
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = def.Settings.LogLevel
	}
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to determine user config directory")
	}
	return filepath.Join(configDir, "coursedl", "config.yaml"), nil
}

// StatePath returns the fingerprint store file location.
func (c *Config) StatePath() string {
	return filepath.Join(c.Settings.StateDir, "state.json")
}

// CookiePath returns the persisted cookie jar location.
func (c *Config) CookiePath() string {
	return filepath.Join(c.Settings.StateDir, "cookies.json")
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfigEncode, err.Error())
	}
	return data, nil
}

// SetValue updates one settings key from its string form.
func (c *Config) SetValue(key, value string) error {
	switch key {
	case "platform.url":
		c.Platform.URL = value
	case "platform.token":
		c.Platform.Token = value
	case "platform.private_token":
		c.Platform.PrivateToken = value
	case "settings.download_dir":
		c.Settings.DownloadDir = value
	case "settings.state_dir":
		c.Settings.StateDir = value
	case "settings.media_tool_path":
		c.Settings.MediaToolPath = value
	case "settings.log_level":
		c.Settings.LogLevel = value
	default:
		return errors.Wrapf(errors.ErrConfigKeyNotFound, "%q", key)
	}
	return c.Validate()
}

// GetValue returns one settings key in its string form. Secrets are
// redacted.
func (c *Config) GetValue(key string) (string, error) {
	switch key {
	case "platform.url":
		return c.Platform.URL, nil
	case "platform.token", "platform.private_token":
		return "<redacted>", nil
	case "settings.download_dir":
		return c.Settings.DownloadDir, nil
	case "settings.state_dir":
		return c.Settings.StateDir, nil
	case "settings.media_tool_path":
		return c.Settings.MediaToolPath, nil
	case "settings.log_level":
		return c.Settings.LogLevel, nil
	default:
		return "", errors.Wrapf(errors.ErrConfigKeyNotFound, "%q", key)
	}
}

// ToMap renders the displayable settings for the config show command.
func (c *Config) ToMap() map[string]string {
	token := ""
	if c.Platform.Token != "" {
		token = "<set>"
	}
	privateToken := ""
	if c.Platform.PrivateToken != "" {
		privateToken = "<set>"
	}
	return map[string]string{
		"platform.url":             c.Platform.URL,
		"platform.token":           token,
		"platform.private_token":   privateToken,
		"platform.user_id":         fmt.Sprintf("%d", c.Platform.UserID),
		"settings.download_dir":    c.Settings.DownloadDir,
		"settings.state_dir":       c.Settings.StateDir,
		"settings.http_timeout":    c.Settings.HTTPTimeout.String(),
		"settings.max_concurrent":  fmt.Sprintf("%d", c.Settings.MaxConcurrent),
		"settings.max_attempts":    fmt.Sprintf("%d", c.Settings.MaxAttempts),
		"settings.backoff_base":    c.Settings.BackoffBase.String(),
		"settings.folders_as_zip":  fmt.Sprintf("%t", c.Settings.FoldersAsZip),
		"settings.media_tool_path": c.Settings.MediaToolPath,
		"settings.hook_dir":        c.Settings.HookDir,
		"settings.log_level":       c.Settings.LogLevel,
	}
}
