package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrent, cfg.Settings.MaxConcurrent)
	assert.Equal(t, DefaultMaxAttempts, cfg.Settings.MaxAttempts)
	assert.Equal(t, DefaultMediaTool, cfg.Settings.MediaToolPath)
	assert.Equal(t, "info", cfg.Settings.LogLevel)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)
}

func TestLoadConfigFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(`
platform:
  url: https://campus.example
  token: abc
courses:
  - id: 9
    name: Algorithms
settings:
  download_dir: /data/courses
`))
	require.NoError(t, err)
	assert.Equal(t, "https://campus.example", cfg.Platform.URL)
	assert.Equal(t, "/data/courses", cfg.Settings.DownloadDir)
	assert.Equal(t, DefaultHTTPTimeout, cfg.Settings.HTTPTimeout)
	assert.Equal(t, DefaultBackoffBase, cfg.Settings.BackoffBase)
	require.Len(t, cfg.Courses, 1)
	assert.Equal(t, 9, cfg.Courses[0].ID)
	assert.Equal(t, filepath.Join(cfg.Settings.StateDir, "hooks"), cfg.Settings.HookDir)
}

func TestLoadConfigFromReader_ParseError(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("{not yaml"))
	assert.ErrorIs(t, err, errors.ErrConfigParse)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad URL scheme", func(c *Config) { c.Platform.URL = "ftp://campus.example" }},
		{"unparsable URL", func(c *Config) { c.Platform.URL = "://" }},
		{"zero concurrency", func(c *Config) { c.Settings.MaxConcurrent = -1 }},
		{"zero attempts", func(c *Config) { c.Settings.MaxAttempts = -1 }},
		{"zero timeout", func(c *Config) { c.Settings.HTTPTimeout = -time.Second }},
		{"unknown log level", func(c *Config) { c.Settings.LogLevel = "verbose" }},
		{"negative course id", func(c *Config) { c.Courses = []CourseSelection{{ID: -1}} }},
		{"duplicate course id", func(c *Config) { c.Courses = []CourseSelection{{ID: 1}, {ID: 1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigValidation)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Platform.URL = "https://campus.example"
	cfg.Platform.Token = "secret"
	cfg.Courses = []CourseSelection{{ID: 9, Name: "Algorithms"}}
	require.NoError(t, cfg.SaveConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "config holds tokens and must stay owner-only")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Platform, loaded.Platform)
	assert.Equal(t, cfg.Courses, loaded.Courses)
	assert.Equal(t, cfg.Settings.DownloadDir, loaded.Settings.DownloadDir)
}

func TestSetValue(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.SetValue("platform.url", "https://campus.example"))
	assert.Equal(t, "https://campus.example", cfg.Platform.URL)

	err := cfg.SetValue("settings.log_level", "verbose")
	assert.ErrorIs(t, err, errors.ErrConfigValidation, "SetValue must re-validate")

	err = cfg.SetValue("nope", "x")
	assert.ErrorIs(t, err, errors.ErrConfigKeyNotFound)
}

func TestGetValue_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Platform.Token = "secret"

	v, err := cfg.GetValue("platform.token")
	require.NoError(t, err)
	assert.Equal(t, "<redacted>", v)
	assert.NotContains(t, cfg.ToMap()["platform.token"], "secret")
}
