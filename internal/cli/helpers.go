package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/config"
	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/resolve"
	"github.com/glorpus-work/coursedl/pkg/session"
)

// These variables will be set by the main package.
var (
	ConfigPath *string
	Verbose    *bool
)

// loadConfig loads the configuration from the flag-provided path or the
// default location.
func loadConfig() (*config.Config, error) {
	configPath := ""
	if ConfigPath != nil {
		configPath = *ConfigPath
	}
	if configPath == "" {
		defaultPath, err := config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
		configPath = defaultPath
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// configFilePath returns the path loadConfig would read.
func configFilePath() (string, error) {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath, nil
	}
	return config.GetDefaultConfigPath()
}

// initLogging sets up the global logger from config and flags.
func initLogging(cfg *config.Config) {
	level := cfg.Settings.LogLevel
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level)
}

// requireCredentials checks that the config carries enough to talk to the
// platform.
func requireCredentials(cfg *config.Config) error {
	if cfg.Platform.URL == "" {
		return errors.Wrap(errors.ErrConfigValidation, "platform URL is not configured; run 'coursedl config init' first")
	}
	if cfg.Platform.Token == "" {
		return errors.Wrap(errors.ErrConfigValidation, "platform token is not configured; run 'coursedl login' first")
	}
	return nil
}

// plainCreds is the credential fallback when no browser session could be
// established: a bare client with no cookies.
type plainCreds struct {
	client *http.Client
}

func (p plainCreds) Client() *http.Client { return p.client }

func (p plainCreds) CookieHeader(_ *url.URL) string { return "" }

// sessionCredentials hands each resolution back through the session manager,
// so cookies that expire mid-run trigger one coalesced refresh instead of
// failing every remaining indirect task.
type sessionCredentials struct {
	manager *session.ManagerImpl
}

func (s sessionCredentials) EnsureValid(ctx context.Context) (resolve.Credentials, error) {
	sess, err := s.manager.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// staticCredentials is the degraded source used when no browser session
// exists; there is nothing to refresh.
type staticCredentials struct {
	creds resolve.Credentials
}

func (s staticCredentials) EnsureValid(context.Context) (resolve.Credentials, error) {
	return s.creds, nil
}
