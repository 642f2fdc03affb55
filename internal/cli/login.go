package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/moodle"
)

var (
	loginUsername string
	loginPassword string
)

// NewLoginCmd creates the login command.
func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for an API token",
		Long: `Exchange a username and password for the platform's web-service token
pair and store it in the configuration. The password itself is never stored.`,
		RunE: runLogin,
	}
	cmd.Flags().StringVarP(&loginUsername, "username", "u", "", "platform username")
	cmd.Flags().StringVarP(&loginPassword, "password", "p", "", "platform password (or set COURSEDL_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	if cfg.Platform.URL == "" {
		return fmt.Errorf("platform URL is not configured; run 'coursedl config set platform.url <url>' first")
	}

	password := loginPassword
	if password == "" {
		password = os.Getenv("COURSEDL_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no password given; pass --password or set COURSEDL_PASSWORD")
	}

	pair, err := moodle.ExchangeToken(cmd.Context(),
		&http.Client{Timeout: cfg.Settings.HTTPTimeout},
		cfg.Platform.URL, loginUsername, password)
	if err != nil {
		return err
	}

	cfg.Platform.Token = pair.Token
	cfg.Platform.PrivateToken = pair.PrivateToken
	if pair.PrivateToken == "" {
		logger.Warn("no private token issued; expired sessions cannot be refreshed automatically")
	}

	path, err := configFilePath()
	if err != nil {
		return err
	}
	if err := cfg.SaveConfig(path); err != nil {
		return err
	}
	logger.Success("Token stored", logger.Fields{"config": path})
	return nil
}
