// Package errors defines the error kinds shared across coursedl and the
// helpers that drive retry decisions. Every network call maps its failure to
// exactly one kind; the download orchestrator only ever asks IsRetryable.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. A wrapped error carries exactly one of these.
var (
	// ErrNetwork marks transient transport failures: connection errors,
	// timeouts and the retryable HTTP statuses (408, 409, 429, 503).
	ErrNetwork = fmt.Errorf("network error")

	// ErrAPI marks malformed responses, unexpected HTTP statuses and
	// missing resources. Not retryable.
	ErrAPI = fmt.Errorf("platform API error")

	// ErrAuth marks authentication and authorization failures (401, 403,
	// expired token, rejected refresh). Not retryable; the operator has to
	// fix credentials.
	ErrAuth = fmt.Errorf("authentication error")

	// ErrResolution marks a parsing failure inside the resolver chain: the
	// page structure is at fault, not the network. Not retryable.
	ErrResolution = fmt.Errorf("resolution error")
)

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrConfigEncode      = fmt.Errorf("failed to encode config")
	ErrConfigDirectory   = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate  = fmt.Errorf("failed to create config file")
	ErrConfigFileRename  = fmt.Errorf("failed to replace config file")
	ErrConfigKeyNotFound = fmt.Errorf("unknown config key")

	// State store errors.
	ErrStateCorrupt   = fmt.Errorf("state file is corrupt")
	ErrStateVersion   = fmt.Errorf("unsupported state format version")
	ErrCommitFailed   = fmt.Errorf("failed to commit run state")
	ErrDuplicateEntry = fmt.Errorf("duplicate descriptor identity in listing")
	ErrRecordNotFound = fmt.Errorf("record not found")

	// Download and extraction errors.
	ErrInvalidPath      = fmt.Errorf("invalid path")
	ErrDownloadFailed   = fmt.Errorf("download failed")
	ErrExtractionFailed = fmt.Errorf("media extraction failed")
	ErrToolTooOld       = fmt.Errorf("external tool version too old")

	// Hook errors.
	ErrHookTypeEmpty = fmt.Errorf("hook type cannot be empty")
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
	ErrHookLoad      = fmt.Errorf("failed to load hook")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsRetryable reports whether the orchestrator may retry the operation that
// produced err. Only network-kind failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// ClassifyStatus maps an HTTP status code to an error kind. Returns nil for
// 2xx statuses.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %w", status, ErrAuth)
	case status == http.StatusRequestTimeout ||
		status == http.StatusConflict ||
		status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable:
		return fmt.Errorf("HTTP %d: %w", status, ErrNetwork)
	default:
		return fmt.Errorf("HTTP %d: %w", status, ErrAPI)
	}
}

// Kind returns a short stable name for the taxonomy kind of err, used in
// summaries and persisted failure reasons.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "api"
	}
}
