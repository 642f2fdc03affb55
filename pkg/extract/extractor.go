// Package extract drives the external media download tool for resolved
// video references. The tool is a separate binary (yt-dlp compatible); this
// package only checks it is present and recent enough, shells out, and maps
// its failures onto the shared taxonomy.
package extract

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	goversion "github.com/hashicorp/go-version"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/errors"
)

// versionRe picks the version token out of the tool's --version output.
var versionRe = regexp.MustCompile(`\d+(\.\d+)+`)

// networkMarkers are stderr fragments that mean the tool failed on
// transport, not on the media itself. Those failures are retryable.
var networkMarkers = []string{
	"timed out",
	"connection refused",
	"connection reset",
	"temporary failure in name resolution",
	"unable to download",
	"http error 503",
	"http error 429",
}

// Config carries the settings for a tool runner.
type Config struct {
	// ToolPath is the binary to invoke.
	ToolPath string
	// MinVersion is the lowest acceptable tool version; empty skips the
	// check.
	MinVersion string
}

// ToolImpl runs the external tool. The version gate runs once per process.
type ToolImpl struct {
	path string
	min  *goversion.Version

	verifyOnce sync.Once
	verifyErr  error

	// run executes the tool and returns its combined output. Swapped in
	// tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a tool runner. The binary is not touched until the first
// extraction.
func New(cfg Config) (*ToolImpl, error) {
	t := &ToolImpl{
		path: cfg.ToolPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
	if t.path == "" {
		return nil, errors.Wrap(errors.ErrConfigValidation, "media tool path is empty")
	}
	if cfg.MinVersion != "" {
		min, err := goversion.NewVersion(cfg.MinVersion)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrConfigValidation, "invalid minimum tool version %q", cfg.MinVersion)
		}
		t.min = min
	}
	return t, nil
}

// Extract fetches the media behind ref into targetPath. cookieHeader is
// forwarded to the tool for cookie-gated sources.
func (t *ToolImpl) Extract(ctx context.Context, ref, cookieHeader, targetPath string) error {
	if err := t.verify(ctx); err != nil {
		return err
	}

	args := []string{"--no-progress", "-o", targetPath}
	if cookieHeader != "" {
		args = append(args, "--add-headers", "Cookie: "+cookieHeader)
	}
	args = append(args, ref)

	logger.Debug("running media tool", logger.Fields{"ref": ref, "target": targetPath})
	out, err := t.run(ctx, t.path, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	detail := strings.TrimSpace(string(out))
	lower := strings.ToLower(detail)
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return errors.Wrapf(errors.ErrNetwork, "media tool transport failure: %s", lastLine(detail))
		}
	}
	return errors.Wrapf(errors.ErrExtractionFailed, "media tool failed for %s: %s", ref, lastLine(detail))
}

// verify checks the tool exists and meets the minimum version. The result
// is cached; a broken tool fails every extraction the same way.
func (t *ToolImpl) verify(ctx context.Context) error {
	t.verifyOnce.Do(func() {
		out, err := t.run(ctx, t.path, "--version")
		if err != nil {
			t.verifyErr = errors.Wrapf(errors.ErrExtractionFailed, "media tool %q not runnable: %v", t.path, err)
			return
		}
		if t.min == nil {
			return
		}
		token := versionRe.FindString(string(out))
		if token == "" {
			t.verifyErr = errors.Wrapf(errors.ErrExtractionFailed, "media tool version not recognizable: %q", strings.TrimSpace(string(out)))
			return
		}
		have, err := goversion.NewVersion(token)
		if err != nil {
			t.verifyErr = errors.Wrapf(errors.ErrExtractionFailed, "media tool version %q not parsable", token)
			return
		}
		if have.LessThan(t.min) {
			t.verifyErr = fmt.Errorf("have %s, need at least %s: %w", have, t.min, errors.ErrToolTooOld)
		}
	})
	return t.verifyErr
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return s
}
