package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/archive"
	"github.com/glorpus-work/coursedl/pkg/config"
	"github.com/glorpus-work/coursedl/pkg/download"
	pkgerrors "github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/extract"
	"github.com/glorpus-work/coursedl/pkg/hook"
	"github.com/glorpus-work/coursedl/pkg/model"
	"github.com/glorpus-work/coursedl/pkg/moodle"
	"github.com/glorpus-work/coursedl/pkg/resolve"
	"github.com/glorpus-work/coursedl/pkg/session"
	"github.com/glorpus-work/coursedl/pkg/state"
)

var syncDryRun bool

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local file tree with the platform",
		Long: `Synchronize the local file tree with the remote courses: list the
current content, diff it against the recorded state, download what changed
and commit the new state.`,
		RunE: runSync,
	}
	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "show the planned changes without downloading")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg)
	if err := requireCredentials(cfg); err != nil {
		return err
	}
	ctx := cmd.Context()

	// The REST client for the autologin exchange needs no cookies.
	apiClient, err := moodle.NewClient(moodle.Config{
		BaseURL:      cfg.Platform.URL,
		Token:        cfg.Platform.Token,
		UserID:       cfg.Platform.UserID,
		FoldersAsZip: cfg.Settings.FoldersAsZip,
	}, &http.Client{Timeout: cfg.Settings.HTTPTimeout})
	if err != nil {
		return err
	}

	source, httpClient, err := establishSession(ctx, cfg, apiClient)
	if err != nil {
		return err
	}

	client, err := moodle.NewClient(moodle.Config{
		BaseURL:      cfg.Platform.URL,
		Token:        cfg.Platform.Token,
		UserID:       cfg.Platform.UserID,
		FoldersAsZip: cfg.Settings.FoldersAsZip,
	}, httpClient)
	if err != nil {
		return err
	}

	store, err := state.NewManager(cfg.StatePath())
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}

	listing, err := buildListing(ctx, cfg, client)
	if err != nil {
		return err
	}

	changes, err := store.Diff(listing)
	if err != nil {
		return err
	}
	logger.Info("change set computed", logger.Fields{
		"added":    len(changes.Added),
		"modified": len(changes.Modified),
		"moved":    len(changes.Moved),
		"deleted":  len(changes.Deleted),
		"current":  len(changes.Unchanged),
	})
	if syncDryRun {
		printChanges(changes)
		return nil
	}
	if changes.Empty() {
		logger.Success("Everything is up to date")
		return nil
	}

	hooks := hook.NewTengoExecutor()
	if err := hook.LoadFromDir(hooks, cfg.Settings.HookDir); err != nil {
		return err
	}

	tool, err := extract.New(extract.Config{
		ToolPath:   cfg.Settings.MediaToolPath,
		MinVersion: cfg.Settings.MediaToolMinVersion,
	})
	if err != nil {
		return err
	}

	manager, err := download.NewManager(
		client,
		resolve.New(source),
		tool,
		archive.NewManager(),
		download.Options{
			Dir:         cfg.Settings.DownloadDir,
			Concurrency: cfg.Settings.MaxConcurrent,
			MaxAttempts: cfg.Settings.MaxAttempts,
			BackoffBase: cfg.Settings.BackoffBase,
		},
		download.Hooks{OnEvent: fileEventHook(hooks)},
	)
	if err != nil {
		return err
	}

	summary, runErr := manager.Run(ctx, changes, store)
	runPostRunHooks(hooks, summary, runErr)

	logger.Info("run finished", logger.Fields{
		"run_id":   summary.RunID,
		"added":    summary.Added,
		"modified": summary.Modified,
		"moved":    summary.Moved,
		"deleted":  summary.Deleted,
		"failed":   summary.Failed,
	})
	if runErr != nil {
		return fmt.Errorf("sync incomplete: %w", runErr)
	}
	logger.Success("Synchronization complete")
	return nil
}

// establishSession brings up the cookie-backed browser session and returns
// the credential source tasks resolve through. Indirect tasks re-validate
// via the manager on every resolution, so a mid-run cookie expiry costs one
// coalesced refresh. Without a private token the run continues with a bare
// client; embedded media then fails with an auth error instead of blocking
// everything else.
func establishSession(ctx context.Context, cfg *config.Config, api session.AutologinAPI) (resolve.CredentialSource, *http.Client, error) {
	fallback := &http.Client{Timeout: cfg.Settings.HTTPTimeout}

	sess, err := session.NewManager(session.Config{
		BaseURL:      cfg.Platform.URL,
		Token:        cfg.Platform.Token,
		PrivateToken: cfg.Platform.PrivateToken,
		UserID:       fmt.Sprintf("%d", cfg.Platform.UserID),
		CookieFile:   cfg.CookiePath(),
		HTTPTimeout:  cfg.Settings.HTTPTimeout,
	}, api)
	if err != nil {
		return nil, nil, err
	}

	s, err := sess.EnsureValid(ctx)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrAuth) {
			logger.Warn("no valid browser session; embedded media downloads may fail", logger.Fields{"error": err.Error()})
			return staticCredentials{creds: plainCreds{client: fallback}}, fallback, nil
		}
		return nil, nil, err
	}
	return sessionCredentials{manager: sess}, s.Client(), nil
}

// buildListing collects the descriptors of every selected course.
func buildListing(ctx context.Context, cfg *config.Config, client *moodle.Client) ([]model.FileDescriptor, error) {
	courses, err := selectCourses(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	var listing []model.FileDescriptor
	for _, course := range courses {
		logger.Debug("listing course", logger.Fields{"id": course.ID, "name": course.DirName()})
		entries, err := client.ListEntries(ctx, course)
		if err != nil {
			// A partial listing would make every missing entry look
			// deleted, so the run aborts instead.
			return nil, err
		}
		listing = append(listing, entries...)
	}
	return listing, nil
}

// selectCourses resolves the configured course selection, defaulting to all
// enrolled courses.
func selectCourses(ctx context.Context, cfg *config.Config, client *moodle.Client) ([]model.Course, error) {
	enrolled, err := client.Courses(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.Courses) == 0 {
		return enrolled, nil
	}

	byID := make(map[int]model.Course, len(enrolled))
	for _, c := range enrolled {
		byID[c.ID] = c
	}
	out := make([]model.Course, 0, len(cfg.Courses))
	for _, sel := range cfg.Courses {
		course, ok := byID[sel.ID]
		if !ok {
			logger.Warn("configured course not found among enrolled courses", logger.Fields{"id": sel.ID})
			continue
		}
		out = append(out, course)
	}
	return out, nil
}

// fileEventHook bridges orchestrator events to the post_file hook script.
func fileEventHook(hooks hook.Manager) func(download.Event) {
	return func(e download.Event) {
		switch e.Phase {
		case "succeeded", "failed":
		default:
			return
		}
		if err := hooks.Execute(hook.PostFile, hook.Context{
			FilePath: e.Path,
			Status:   e.Phase,
			Vars:     map[string]interface{}{"detail": e.Msg},
		}); err != nil {
			logger.Warn("post_file hook failed", logger.Fields{"error": err.Error()})
		}
	}
}

// runPostRunHooks fires the run-level hook scripts. Hook failures are
// logged, never fatal.
func runPostRunHooks(hooks hook.Manager, summary *model.Summary, runErr error) {
	hctx := hook.Context{
		RunID:  summary.RunID,
		Status: "success",
		Vars: map[string]interface{}{
			"added":    summary.Added,
			"modified": summary.Modified,
			"moved":    summary.Moved,
			"deleted":  summary.Deleted,
			"failed":   summary.Failed,
		},
	}
	if runErr != nil {
		hctx.Status = "failed"
		if err := hooks.Execute(hook.OnFail, hctx); err != nil {
			logger.Warn("on_fail hook failed", logger.Fields{"error": err.Error()})
		}
	}
	if err := hooks.Execute(hook.PostRun, hctx); err != nil {
		logger.Warn("post_run hook failed", logger.Fields{"error": err.Error()})
	}
}

// printChanges renders the dry-run plan.
func printChanges(changes *model.ChangeSet) {
	for _, c := range changes.Added {
		fmt.Printf("add      %s\n", c.Descriptor.CleanTargetPath())
	}
	for _, c := range changes.Modified {
		fmt.Printf("update   %s\n", c.Descriptor.CleanTargetPath())
	}
	for _, c := range changes.Moved {
		fmt.Printf("move     %s -> %s\n", c.Previous.SavedPath, c.Descriptor.CleanTargetPath())
	}
	for _, c := range changes.Deleted {
		fmt.Printf("tombstone %s\n", c.Previous.SavedPath)
	}
}
