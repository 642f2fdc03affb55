// Package download runs the per-sync work: it turns a change set into
// download tasks, executes them over a bounded worker pool with retry and
// backoff, and commits the terminal outcomes to the fingerprint store in one
// transaction after the last task finished.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/glorpus-work/coursedl/internal/logger"
	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/fsutil"
	"github.com/glorpus-work/coursedl/pkg/model"
)

// Defaults for unset options.
const (
	defaultConcurrency = 4
	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
)

// Options control one run.
type Options struct {
	// Dir is the absolute root of the local file tree.
	Dir string
	// Concurrency bounds the worker pool.
	Concurrency int
	// MaxAttempts is the per-task attempt budget, first try included.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt; it doubles for
	// every further one.
	BackoffBase time.Duration
}

// Event represents a simple progress notification.
type Event struct {
	Phase string // running|retrying|succeeded|failed|committing|done
	ID    string // task identity
	Path  string // relative artifact path, when known
	Msg   string
}

// Hooks carries callbacks for progress events. Callbacks run on worker
// goroutines and must be safe for concurrent use.
type Hooks struct {
	OnEvent func(Event)
}

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

// ManagerImpl executes change sets. The fetcher handles direct content, the
// resolver plus extractor handle indirect content, the unpacker handles
// archive artifacts.
type ManagerImpl struct {
	fetcher   Fetcher
	resolver  Resolver
	extractor Extractor
	unpacker  Unpacker
	hooks     Hooks
	opts      Options

	// sleep waits out a backoff. Swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a download manager. Resolver, extractor and unpacker
// may be nil when the run contains no indirect or archive descriptors.
func NewManager(fetcher Fetcher, resolver Resolver, extractor Extractor, unpacker Unpacker, opts Options, hooks Hooks) (*ManagerImpl, error) {
	if opts.Dir == "" || !filepath.IsAbs(opts.Dir) {
		return nil, fmt.Errorf("download dir must be absolute: %w: %s", errors.ErrInvalidPath, opts.Dir)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	return &ManagerImpl{
		fetcher:   fetcher,
		resolver:  resolver,
		extractor: extractor,
		unpacker:  unpacker,
		hooks:     hooks,
		opts:      opts,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}, nil
}

// Run executes every task of the change set, then commits the outcomes.
// Cancellation aborts the run without committing; the next run re-derives
// the same work. The returned error aggregates task failures; a commit
// failure supersedes them.
func (m *ManagerImpl) Run(ctx context.Context, cs *model.ChangeSet, committer Committer) (*model.Summary, error) {
	summary := &model.Summary{RunID: uuid.NewString()}
	work := cs.Work()
	if len(work) == 0 {
		return summary, nil
	}
	if err := os.MkdirAll(m.opts.Dir, fsutil.DirModeSecure); err != nil {
		return summary, errors.Wrap(err, "could not create download dir")
	}

	tasks := make(chan model.Change)
	results := make(chan model.Outcome, len(work))
	var wg sync.WaitGroup

	for w := 0; w < m.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for change := range tasks {
				results <- m.execute(ctx, change)
			}
		}()
	}

feed:
	for _, change := range work {
		select {
		case tasks <- change:
		case <-ctx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()
	close(results)

	outcomes := make([]model.Outcome, 0, len(work))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	tally(summary, outcomes)

	if ctx.Err() != nil {
		// Nothing committed: the interrupted run leaves no trace in the
		// store and the next run sees the identical change set.
		return summary, ctx.Err()
	}

	emit(m.hooks, Event{Phase: "committing", Msg: fmt.Sprintf("%d outcomes", len(outcomes))})
	if err := committer.Commit(outcomes); err != nil {
		return summary, err
	}
	emit(m.hooks, Event{Phase: "done"})

	var runErr *multierror.Error
	for _, o := range outcomes {
		if !o.Succeeded {
			runErr = multierror.Append(runErr, fmt.Errorf("%s: %w", taskID(o.Change), o.Err))
		}
	}
	return summary, runErr.ErrorOrNil()
}

// execute drives one task to a terminal outcome.
func (m *ManagerImpl) execute(ctx context.Context, change model.Change) model.Outcome {
	id := taskID(change)
	emit(m.hooks, Event{Phase: "running", ID: id})

	switch change.Kind {
	case model.ChangeMoved:
		return m.executeMove(change)
	case model.ChangeDeleted:
		// Local files stay; the record is tombstoned at commit time.
		emit(m.hooks, Event{Phase: "succeeded", ID: id, Path: change.Previous.SavedPath})
		return model.Outcome{Change: change, Succeeded: true, Attempts: 1}
	default:
		return m.executeTransfer(ctx, change)
	}
}

// executeMove renames the artifact; no bytes are transferred.
func (m *ManagerImpl) executeMove(change model.Change) model.Outcome {
	relPath := change.Descriptor.CleanTargetPath()
	oldPath := filepath.Join(m.opts.Dir, change.Previous.SavedPath)
	newPath := filepath.Join(m.opts.Dir, relPath)

	if err := fsutil.Move(oldPath, newPath); err != nil {
		err = errors.Wrapf(err, "moving %s to %s", change.Previous.SavedPath, relPath)
		emit(m.hooks, Event{Phase: "failed", ID: taskID(change), Msg: err.Error()})
		return model.Outcome{Change: change, Attempts: 1, ErrKind: errors.Kind(err), Err: err}
	}
	emit(m.hooks, Event{Phase: "succeeded", ID: taskID(change), Path: relPath})
	return model.Outcome{Change: change, Succeeded: true, SavedPath: relPath, Attempts: 1}
}

// executeTransfer fetches the descriptor's bytes with the retry budget.
func (m *ManagerImpl) executeTransfer(ctx context.Context, change model.Change) model.Outcome {
	id := taskID(change)
	relPath := change.Descriptor.CleanTargetPath()
	target := filepath.Join(m.opts.Dir, relPath)

	var err error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		err = m.fetch(ctx, change.Descriptor, target)
		if err == nil {
			emit(m.hooks, Event{Phase: "succeeded", ID: id, Path: relPath})
			return model.Outcome{Change: change, Succeeded: true, SavedPath: relPath, Attempts: attempt}
		}
		if ctx.Err() != nil || !errors.IsRetryable(err) || attempt == m.opts.MaxAttempts {
			emit(m.hooks, Event{Phase: "failed", ID: id, Msg: err.Error()})
			return model.Outcome{Change: change, Attempts: attempt, ErrKind: errors.Kind(err), Err: err}
		}

		delay := m.opts.BackoffBase << (attempt - 1)
		emit(m.hooks, Event{Phase: "retrying", ID: id, Msg: fmt.Sprintf("attempt %d failed, waiting %s", attempt, delay)})
		logger.Debug("task retrying", logger.Fields{"task": id, "attempt": attempt, "delay": delay.String()})
		if m.sleep(ctx, delay) != nil {
			return model.Outcome{Change: change, Attempts: attempt, ErrKind: errors.Kind(err), Err: err}
		}
	}
	return model.Outcome{Change: change, Attempts: m.opts.MaxAttempts, ErrKind: errors.Kind(err), Err: err}
}

// fetch obtains the descriptor's bytes once.
func (m *ManagerImpl) fetch(ctx context.Context, d *model.FileDescriptor, target string) error {
	switch {
	case d.ModuleType == "url":
		return m.writeShortcut(d, target)
	case d.Kind == model.ResolutionIndirect:
		return m.fetchIndirect(ctx, d, target)
	default:
		return m.fetchDirect(ctx, d, target)
	}
}

// writeShortcut materializes a link module as an internet shortcut file.
func (m *ManagerImpl) writeShortcut(d *model.FileDescriptor, target string) error {
	content := fmt.Sprintf("[InternetShortcut]\r\nURL=%s\r\n", d.ContentURL)
	if _, err := fsutil.WriteStream(target, strings.NewReader(content)); err != nil {
		return errors.Wrapf(err, "writing shortcut %s", d.Name)
	}
	return nil
}

func (m *ManagerImpl) fetchDirect(ctx context.Context, d *model.FileDescriptor, target string) error {
	stream, err := m.fetcher.OpenStream(ctx, d.ContentURL)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if _, err := fsutil.WriteStream(target, stream); err != nil {
		// The stream broke mid-copy; the temp file is already gone.
		return errors.Wrapf(errors.ErrNetwork, "streaming %s: %v", d.Name, err)
	}

	if d.Unpack {
		destDir := strings.TrimSuffix(target, filepath.Ext(target))
		if err := m.unpacker.ExtractAll(ctx, target, destDir); err != nil {
			return errors.Wrapf(err, "unpacking %s", d.Name)
		}
	}
	return nil
}

func (m *ManagerImpl) fetchIndirect(ctx context.Context, d *model.FileDescriptor, target string) error {
	media, err := m.resolver.Resolve(ctx, d.ContentURL)
	if err != nil {
		return err
	}
	if err := m.extractor.Extract(ctx, media.Ref, media.CookieHeader, target); err != nil {
		// The tool writes to the target path directly and may leave a
		// truncated file behind.
		_ = fsutil.Remove(target)
		return err
	}
	return nil
}

// tally fills the summary counts from the terminal outcomes.
func tally(summary *model.Summary, outcomes []model.Outcome) {
	for _, o := range outcomes {
		if !o.Succeeded {
			summary.Failed++
			continue
		}
		switch o.Change.Kind {
		case model.ChangeAdded:
			summary.Added++
		case model.ChangeModified:
			summary.Modified++
		case model.ChangeMoved:
			summary.Moved++
		case model.ChangeDeleted:
			summary.Deleted++
		}
	}
}

func taskID(change model.Change) string {
	if change.Descriptor != nil {
		return change.Descriptor.Identity.String()
	}
	return change.Previous.Identity.String()
}
