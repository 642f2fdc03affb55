package model

// ChangeKind classifies one entry of a ChangeSet.
type ChangeKind string

const (
	// ChangeAdded marks a descriptor present now but absent before.
	ChangeAdded ChangeKind = "added"
	// ChangeModified marks a descriptor whose fingerprint differs from the
	// stored record.
	ChangeModified ChangeKind = "modified"
	// ChangeMoved marks a descriptor with identical content at a new target
	// path; only a rename happens, no transfer.
	ChangeMoved ChangeKind = "moved"
	// ChangeDeleted marks a stored record with no matching descriptor in
	// the fresh listing.
	ChangeDeleted ChangeKind = "deleted"
	// ChangeUnchanged marks a descriptor that matches its stored record in
	// fingerprint and path. No task is scheduled for it.
	ChangeUnchanged ChangeKind = "unchanged"
)

// Change pairs a fresh descriptor with the record it replaces (nil for
// Added; descriptor is nil for Deleted).
type Change struct {
	Kind       ChangeKind
	Descriptor *FileDescriptor
	Previous   *FingerprintRecord
}

// ChangeSet is the per-run, non-persisted diff between the stored state and
// a fresh listing. The four lists are disjoint and together cover every
// identity from both sides.
type ChangeSet struct {
	Added    []Change
	Modified []Change
	Moved    []Change
	Deleted  []Change

	// Unchanged entries are kept for accounting only; they never become
	// tasks and never re-enter Commit.
	Unchanged []Change
}

// Len returns the total number of changes.
func (cs *ChangeSet) Len() int {
	return len(cs.Added) + len(cs.Modified) + len(cs.Moved) + len(cs.Deleted)
}

// Empty reports whether the run has nothing to do.
func (cs *ChangeSet) Empty() bool { return cs.Len() == 0 }

// Work returns the changes that need a scheduled task. Moves and deletions
// involve no byte transfer but still flow through tasks so their outcomes
// reach Commit like any other.
func (cs *ChangeSet) Work() []Change {
	out := make([]Change, 0, cs.Len())
	out = append(out, cs.Added...)
	out = append(out, cs.Modified...)
	out = append(out, cs.Moved...)
	out = append(out, cs.Deleted...)
	return out
}

// Outcome is the terminal report of one download task, consumed by the
// fingerprint store at commit time.
type Outcome struct {
	Change    Change
	Succeeded bool
	SavedPath string // download-dir-relative path of the final artifact (successful Added/Modified/Moved)
	Attempts  int
	ErrKind   string // taxonomy kind for failures
	Err       error  // last error detail, not persisted
}

// Summary holds the per-run counts reported back to the invoking process.
type Summary struct {
	RunID    string
	Added    int
	Modified int
	Moved    int
	Deleted  int
	Failed   int
}
