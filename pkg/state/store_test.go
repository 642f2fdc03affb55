package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/model"
)

func newTestStore(t *testing.T) *ManagerImpl {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, m.Load())
	return m
}

func desc(course, mod int, url, path, fp string) model.FileDescriptor {
	return model.FileDescriptor{
		Identity:    model.Identity{CourseID: course, ModuleID: mod, ContentURL: url},
		Name:        filepath.Base(path),
		TargetPath:  path,
		Fingerprint: fp,
		Kind:        model.ResolutionDirect,
		ModuleType:  "resource",
	}
}

func commitAdded(t *testing.T, m *ManagerImpl, d model.FileDescriptor) {
	t.Helper()
	dc := d
	require.NoError(t, m.Commit([]model.Outcome{{
		Change:    model.Change{Kind: model.ChangeAdded, Descriptor: &dc},
		Succeeded: true,
		SavedPath: dc.CleanTargetPath(),
	}}))
}

func TestNewManager_RequiresAbsolutePath(t *testing.T) {
	_, err := NewManager("relative/state.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestDiff_AddedOnly(t *testing.T) {
	m := newTestStore(t)

	a := desc(1, 10, "https://host/f.pdf", "c/f.pdf", "h1")
	cs, err := m.Diff([]model.FileDescriptor{a})
	require.NoError(t, err)

	require.Len(t, cs.Added, 1)
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Moved)
	assert.Empty(t, cs.Deleted)
	assert.Equal(t, a.Identity, cs.Added[0].Descriptor.Identity)
}

func TestDiff_Totality(t *testing.T) {
	m := newTestStore(t)

	kept := desc(1, 1, "u1", "a/one.pdf", "h1")
	changed := desc(1, 2, "u2", "a/two.pdf", "h2")
	moved := desc(1, 3, "u3", "a/three.pdf", "h3")
	gone := desc(1, 4, "u4", "a/four.pdf", "h4")
	for _, d := range []model.FileDescriptor{kept, changed, moved, gone} {
		commitAdded(t, m, d)
	}

	changed.Fingerprint = "h2-new"
	moved.TargetPath = "b/three.pdf"
	fresh := desc(1, 5, "u5", "a/five.pdf", "h5")
	listing := []model.FileDescriptor{kept, changed, moved, fresh}

	cs, err := m.Diff(listing)
	require.NoError(t, err)

	// Every identity from old and new appears exactly once across buckets.
	seen := map[model.Identity]int{}
	for _, c := range cs.Added {
		seen[c.Descriptor.Identity]++
	}
	for _, c := range cs.Modified {
		seen[c.Descriptor.Identity]++
	}
	for _, c := range cs.Moved {
		seen[c.Descriptor.Identity]++
	}
	for _, c := range cs.Deleted {
		seen[c.Previous.Identity]++
	}
	for _, c := range cs.Unchanged {
		seen[c.Descriptor.Identity]++
	}
	for _, id := range []model.Identity{kept.Identity, changed.Identity, moved.Identity, gone.Identity, fresh.Identity} {
		assert.Equal(t, 1, seen[id], "identity %s should appear exactly once", id)
	}
	assert.Len(t, seen, 5)

	assert.Len(t, cs.Added, 1)
	assert.Len(t, cs.Modified, 1)
	assert.Len(t, cs.Moved, 1)
	assert.Len(t, cs.Deleted, 1)
	assert.Len(t, cs.Unchanged, 1)
}

func TestDiff_Idempotent(t *testing.T) {
	m := newTestStore(t)
	commitAdded(t, m, desc(1, 1, "u1", "a/one.pdf", "h1"))

	listing := []model.FileDescriptor{
		desc(1, 1, "u1", "b/one.pdf", "h1"),
		desc(1, 2, "u2", "a/two.pdf", "h2"),
	}

	first, err := m.Diff(listing)
	require.NoError(t, err)
	second, err := m.Diff(listing)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDiff_MovedRequiresIdenticalFingerprint(t *testing.T) {
	m := newTestStore(t)
	commitAdded(t, m, desc(1, 1, "u1", "a/f.pdf", "h1"))

	// Path and fingerprint both differ: fingerprint wins, Modified.
	d := desc(1, 1, "u1", "b/f.pdf", "h1-new")
	cs, err := m.Diff([]model.FileDescriptor{d})
	require.NoError(t, err)
	assert.Empty(t, cs.Moved)
	require.Len(t, cs.Modified, 1)

	// Same fingerprint, new path: Moved.
	d.Fingerprint = "h1"
	cs, err = m.Diff([]model.FileDescriptor{d})
	require.NoError(t, err)
	assert.Empty(t, cs.Modified)
	require.Len(t, cs.Moved, 1)
	assert.Equal(t, "a/f.pdf", cs.Moved[0].Previous.SavedPath)
}

func TestDiff_FailedRecordRescheduled(t *testing.T) {
	m := newTestStore(t)
	d := desc(1, 1, "u1", "a/f.pdf", "h1")
	commitAdded(t, m, d)

	dc := d
	require.NoError(t, m.Commit([]model.Outcome{{
		Change:  model.Change{Kind: model.ChangeModified, Descriptor: &dc, Previous: m.Records()[0]},
		ErrKind: "network",
	}}))

	cs, err := m.Diff([]model.FileDescriptor{d})
	require.NoError(t, err)
	require.Len(t, cs.Modified, 1, "failed record must be retried even with matching fingerprint")
}

func TestDiff_DuplicateIdentityRejected(t *testing.T) {
	m := newTestStore(t)
	d := desc(1, 1, "u1", "a/f.pdf", "h1")
	_, err := m.Diff([]model.FileDescriptor{d, d})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateEntry)
}

func TestDiff_EphemeralDeletionsIgnored(t *testing.T) {
	m := newTestStore(t)
	d := desc(1, 1, "u1", "a/post.html", "h1")
	d.ModuleType = "forum"
	commitAdded(t, m, d)

	cs, err := m.Diff(nil)
	require.NoError(t, err)
	assert.Empty(t, cs.Deleted)
}

func TestCommit_AddedPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	commitAdded(t, m, desc(1, 1, "u1", "a/f.pdf", "h1"))

	// Reload from disk into a second manager.
	m2, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m2.Load())
	recs := m2.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusSynced, recs[0].Status)
	assert.Equal(t, "h1", recs[0].LastFingerprint)
	assert.Equal(t, "a/f.pdf", recs[0].SavedPath)
}

func TestCommit_FailureLeavesFingerprintUntouched(t *testing.T) {
	m := newTestStore(t)
	d := desc(1, 1, "u1", "a/f.pdf", "h1")
	commitAdded(t, m, d)

	updated := desc(1, 1, "u1", "a/f.pdf", "h2")
	require.NoError(t, m.Commit([]model.Outcome{{
		Change:  model.Change{Kind: model.ChangeModified, Descriptor: &updated, Previous: m.Records()[0]},
		ErrKind: "network",
	}}))

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "h1", recs[0].LastFingerprint, "failed task must not advance the fingerprint")
	assert.Equal(t, model.StatusFailed, recs[0].Status)
	assert.Equal(t, "network", recs[0].FailureReason)

	// Next run classifies it as Modified again.
	cs, err := m.Diff([]model.FileDescriptor{updated})
	require.NoError(t, err)
	require.Len(t, cs.Modified, 1)
}

func TestCommit_DeletedTombstones(t *testing.T) {
	m := newTestStore(t)
	d := desc(1, 1, "u1", "a/f.pdf", "h1")
	commitAdded(t, m, d)

	prev := m.Records()[0]
	require.NoError(t, m.Commit([]model.Outcome{{
		Change:    model.Change{Kind: model.ChangeDeleted, Previous: prev},
		Succeeded: true,
	}}))

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusPendingDelete, recs[0].Status)

	// A reappearing resource is Added again.
	cs, err := m.Diff([]model.FileDescriptor{d})
	require.NoError(t, err)
	require.Len(t, cs.Added, 1)
}

func TestCommit_AtomicOnSaveFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Load())
	commitAdded(t, m, desc(1, 1, "u1", "a/f.pdf", "h1"))

	baseline, err := m.Diff([]model.FileDescriptor{desc(1, 2, "u2", "a/g.pdf", "h2")})
	require.NoError(t, err)

	// Replace the state file path with a directory so the rename fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o750))

	err = m.Commit([]model.Outcome{{
		Change:    model.Change{Kind: model.ChangeAdded, Descriptor: &[]model.FileDescriptor{desc(1, 2, "u2", "a/g.pdf", "h2")}[0]},
		Succeeded: true,
		SavedPath: "a/g.pdf",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCommitFailed)

	// Nothing partially applied: the same diff comes out again.
	after, err := m.Diff([]model.FileDescriptor{desc(1, 2, "u2", "a/g.pdf", "h2")})
	require.NoError(t, err)
	assert.Equal(t, baseline, after)
}

func TestLoad_MigratesOldVersions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	old := map[string]interface{}{
		"format_version": 1,
		"records": []map[string]interface{}{
			{
				"course_id":        1,
				"module_id":        2,
				"content_url":      "u1",
				"name":             "f.pdf",
				"saved_path":       "a/f.pdf",
				"last_fingerprint": "h1",
			},
		},
	}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o640))

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusSynced, recs[0].Status)
	assert.Equal(t, model.ResolutionDirect, recs[0].Kind)
}

func TestLoad_RejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"format_version": 99}`), 0o640))

	m, err := NewManager(path)
	require.NoError(t, err)
	err = m.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStateVersion)
}

func TestLoad_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o640))

	m, err := NewManager(path)
	require.NoError(t, err)
	err = m.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStateCorrupt)
}
