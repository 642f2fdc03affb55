// Package state implements the persisted fingerprint store: a versioned
// JSON table of every file synchronized by a previous run, the diff against
// a fresh listing, and the single-writer commit that records a run's
// outcomes.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/model"
)

//go:generate mockgen -destination=./mocks/state.go -package=mocks . Manager

// Manager is the fingerprint store interface consumed by the CLI and the
// download orchestrator.
type Manager interface {
	Load() error
	Diff(listing []model.FileDescriptor) (*model.ChangeSet, error)
	Commit(outcomes []model.Outcome) error
	Records() []*model.FingerprintRecord
}

// FormatVersion is the current on-disk schema version. Fresh stores are
// created at this version directly; older files go through migrate.
const FormatVersion = 3

// fileDB is the on-disk layout of the store.
type fileDB struct {
	FormatVersion int                        `json:"format_version"`
	LastUpdate    time.Time                  `json:"last_update"`
	Records       []*model.FingerprintRecord `json:"records"`
}

// ManagerImpl is a file-backed fingerprint store. The persisted table is
// only ever written by Commit; tasks never touch it mid-run.
type ManagerImpl struct {
	path string

	mu sync.RWMutex
	db fileDB
}

// NewManager creates a store backed by the given file path. The path must be
// absolute; nothing is read until Load.
func NewManager(path string) (*ManagerImpl, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("state path must be absolute: %s: %w", path, errors.ErrInvalidPath)
	}
	return &ManagerImpl{
		path: cleanPath,
		db: fileDB{
			FormatVersion: FormatVersion,
			LastUpdate:    time.Now(),
			Records:       []*model.FingerprintRecord{},
		},
	}, nil
}

// Load reads the store from disk. A missing file leaves a fresh store at the
// latest format version.
func (m *ManagerImpl) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var db fileDB
	if err := json.Unmarshal(data, &db); err != nil {
		return errors.Wrap(errors.ErrStateCorrupt, err.Error())
	}
	if err := migrate(&db); err != nil {
		return err
	}
	m.db = db
	return nil
}

// migrate upgrades an older on-disk layout in place. Each step moves the
// file one version forward; a fresh installation never runs any of them.
func migrate(db *fileDB) error {
	if db.FormatVersion > FormatVersion || db.FormatVersion < 1 {
		return errors.Wrapf(errors.ErrStateVersion, "version %d", db.FormatVersion)
	}
	if db.FormatVersion == 1 {
		// v1 predates record statuses; everything on disk was synced.
		for _, rec := range db.Records {
			if rec.Status == "" {
				rec.Status = model.StatusSynced
			}
		}
		db.FormatVersion = 2
	}
	if db.FormatVersion == 2 {
		// v2 predates resolution kinds and module types.
		for _, rec := range db.Records {
			if rec.Kind == "" {
				rec.Kind = model.ResolutionDirect
			}
		}
		db.FormatVersion = 3
	}
	return nil
}

// Records returns a snapshot of all persisted records.
func (m *ManagerImpl) Records() []*model.FingerprintRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.FingerprintRecord, len(m.db.Records))
	for i, rec := range m.db.Records {
		cp := *rec
		out[i] = &cp
	}
	return out
}

// save writes the store atomically: marshal to a temp file in the state
// directory, sync, then rename over the old file. This is the all-or-nothing
// transaction behind Commit.
func (m *ManagerImpl) save(db fileDB) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "coursedl-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}
	if err = os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Commit applies the successful outcomes of a run to the persisted table in
// a single transaction. Failed tasks only get their status and reason
// recorded; fingerprint and path stay untouched so the next run schedules
// them again. A save failure rejects the whole update.
func (m *ManagerImpl) Commit(outcomes []model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := fileDB{
		FormatVersion: FormatVersion,
		LastUpdate:    time.Now(),
		Records:       make([]*model.FingerprintRecord, 0, len(m.db.Records)+len(outcomes)),
	}
	byID := make(map[model.Identity]*model.FingerprintRecord, len(m.db.Records))
	for _, rec := range m.db.Records {
		cp := *rec
		next.Records = append(next.Records, &cp)
		byID[cp.Identity] = &cp
	}

	for _, oc := range outcomes {
		switch {
		case oc.Succeeded:
			applySuccess(&next, byID, oc)
		default:
			// Prior record untouched except for the failure marker.
			if rec, ok := byID[outcomeIdentity(oc)]; ok {
				rec.Status = model.StatusFailed
				rec.FailureReason = oc.ErrKind
			}
		}
	}

	if err := m.save(next); err != nil {
		return errors.Wrap(errors.ErrCommitFailed, err.Error())
	}
	m.db = next
	return nil
}

func applySuccess(db *fileDB, byID map[model.Identity]*model.FingerprintRecord, oc model.Outcome) {
	switch oc.Change.Kind {
	case model.ChangeAdded, model.ChangeModified:
		desc := oc.Change.Descriptor
		rec, ok := byID[desc.Identity]
		if !ok {
			rec = &model.FingerprintRecord{Identity: desc.Identity}
			db.Records = append(db.Records, rec)
			byID[desc.Identity] = rec
		}
		rec.Name = desc.Name
		rec.SavedPath = oc.SavedPath
		rec.LastFingerprint = desc.Fingerprint
		rec.Size = desc.Size
		rec.Kind = desc.Kind
		rec.ModuleType = desc.ModuleType
		rec.Status = model.StatusSynced
		rec.FailureReason = ""
	case model.ChangeMoved:
		if rec, ok := byID[oc.Change.Descriptor.Identity]; ok {
			rec.SavedPath = oc.SavedPath
			rec.Name = oc.Change.Descriptor.Name
			rec.Status = model.StatusSynced
			rec.FailureReason = ""
		}
	case model.ChangeDeleted:
		if rec, ok := byID[oc.Change.Previous.Identity]; ok {
			rec.Status = model.StatusPendingDelete
		}
	}
}

func outcomeIdentity(oc model.Outcome) model.Identity {
	if oc.Change.Descriptor != nil {
		return oc.Change.Descriptor.Identity
	}
	if oc.Change.Previous != nil {
		return oc.Change.Previous.Identity
	}
	return model.Identity{}
}
