package state

import (
	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/model"
)

// Diff classifies a full fresh listing against the persisted table. Every
// identity from either side lands in exactly one bucket:
//
//   - Added: present now, absent before (or previously tombstoned).
//   - Modified: present both sides, fingerprint differs; any fingerprint
//     difference wins over a path difference. Records whose last attempt
//     failed are re-scheduled here even when fingerprints match.
//   - Moved: fingerprint byte-identical, target path differs. Rename only.
//   - Deleted: stored and synced before, absent now. Deletions of ephemeral
//     module types (forum, calendar) are ignored.
//
// Unchanged entries (same identity, fingerprint and path) are carried in
// ChangeSet.Unchanged for accounting and get no task.
func (m *ManagerImpl) Diff(listing []model.FileDescriptor) (*model.ChangeSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[model.Identity]bool, len(listing))
	for i := range listing {
		if seen[listing[i].Identity] {
			return nil, errors.Wrapf(errors.ErrDuplicateEntry, "%s", listing[i].Identity)
		}
		seen[listing[i].Identity] = true
	}

	stored := make(map[model.Identity]*model.FingerprintRecord, len(m.db.Records))
	for _, rec := range m.db.Records {
		stored[rec.Identity] = rec
	}

	cs := &model.ChangeSet{}
	matched := make(map[model.Identity]bool, len(listing))

	for i := range listing {
		desc := &listing[i]
		rec, ok := stored[desc.Identity]
		if !ok || rec.Status == model.StatusPendingDelete {
			cs.Added = append(cs.Added, model.Change{Kind: model.ChangeAdded, Descriptor: desc})
			continue
		}
		matched[desc.Identity] = true

		switch {
		case rec.LastFingerprint != desc.Fingerprint || rec.Status == model.StatusFailed:
			cs.Modified = append(cs.Modified, model.Change{Kind: model.ChangeModified, Descriptor: desc, Previous: rec})
		case rec.SavedPath != desc.CleanTargetPath():
			cs.Moved = append(cs.Moved, model.Change{Kind: model.ChangeMoved, Descriptor: desc, Previous: rec})
		default:
			cs.Unchanged = append(cs.Unchanged, model.Change{Kind: model.ChangeUnchanged, Descriptor: desc, Previous: rec})
		}
	}

	for _, rec := range m.db.Records {
		if matched[rec.Identity] || rec.Status == model.StatusPendingDelete {
			continue
		}
		if ephemeralModule(rec.ModuleType) {
			continue
		}
		cs.Deleted = append(cs.Deleted, model.Change{Kind: model.ChangeDeleted, Previous: rec})
	}

	return cs, nil
}

func ephemeralModule(moduleType string) bool {
	d := model.FileDescriptor{ModuleType: moduleType}
	return d.Ephemeral()
}
