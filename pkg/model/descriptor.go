// Package model provides the data structures shared between the listing
// providers, the fingerprint store and the download orchestrator.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolutionKind tags how a descriptor's bytes are obtained.
type ResolutionKind string

const (
	// ResolutionDirect means the content URL can be fetched as-is.
	ResolutionDirect ResolutionKind = "direct"
	// ResolutionIndirect means the content URL is a launch page that has to
	// go through the resolver chain before anything can be fetched.
	ResolutionIndirect ResolutionKind = "indirect"
)

// Identity is the composite key of a remote resource. It is unique within
// one synchronization run.
type Identity struct {
	CourseID   int    `json:"course_id"`
	ModuleID   int    `json:"module_id"`
	ContentURL string `json:"content_url"`
}

// String renders the identity for logs and task IDs.
func (id Identity) String() string {
	return fmt.Sprintf("%d/%d/%s", id.CourseID, id.ModuleID, id.ContentURL)
}

// FileDescriptor is the identity plus metadata of one remote resource,
// produced fresh each run by a listing provider. Descriptors are never
// mutated; a changed fingerprint yields a new descriptor.
type FileDescriptor struct {
	Identity

	Name        string         `json:"name"`
	TargetPath  string         `json:"target_path"` // relative to the download dir
	Size        int64          `json:"size"`
	Fingerprint string         `json:"fingerprint"`
	Kind        ResolutionKind `json:"kind"`
	ModuleType  string         `json:"module_type"` // resource, folder, url, kalvidres, ...

	// Unpack marks an archive artifact that is extracted next to itself
	// after a successful download (zip-exported folder modules).
	Unpack bool `json:"unpack,omitempty"`
}

// Ephemeral reports whether deletions of this descriptor's module type are
// ignored during diffing (forum posts and calendar entries churn on the
// platform side without the underlying content going away).
func (d *FileDescriptor) Ephemeral() bool {
	return strings.HasSuffix(d.ModuleType, "forum") || strings.HasSuffix(d.ModuleType, "calendar")
}

// CleanTargetPath returns the target path normalized for the local
// filesystem. Descriptor paths come from remote metadata and must never
// escape the download directory.
func (d *FileDescriptor) CleanTargetPath() string {
	p := filepath.Clean(filepath.FromSlash(d.TargetPath))
	for strings.HasPrefix(p, ".."+string(filepath.Separator)) {
		p = strings.TrimPrefix(p, ".."+string(filepath.Separator))
	}
	return strings.TrimPrefix(p, string(filepath.Separator))
}

// RecordStatus is the lifecycle state of a persisted record.
type RecordStatus string

const (
	// StatusSynced means the file is present on disk and current.
	StatusSynced RecordStatus = "synced"
	// StatusPendingDelete means the remote resource disappeared; the local
	// copy is kept but tombstoned.
	StatusPendingDelete RecordStatus = "pending_delete"
	// StatusFailed means the last attempt to fetch this resource failed;
	// the next run will retry it.
	StatusFailed RecordStatus = "failed"
)

// FingerprintRecord is the persisted counterpart of a FileDescriptor from
// the previous successful run. Owned exclusively by the fingerprint store
// and mutated only at commit time.
type FingerprintRecord struct {
	Identity

	Name            string         `json:"name"`
	SavedPath       string         `json:"saved_path"`
	LastFingerprint string         `json:"last_fingerprint"`
	Size            int64          `json:"size"`
	Kind            ResolutionKind `json:"kind"`
	ModuleType      string         `json:"module_type"`
	Status          RecordStatus   `json:"status"`
	FailureReason   string         `json:"failure_reason,omitempty"`
}
