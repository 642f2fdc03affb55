// Package archive unpacks folder modules that were fetched as a single zip
// export into their target directory.
package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"github.com/glorpus-work/coursedl/pkg/errors"
	"github.com/glorpus-work/coursedl/pkg/fsutil"
)

// Manager handles archive extraction.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// ExtractAll extracts all files from the archive into destDir. Entry paths
// come from the remote export and are confined to destDir.
func (am *Manager) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %s", archivePath)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	if err := os.MkdirAll(destDir, fsutil.DirModeSecure); err != nil {
		return errors.Wrap(err, "failed to create destination directory")
	}

	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return am.extractEntry(fsys, path, destDir, d)
	})
}

// extractEntry writes a single archive entry below destDir.
func (am *Manager) extractEntry(fsys fs.FS, path, destDir string, d fs.DirEntry) error {
	if path == "." {
		return nil
	}

	targetPath := filepath.Join(destDir, filepath.FromSlash(path))
	if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(filepath.Separator)) {
		return errors.Wrapf(errors.ErrInvalidPath, "archive entry %q escapes destination", path)
	}

	if d.IsDir() {
		return os.MkdirAll(targetPath, fsutil.DirModeSecure)
	}

	info, err := d.Info()
	if err != nil {
		return errors.Wrapf(err, "failed to stat archive entry %s", path)
	}
	// Zip exports carry only regular files; anything else is dropped.
	if !info.Mode().IsRegular() {
		return nil
	}

	srcFile, err := fsys.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive entry %s", path)
	}
	defer func() { _ = srcFile.Close() }()

	if _, err := fsutil.WriteStream(targetPath, srcFile); err != nil {
		return errors.Wrapf(err, "failed to extract %s", path)
	}
	return os.Chtimes(targetPath, info.ModTime(), info.ModTime())
}
