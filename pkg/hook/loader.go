package hook

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

// scriptExtension is the only supported hook file extension.
const scriptExtension = ".tengo"

// LoadFromDir loads all hook scripts from a directory. Files are matched by
// name: <hook-type>.tengo. Unknown names and other extensions are skipped.
// A missing directory is not an error.
func LoadFromDir(manager Manager, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(errors.ErrHookLoad, "failed to read hook directory %s: %v", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != scriptExtension {
			continue
		}

		hookType := Type(strings.TrimSuffix(entry.Name(), scriptExtension))
		switch hookType {
		case PostFile, PostRun, OnFail:
		default:
			continue
		}

		hookPath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(hookPath)
		if err != nil {
			return errors.Wrapf(errors.ErrHookLoad, "error reading hook file %s: %v", hookPath, err)
		}

		if err := manager.AddHook(Hook{Type: hookType, Content: string(content)}); err != nil {
			return errors.Wrapf(err, "error adding hook %s", hookType)
		}
	}

	return nil
}
