package hook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/coursedl/pkg/errors"
)

func TestExecute_NoScriptIsNoop(t *testing.T) {
	e := NewTengoExecutor()
	require.NoError(t, e.Execute(PostRun, Context{}))
}

func TestExecute_SeesContextVariables(t *testing.T) {
	e := NewTengoExecutor()
	require.NoError(t, e.AddHook(Hook{
		Type: PostFile,
		Content: `
err := ""
if runID == "" { err = "missing runID" }
if filePath != "a/f.pdf" { err = "wrong filePath: " + filePath }
if status != "added" { err = "wrong status" }
`,
	}))

	err := e.Execute(PostFile, Context{
		RunID:    "run-1",
		Course:   "Algorithms",
		FilePath: "a/f.pdf",
		Status:   "added",
	})
	require.NoError(t, err)
}

func TestExecute_ScriptError(t *testing.T) {
	e := NewTengoExecutor()
	require.NoError(t, e.AddHook(Hook{Type: OnFail, Content: `err := "refusing"`}))

	err := e.Execute(OnFail, Context{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHookScript)
}

func TestExecute_CompileFailure(t *testing.T) {
	e := NewTengoExecutor()
	require.NoError(t, e.AddHook(Hook{Type: PostRun, Content: `if {`}))

	err := e.Execute(PostRun, Context{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHookExecution)
}

func TestAddHook_EmptyType(t *testing.T) {
	e := NewTengoExecutor()
	assert.ErrorIs(t, e.AddHook(Hook{Content: "x := 1"}), errors.ErrHookTypeEmpty)
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post_run.tengo"), []byte(`x := 1`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "on_fail.tengo"), []byte(`x := 1`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unknown.tengo"), []byte(`x := 1`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post_file.sh"), []byte(`echo`), 0o640))

	e := NewTengoExecutor()
	require.NoError(t, LoadFromDir(e, dir))

	assert.True(t, e.HasHook(PostRun))
	assert.True(t, e.HasHook(OnFail))
	assert.False(t, e.HasHook(PostFile))
	assert.False(t, e.HasHook(Type("unknown")))
}

func TestLoadFromDir_MissingDirIsNoop(t *testing.T) {
	e := NewTengoExecutor()
	require.NoError(t, LoadFromDir(e, filepath.Join(t.TempDir(), "absent")))
}
