package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStream(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "course", "week 1", "notes.pdf")

	n, err := WriteStream(target, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	// No temp leftovers next to the target.
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteStream_FailedReaderLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "broken.bin")

	_, err := WriteStream(target, failingReader{})
	require.Error(t, err)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, os.ErrClosed }

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "nope")))
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a", "f.txt")
	dst := filepath.Join(dir, "b", "f.txt")

	_, err := WriteStream(src, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, Move(src, dst))

	_, statErr := os.Stat(src)
	assert.True(t, os.IsNotExist(statErr))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Lecture 1", want: "Lecture 1"},
		{name: "separators", in: "a/b\\c", want: "a_b_c"},
		{name: "forbidden", in: `q:"u*e?s<t>`, want: "q__u_e_s_t_"},
		{name: "trailing dots", in: "notes... ", want: "notes"},
		{name: "empty", in: "", want: "untitled"},
		{name: "only dots", in: "...", want: "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestJoinCoursePath(t *testing.T) {
	assert.Equal(t, "Course A/Week 1_2/file.pdf", JoinCoursePath("Course A", "", "Week 1/2", "file.pdf"))
}
