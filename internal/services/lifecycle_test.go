package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestWriteWithPolicy(t *testing.T) {
	t.Run("rename", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "name.json")
		require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

		got, ok, err := WriteWithPolicy(dst, strings.NewReader("new"), config.CollisionRename)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, filepath.Join(dir, "name (1).json"), got)
		assert.Equal(t, "old", readString(t, dst))
		assert.Equal(t, "new", readString(t, got))

		got, _, err = WriteWithPolicy(dst, strings.NewReader("newer"), config.CollisionRename)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "name (2).json"), got)
	})

	t.Run("overwrite", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "name.json")
		require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

		got, ok, err := WriteWithPolicy(dst, strings.NewReader("new"), config.CollisionOverwrite)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, dst, got)
		assert.Equal(t, "new", readString(t, dst))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp file is left behind")
	})

	t.Run("skip", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "name.json")
		require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

		got, ok, err := WriteWithPolicy(dst, strings.NewReader("new"), config.CollisionSkip)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, got)
		assert.Equal(t, "old", readString(t, dst))
	})

	t.Run("free path", func(t *testing.T) {
		for _, policy := range []config.CollisionPolicy{config.CollisionRename, config.CollisionSkip, config.CollisionOverwrite} {
			dst := filepath.Join(t.TempDir(), "fresh.json")
			got, ok, err := WriteWithPolicy(dst, strings.NewReader("x"), policy)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, dst, got, string(policy))
		}
	})
}

func TestMoveWithPolicy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))
	dstDir := filepath.Join(dir, "processed")
	require.NoError(t, os.MkdirAll(dstDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.pdf"), []byte("earlier"), 0o644))

	got, ok, err := MoveWithPolicy(src, filepath.Join(dstDir, "a.pdf"), config.CollisionRename)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dstDir, "a (1).pdf"), got)
	assert.Equal(t, "source", readString(t, got))
	assert.NoFileExists(t, src)
	assert.Equal(t, "earlier", readString(t, filepath.Join(dstDir, "a.pdf")))
}

func TestWorkspaceLifecycle(t *testing.T) {
	base := t.TempDir()
	ws := NewWorkspace(base)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "the root is created lazily")

	src := models.NewSourceFile("/in/report.pdf", 10, 1)
	scope, err := ws.FileScope(0, src)
	require.NoError(t, err)
	assert.DirExists(t, scope.PartsDir)
	assert.DirExists(t, scope.ResultsDir)

	root, err := ws.Root()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(root), "ocrflow-"))
	assert.True(t, strings.HasPrefix(scope.Dir, root))

	require.NoError(t, scope.Close())
	assert.NoDirExists(t, scope.Dir)

	require.NoError(t, ws.Close())
	assert.NoDirExists(t, root)

	_, err = ws.Root()
	perr, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.True(t, perr.IsFatal())
}

func TestWorkspaceUnusableBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))

	_, err := NewWorkspace(base).Root()
	perr, ok := models.AsPipelineError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeSessionTemp, perr.Code)
	assert.True(t, perr.IsFatal())
}

func TestPostProcessorMove(t *testing.T) {
	run := config.RunConfig{
		MoveOnSuccess: true,
		MoveOnFailure: false,
		SuccessFolder: "processed",
		FailureFolder: "failed",
		Collision:     config.CollisionRename,
	}
	pp := NewPostProcessor(run)

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	src := models.NewSourceFile(path, 1, 1)

	dest, err := pp.Move(src, models.OutcomeError)
	require.NoError(t, err)
	assert.Empty(t, dest, "failure moves are disabled")
	assert.FileExists(t, path)

	dest, err = pp.Move(src, models.OutcomeInterrupted)
	require.NoError(t, err)
	assert.Empty(t, dest)

	dest, err = pp.Move(src, models.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processed", "doc.pdf"), dest)
	assert.NoFileExists(t, path)
}
