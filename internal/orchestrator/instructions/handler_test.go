package instructions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func newTestHandler(t *testing.T) (*Handler, string, string) {
	t.Helper()
	dir := t.TempDir()
	userPath := filepath.Join(dir, "home", ".claude", "CLAUDE.md")
	projectPath := filepath.Join(dir, "project", "CLAUDE.md")
	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	h, err := NewHandler(userPath, projectPath, log)
	require.NoError(t, err)
	return h, userPath, projectPath
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPrepareEmptyInstructionsIsNoOp(t *testing.T) {
	h, userPath, projectPath := newTestHandler(t)

	for _, instructions := range []string{"", "   ", "\n\t "} {
		backup, err := h.Prepare(instructions)
		require.NoError(t, err)
		assert.Nil(t, backup)
	}

	_, err := os.Stat(userPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(projectPath)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareCreatesFilesWithParents(t *testing.T) {
	h, userPath, projectPath := newTestHandler(t)

	backup, err := h.Prepare("focus on the parser")
	require.NoError(t, err)
	require.NotNil(t, backup)

	assert.Equal(t, "", readFile(t, userPath))
	assert.Equal(t, "focus on the parser", readFile(t, projectPath))
	assert.Nil(t, backup.UserContent)
	assert.Nil(t, backup.ProjectContent)
	assert.Equal(t, userPath, backup.UserPath)
	assert.Equal(t, projectPath, backup.ProjectPath)
	assert.False(t, backup.Timestamp.IsZero())
}

func TestRestorePutsOriginalContentBack(t *testing.T) {
	h, userPath, projectPath := newTestHandler(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("global rules"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(projectPath), 0o755))
	require.NoError(t, os.WriteFile(projectPath, []byte("project rules"), 0o644))

	backup, err := h.Prepare("launch-specific instructions")
	require.NoError(t, err)
	require.NotNil(t, backup.UserContent)
	require.NotNil(t, backup.ProjectContent)
	assert.Equal(t, "global rules", *backup.UserContent)
	assert.Equal(t, "project rules", *backup.ProjectContent)

	assert.Equal(t, "", readFile(t, userPath))
	assert.Equal(t, "launch-specific instructions", readFile(t, projectPath))

	require.NoError(t, h.Restore(backup))
	assert.Equal(t, "global rules", readFile(t, userPath))
	assert.Equal(t, "project rules", readFile(t, projectPath))
}

func TestRestoreRemovesFilesAbsentBeforePrepare(t *testing.T) {
	h, userPath, projectPath := newTestHandler(t)

	backup, err := h.Prepare("temporary instructions")
	require.NoError(t, err)

	require.NoError(t, h.Restore(backup))

	_, err = os.Stat(userPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(projectPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreNilBackupIsNoOp(t *testing.T) {
	h, _, _ := newTestHandler(t)
	assert.NoError(t, h.Restore(nil))
}

func TestRestoreIsIdempotent(t *testing.T) {
	h, userPath, _ := newTestHandler(t)

	backup, err := h.Prepare("instructions")
	require.NoError(t, err)

	require.NoError(t, h.Restore(backup))
	require.NoError(t, h.Restore(backup))

	_, err = os.Stat(userPath)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareReadFailureNamesPath(t *testing.T) {
	dir := t.TempDir()
	// A directory where the user file is expected makes the read fail with
	// something other than "not exist".
	userPath := filepath.Join(dir, "CLAUDE.md")
	require.NoError(t, os.MkdirAll(userPath, 0o755))
	projectPath := filepath.Join(dir, "project", "CLAUDE.md")

	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	h, err := NewHandler(userPath, projectPath, log)
	require.NoError(t, err)

	backup, err := h.Prepare("instructions")
	require.Error(t, err)
	assert.Nil(t, backup)
	assert.Contains(t, err.Error(), userPath)

	_, err = os.Stat(projectPath)
	assert.True(t, os.IsNotExist(err), "project file must stay untouched")
}

func TestPrepareProjectWriteFailureRestoresUserFile(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "home", "CLAUDE.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("original"), 0o644))

	// A dangling symlink as the project parent: reads report "not exist",
	// writes cannot create the directory.
	parent := filepath.Join(dir, "project")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), parent))
	projectPath := filepath.Join(parent, "CLAUDE.md")

	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	h, err := NewHandler(userPath, projectPath, log)
	require.NoError(t, err)

	backup, err := h.Prepare("instructions")
	require.Error(t, err)
	assert.Nil(t, backup)
	assert.Contains(t, err.Error(), projectPath)

	assert.Equal(t, "original", readFile(t, userPath), "user file must be rolled back")
}

func TestRestoreAttemptsBothTargetsOnFailure(t *testing.T) {
	dir := t.TempDir()
	// The user parent is a regular file, so restoring under it fails.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))
	userPath := filepath.Join(blocked, "CLAUDE.md")
	projectPath := filepath.Join(dir, "CLAUDE.md")

	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	h, err := NewHandler(userPath, projectPath, log)
	require.NoError(t, err)

	user := "user content"
	project := "project content"
	err = h.Restore(&Backup{
		UserContent:    &user,
		ProjectContent: &project,
		UserPath:       userPath,
		ProjectPath:    projectPath,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), userPath)
	assert.Equal(t, "project content", readFile(t, projectPath),
		"second target must still be restored")
}

func TestNewHandlerExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	h, err := NewHandler("~/.claude/CLAUDE.md", "./CLAUDE.md", log)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".claude", "CLAUDE.md"), h.userPath)
	assert.Equal(t, "./CLAUDE.md", h.projectPath)
}
