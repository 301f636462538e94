// Package instructions swaps per-launch instruction files in and out around
// an agent launch. The CLI reads a user-level file (~/.claude/CLAUDE.md) and
// a project-level file (./CLAUDE.md) at startup; to give one launch its own
// instructions without the user's globals bleeding in, Prepare blanks the
// user file and writes the launch instructions to the project file, and
// Restore puts both back exactly as they were.
package instructions

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Backup captures the state of both instruction files before Prepare touched
// them. A nil content pointer means the file did not exist.
type Backup struct {
	UserContent    *string
	ProjectContent *string
	UserPath       string
	ProjectPath    string
	Timestamp      time.Time
}

// Handler prepares and restores the instruction files at fixed locations.
// It carries no lock: launches are serialized by the queue, which is the
// only caller.
type Handler struct {
	userPath    string
	projectPath string
	logger      *logger.Logger
}

// NewHandler builds a handler for the given instruction file locations. A
// leading "~/" in either path is expanded to the user's home directory.
func NewHandler(userPath, projectPath string, log *logger.Logger) (*Handler, error) {
	user, err := expandPath(userPath)
	if err != nil {
		return nil, apperrors.IO(userPath, err)
	}
	project, err := expandPath(projectPath)
	if err != nil {
		return nil, apperrors.IO(projectPath, err)
	}
	return &Handler{userPath: user, projectPath: project, logger: log}, nil
}

// Prepare backs up both instruction files, blanks the user-level one and
// writes instructions to the project-level one. Empty or whitespace-only
// instructions are a no-op: nothing is read or written and the returned
// backup is nil.
func (h *Handler) Prepare(instructions string) (*Backup, error) {
	if strings.TrimSpace(instructions) == "" {
		return nil, nil
	}

	userContent, err := readIfPresent(h.userPath)
	if err != nil {
		return nil, err
	}
	projectContent, err := readIfPresent(h.projectPath)
	if err != nil {
		return nil, err
	}

	backup := &Backup{
		UserContent:    userContent,
		ProjectContent: projectContent,
		UserPath:       h.userPath,
		ProjectPath:    h.projectPath,
		Timestamp:      time.Now(),
	}

	if err := writeFile(h.userPath, ""); err != nil {
		return nil, apperrors.IO(h.userPath, err)
	}
	if err := writeFile(h.projectPath, instructions); err != nil {
		// The user file is already blanked and no backup reaches the caller,
		// so put it back here.
		if rerr := restoreOne(h.userPath, userContent); rerr != nil {
			h.logger.Warn("failed to restore user instruction file after aborted prepare",
				zap.String("path", h.userPath),
				zap.Error(rerr))
		}
		return nil, apperrors.IO(h.projectPath, err)
	}

	h.logger.Debug("instruction files prepared",
		zap.String("user_path", h.userPath),
		zap.String("project_path", h.projectPath))
	return backup, nil
}

// Restore writes both instruction files back to their pre-launch state.
// A nil backup is a no-op. Files that did not exist before are removed.
// Both targets are always attempted; failures are joined.
func (h *Handler) Restore(backup *Backup) error {
	if backup == nil {
		return nil
	}

	var errs []error
	if err := restoreOne(backup.UserPath, backup.UserContent); err != nil {
		errs = append(errs, err)
	}
	if err := restoreOne(backup.ProjectPath, backup.ProjectContent); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	h.logger.Debug("instruction files restored",
		zap.String("user_path", backup.UserPath),
		zap.String("project_path", backup.ProjectPath))
	return nil
}

func restoreOne(path string, content *string) error {
	if content == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperrors.IO(path, err)
		}
		return nil
	}
	if err := writeFile(path, *content); err != nil {
		return apperrors.IO(path, err)
	}
	return nil
}

// readIfPresent returns the file's content, or a nil pointer when the file
// does not exist.
func readIfPresent(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.IO(path, err)
	}
	content := string(data)
	return &content, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
