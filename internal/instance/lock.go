// Package instance enforces the single-engine-process discipline with a
// pidfile lock. Two engines sharing a working directory would race on the
// instruction file swap, so startup refuses to proceed while another live
// process holds the lock. A lock whose pid no longer exists is stale and is
// cleaned up before acquiring.
package instance

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Record is the serialized content of the lock file.
type Record struct {
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"startedAt"`
	Port           int       `json:"port"`
	RuntimeVersion string    `json:"runtimeVersion"`
	InstanceID     string    `json:"instanceId"`
}

// Lock guards the lock file at a fixed path. Release only removes a file
// this Lock wrote: a record with a foreign instanceId is left in place.
type Lock struct {
	path   string
	logger *logger.Logger

	mu     sync.Mutex
	record *Record
}

// New creates a lock manager for the given file path. Nothing is acquired
// until Acquire is called.
func New(path string, log *logger.Logger) *Lock {
	return &Lock{
		path:   path,
		logger: log.WithFields(zap.String("component", "instance_lock")),
	}
}

// Acquire claims the lock for this process, recording its pid, the engine
// port, and a fresh instance id. A live holder yields InstanceRunning with
// the holder's pid and port; a stale or unreadable lock file is removed
// first. Acquiring an already-held lock is a no-op.
func (l *Lock) Acquire(port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record != nil {
		return nil
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.IO(l.path, err)
		}
	}

	if err := l.cleanStale(); err != nil {
		return err
	}

	record := &Record{
		PID:            os.Getpid(),
		StartedAt:      time.Now().UTC(),
		Port:           port,
		RuntimeVersion: runtime.Version(),
		InstanceID:     uuid.New().String(),
	}
	if err := l.writeRecord(record); err != nil {
		return err
	}

	l.record = record
	l.logger.Info("instance lock acquired",
		zap.String("path", l.path),
		zap.Int("pid", record.PID),
		zap.Int("port", record.Port),
		zap.String("instance_id", record.InstanceID))
	return nil
}

// Release removes the lock file if this Lock owns it. It is idempotent:
// releasing an unheld lock or a lock whose file is already gone returns nil.
// A file holding a different instanceId is left in place with a warning,
// since deleting it would unlock somebody else's engine.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record == nil {
		return nil
	}
	owned := l.record
	l.record = nil

	holder, err := l.readRecord()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		l.logger.Warn("instance lock unreadable on release, leaving in place",
			zap.String("path", l.path),
			zap.Error(err))
		return nil
	}
	if holder.InstanceID != owned.InstanceID {
		l.logger.Warn("instance lock held by another instance, leaving in place",
			zap.String("path", l.path),
			zap.String("holder_instance_id", holder.InstanceID),
			zap.Int("holder_pid", holder.PID))
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return apperrors.IO(l.path, err)
	}
	l.logger.Info("instance lock released", zap.String("path", l.path))
	return nil
}

// Holder reads the current lock file. It returns os.ErrNotExist when no
// lock is held by anyone.
func (l *Lock) Holder() (*Record, error) {
	return l.readRecord()
}

// cleanStale removes a lock left behind by a dead process. A live holder
// turns into InstanceRunning; an unparseable file is treated as stale.
func (l *Lock) cleanStale() error {
	holder, err := l.readRecord()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		l.logger.Warn("removing unreadable instance lock",
			zap.String("path", l.path),
			zap.Error(err))
		return l.removeLockFile()
	}

	if pidAlive(holder.PID) {
		return apperrors.InstanceRunning(holder.PID, holder.Port)
	}

	l.logger.Info("removing stale instance lock",
		zap.String("path", l.path),
		zap.Int("dead_pid", holder.PID),
		zap.Time("holder_started_at", holder.StartedAt))
	return l.removeLockFile()
}

func (l *Lock) removeLockFile() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return apperrors.IO(l.path, err)
	}
	return nil
}

// writeRecord creates the lock file atomically. Losing the creation race
// reports the winner as the running instance.
func (l *Lock) writeRecord(record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.InternalError("marshaling instance lock record", err)
	}

	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		holder, rerr := l.readRecord()
		if rerr != nil {
			return apperrors.IO(l.path, rerr)
		}
		return apperrors.InstanceRunning(holder.PID, holder.Port)
	}
	if err != nil {
		return apperrors.IO(l.path, err)
	}

	_, werr := file.Write(data)
	cerr := file.Close()
	if werr != nil {
		return apperrors.IO(l.path, werr)
	}
	if cerr != nil {
		return apperrors.IO(l.path, cerr)
	}
	return nil
}

func (l *Lock) readRecord() (*Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// pidAlive reports whether the OS knows a process with the given pid.
// Signal 0 performs the existence check without delivering anything; EPERM
// means the process exists but belongs to another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
