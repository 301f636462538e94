// Package subprocess runs agents by spawning the provider CLI and parsing
// its line-delimited streaming output.
package subprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
	"github.com/agentdeck/agentdeck/pkg/claudecode"
)

const (
	// stopGracePeriod is how long SIGTERM gets before SIGKILL.
	stopGracePeriod = 2 * time.Second
	// stderrBufferBytes bounds the retained stderr for diagnostics.
	stderrBufferBytes = 2 * 1024 * 1024
	// stderrTailChars is how much stderr travels in a failure message.
	stderrTailChars = 2048
)

// Runner spawns one CLI process per started agent.
type Runner struct {
	*runner.Notifier
	builder runner.CommandBuilder
	logger  *logger.Logger

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd       *exec.Cmd
	stderr    *ringBuffer
	startedAt time.Time
	timeout   *time.Timer
	exited    chan struct{}

	mu           sync.Mutex
	status       domain.AgentStatus
	stopping     bool
	messageCount int
	stats        map[string]any
}

// New creates a subprocess runner with the given command builder.
func New(builder runner.CommandBuilder, log *logger.Logger) *Runner {
	return &Runner{
		Notifier: runner.NewNotifier(log),
		builder:  builder,
		logger:   log.WithFields(zap.String("component", "subprocess-runner")),
		procs:    make(map[string]*process),
	}
}

// Start spawns the provider CLI for the agent and begins streaming output.
func (r *Runner) Start(ctx context.Context, agentID string, session domain.Session) error {
	spec, err := r.builder(session)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if existing, ok := r.procs[agentID]; ok && existing.currentStatus() == domain.StatusRunning {
		r.mu.Unlock()
		return errors.Conflict("agent process already running: " + agentID)
	}

	// exec.Command, not CommandContext: context cancellation would SIGKILL
	// immediately and skip the graceful SIGTERM phase in Stop.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.mu.Unlock()
		return errors.Backend("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.mu.Unlock()
		return errors.Backend("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return errors.Backend("failed to start agent process", err)
	}

	proc := &process{
		cmd:       cmd,
		stderr:    newRingBuffer(stderrBufferBytes),
		startedAt: time.Now().UTC(),
		exited:    make(chan struct{}),
		status:    domain.StatusRunning,
	}
	r.procs[agentID] = proc
	r.mu.Unlock()

	r.logger.Info("agent process started",
		zap.String("agent_id", agentID),
		zap.String("path", spec.Path),
		zap.Int("pid", cmd.Process.Pid))

	if ms := session.Config.Timeout; ms > 0 {
		proc.timeout = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			r.logger.Warn("agent timed out, stopping",
				zap.String("agent_id", agentID),
				zap.Int64("timeout_ms", ms))
			_ = r.Stop(context.Background(), agentID)
		})
	}

	var pipes sync.WaitGroup
	pipes.Add(2)

	go func() {
		defer pipes.Done()
		r.consumeStdout(agentID, proc, stdout)
	}()
	go func() {
		defer pipes.Done()
		r.consumeStderr(agentID, proc, stderr)
	}()
	go r.waitExit(agentID, proc, &pipes)

	return nil
}

// consumeStdout parses stream-json lines and fans outputs to observers.
func (r *Runner) consumeStdout(agentID string, proc *process, stdout io.Reader) {
	stream := claudecode.NewStream(stdout, func(msg *claudecode.CLIMessage) {
		if msg.Type == claudecode.MessageTypeResult {
			proc.recordStats(msg.Stats())
		}
		for _, output := range runner.OutputsFromCLI(msg) {
			proc.countMessage()
			r.NotifyMessage(context.Background(), agentID, output)
		}
	}, r.logger)

	if err := stream.Run(context.Background()); err != nil {
		r.logger.Warn("stdout stream ended with error",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}

func (r *Runner) consumeStderr(agentID string, proc *process, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), claudecode.MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		proc.stderr.append(line)
		r.logger.Debug("agent stderr",
			zap.String("agent_id", agentID),
			zap.String("line", line))
	}
}

// waitExit reaps the process after both pipes are drained and reports the
// terminal result to observers.
func (r *Runner) waitExit(agentID string, proc *process, pipes *sync.WaitGroup) {
	pipes.Wait()
	err := proc.cmd.Wait()

	if proc.timeout != nil {
		proc.timeout.Stop()
	}

	duration := time.Since(proc.startedAt)
	exitCode := proc.cmd.ProcessState.ExitCode()
	stopping := proc.isStopping()

	ctx := context.Background()
	result := runner.Result{
		Duration:     duration,
		MessageCount: proc.currentMessageCount(),
		Stats:        proc.currentStats(),
	}

	switch {
	case stopping:
		proc.setStatus(domain.StatusTerminated)
		result.Status = runner.ResultFailed
	case err != nil || exitCode != 0:
		proc.setStatus(domain.StatusFailed)
		result.Status = runner.ResultFailed
		message := fmt.Sprintf("agent process exited with code %d", exitCode)
		if tail := proc.stderr.tail(stderrTailChars); tail != "" {
			message += ": " + tail
		}
		r.NotifyError(ctx, agentID, runner.ErrorEvent{
			Kind:    errors.ErrCodeBackendError,
			Message: message,
		})
	default:
		proc.setStatus(domain.StatusCompleted)
		result.Status = runner.ResultSuccess
	}

	r.logger.Info("agent process exited",
		zap.String("agent_id", agentID),
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", duration),
		zap.Bool("stopped", stopping))

	r.NotifyComplete(ctx, agentID, result)
	close(proc.exited)
}

// Stop terminates the agent's process group: SIGTERM, a grace period, then
// SIGKILL. Idempotent once the process has exited.
func (r *Runner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	proc, ok := r.procs[agentID]
	r.mu.Unlock()
	if !ok {
		return errors.NotFound("agent process", agentID)
	}

	select {
	case <-proc.exited:
		return nil
	default:
	}

	proc.markStopping()
	pid := proc.cmd.Process.Pid

	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = terminateProcessGroup(pgid)
	} else {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-proc.exited:
		return nil
	case <-ctx.Done():
	case <-time.After(stopGracePeriod):
	}

	if err == nil {
		_ = killProcessGroup(pgid)
	} else {
		_ = proc.cmd.Process.Kill()
	}

	select {
	case <-proc.exited:
	case <-time.After(stopGracePeriod):
		r.logger.Error("agent process did not exit after SIGKILL",
			zap.String("agent_id", agentID),
			zap.Int("pid", pid))
	}
	return nil
}

// Status reports the tracked lifecycle state of an agent's process.
func (r *Runner) Status(agentID string) (domain.AgentStatus, error) {
	r.mu.Lock()
	proc, ok := r.procs[agentID]
	r.mu.Unlock()
	if !ok {
		return "", errors.NotFound("agent process", agentID)
	}
	return proc.currentStatus(), nil
}

func (p *process) currentStatus() domain.AgentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) setStatus(status domain.AgentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *process) markStopping() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopping = true
}

func (p *process) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *process) countMessage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageCount++
}

func (p *process) currentMessageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messageCount
}

func (p *process) recordStats(stats map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = stats
}

func (p *process) currentStats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
