// ABOUTME: Auto-start launcher for backend MCP server processes
// ABOUTME: Whitelisted commands run detached with PID and log files, then the endpoint is polled until it answers

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/2389/switchboard/internal/store"
)

// AllowedCommands is the fixed set of programs a backend may be started with.
var AllowedCommands = map[string]bool{
	"npx":     true,
	"node":    true,
	"php":     true,
	"python":  true,
	"python3": true,
	"ruby":    true,
	"java":    true,
	"go":      true,
	"deno":    true,
	"bun":     true,
}

// SpawnFunc runs a shell script that starts a detached process and prints its PID.
type SpawnFunc func(ctx context.Context, script string) (int, error)

// LauncherConfig configures a Launcher.
type LauncherConfig struct {
	RunDir       string
	PollInterval time.Duration
	// PollTimeout bounds WaitReady when the caller passes zero.
	PollTimeout time.Duration
	Client      *Client
	Spawn       SpawnFunc
	Logger      *slog.Logger
}

// Launcher starts, inspects, and stops backend processes.
type Launcher struct {
	runDir       string
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       *Client
	spawn        SpawnFunc
	logger       *slog.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	l := &Launcher{
		runDir:       cfg.RunDir,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		client:       cfg.Client,
		spawn:        cfg.Spawn,
		logger:       cfg.Logger,
	}
	if l.runDir == "" {
		l.runDir = os.TempDir()
	}
	if l.pollInterval <= 0 {
		l.pollInterval = 500 * time.Millisecond
	}
	if l.pollTimeout <= 0 {
		l.pollTimeout = 10 * time.Second
	}
	if l.spawn == nil {
		l.spawn = shellSpawn
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "launcher")
	return l
}

// StartResult describes the outcome of Start.
type StartResult struct {
	PID            int
	AlreadyRunning bool
	LogFile        string
}

// ProcessStatus is a point-in-time view of a backend process.
type ProcessStatus struct {
	Running    bool
	PID        int
	Reachable  bool
	StatusCode int
	LogFile    string
}

// PIDFile returns the path of the backend's PID file.
func (l *Launcher) PIDFile(slug string) string {
	return filepath.Join(l.runDir, "mcp-server-"+slug+".pid")
}

// LogFile returns the path the backend's output is redirected to.
func (l *Launcher) LogFile(slug string) string {
	return filepath.Join(l.runDir, "mcp-server-"+slug+".log")
}

// Start launches the backend's startup command unless a live process already
// owns its PID file, then waits for the endpoint to answer within pollTimeout.
// Concurrent callers may both pass the PID check and spawn twice; the poll
// accepts whichever process binds the port.
func (l *Launcher) Start(ctx context.Context, b *store.Backend, pollTimeout time.Duration) (*StartResult, error) {
	if strings.TrimSpace(b.StartupCommand) == "" {
		return nil, ErrNoStartupCommand
	}
	if !AllowedCommands[b.StartupCommand] {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, b.StartupCommand)
	}

	result := &StartResult{LogFile: l.LogFile(b.Slug)}
	logger := l.logger.With("backend_slug", b.Slug)

	if pid, ok := l.runningPID(b.Slug); ok {
		logger.Info("backend process already running", "pid", pid)
		result.PID = pid
		result.AlreadyRunning = true
	} else {
		script := BuildCommand(b, result.LogFile)
		logger.Info("starting backend process", "command", b.StartupCommand, "dir", b.StartupWorkingDir)

		pid, err := l.spawn(ctx, script)
		if err != nil {
			return nil, fmt.Errorf("starting %s: %w", b.Slug, err)
		}
		if err := os.WriteFile(l.PIDFile(b.Slug), []byte(strconv.Itoa(pid)), 0o644); err != nil {
			logger.Warn("failed to write pid file", "error", err)
		}
		result.PID = pid
	}

	if b.EndpointURL == "" || !isRemote(b.EndpointURL) {
		return result, nil
	}
	if err := l.WaitReady(ctx, b.EndpointURL, AuthHeaders(b), pollTimeout); err != nil {
		return result, err
	}
	logger.Info("backend ready", "pid", result.PID)
	return result, nil
}

// WaitReady polls the endpoint with initialize requests until any 2xx or 3xx reply.
func (l *Launcher) WaitReady(ctx context.Context, endpoint string, headers http.Header, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.pollTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		code, _ := l.client.Probe(ctx, endpoint, headers, l.pollInterval*2)
		if code >= 200 && code < 400 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %s", ErrStartTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status reports whether the backend's process is alive and its endpoint answers.
func (l *Launcher) Status(ctx context.Context, b *store.Backend) ProcessStatus {
	st := ProcessStatus{LogFile: l.LogFile(b.Slug)}
	st.PID, st.Running = l.runningPID(b.Slug)

	if isRemote(b.EndpointURL) {
		code, err := l.client.Probe(ctx, b.EndpointURL, AuthHeaders(b), 2*time.Second)
		if err == nil {
			st.StatusCode = code
			st.Reachable = code >= 200 && code < 400
		}
	}
	return st
}

// Stop terminates the backend's process: SIGTERM, a short grace period, then SIGKILL.
// The PID file is removed in every case where it existed.
func (l *Launcher) Stop(b *store.Backend) error {
	pidFile := l.PIDFile(b.Slug)
	pid, ok := l.runningPID(b.Slug)
	if !ok {
		_ = os.Remove(pidFile)
		return ErrNotRunning
	}
	defer func() { _ = os.Remove(pidFile) }()

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling process %d: %w", pid, err)
	}

	time.Sleep(500 * time.Millisecond)
	if processAlive(pid) {
		l.logger.Warn("backend ignored SIGTERM, killing", "backend_slug", b.Slug, "pid", pid)
		_ = proc.Signal(syscall.SIGKILL)
	}
	l.logger.Info("stopped backend process", "backend_slug", b.Slug, "pid", pid)
	return nil
}

func (l *Launcher) runningPID(slug string) (int, bool) {
	data, err := os.ReadFile(l.PIDFile(slug))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

// processAlive checks /proc when available and falls back to signal 0.
func processAlive(pid int) bool {
	if _, err := os.Stat("/proc/self"); err == nil {
		_, err := os.Stat("/proc/" + strconv.Itoa(pid))
		return err == nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// BuildCommand renders the detached launch script for a backend.
func BuildCommand(b *store.Backend, logFile string) string {
	var sb strings.Builder
	if b.StartupWorkingDir != "" {
		sb.WriteString("cd ")
		sb.WriteString(shellEscape(b.StartupWorkingDir))
		sb.WriteString(" && ")
	}
	sb.WriteString("nohup ")
	sb.WriteString(b.StartupCommand)
	for _, arg := range b.StartupArgs {
		sb.WriteByte(' ')
		sb.WriteString(shellEscape(arg))
	}
	sb.WriteString(" > ")
	sb.WriteString(shellEscape(logFile))
	sb.WriteString(" 2>&1 & echo $!")
	return sb.String()
}

// shellEscape single-quotes s for POSIX sh.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellSpawn(ctx context.Context, script string) (int, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", script).Output()
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("reading pid from %q: %w", strings.TrimSpace(string(out)), err)
	}
	return pid, nil
}

// isRemote reports whether an endpoint is an http(s) URL rather than a local path.
func isRemote(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
