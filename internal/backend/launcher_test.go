// ABOUTME: Tests for the backend process launcher
// ABOUTME: Covers command rendering, the whitelist, PID files, readiness polling, and stopping

package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLauncher(t *testing.T, spawn SpawnFunc) *Launcher {
	t.Helper()
	return NewLauncher(LauncherConfig{
		RunDir:       t.TempDir(),
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  time.Second,
		Client:       newTestClient(),
		Spawn:        spawn,
	})
}

func TestShellEscape(t *testing.T) {
	assert.Equal(t, `'plain'`, shellEscape("plain"))
	assert.Equal(t, `''`, shellEscape(""))
	assert.Equal(t, `'it'\''s'`, shellEscape("it's"))
	assert.Equal(t, `'$(rm -rf /)'`, shellEscape("$(rm -rf /)"))
}

func TestBuildCommand(t *testing.T) {
	b := testBackend("github", "http://localhost:3001/mcp")
	b.StartupCommand = "npx"
	b.StartupArgs = []string{"-y", "pkg; rm -rf /"}
	b.StartupWorkingDir = "/srv/my app"

	got := BuildCommand(b, "/tmp/mcp-server-github.log")
	assert.Equal(t,
		`cd '/srv/my app' && nohup npx '-y' 'pkg; rm -rf /' > '/tmp/mcp-server-github.log' 2>&1 & echo $!`,
		got)

	b.StartupWorkingDir = ""
	b.StartupArgs = nil
	assert.Equal(t, `nohup npx > '/tmp/x.log' 2>&1 & echo $!`, BuildCommand(b, "/tmp/x.log"))
}

func TestLauncher_Start_Rejected(t *testing.T) {
	l := newTestLauncher(t, requireNoSpawn(t))
	b := testBackend("tool", "")

	_, err := l.Start(context.Background(), b, 0)
	assert.ErrorIs(t, err, ErrNoStartupCommand)

	for _, cmd := range []string{"bash", "sh", "/usr/bin/node", "rm"} {
		b.StartupCommand = cmd
		_, err := l.Start(context.Background(), b, 0)
		assert.ErrorIs(t, err, ErrCommandNotAllowed, cmd)
	}
}

func TestLauncher_Start_WritesPIDFile(t *testing.T) {
	var script string
	l := newTestLauncher(t, func(_ context.Context, s string) (int, error) {
		script = s
		return os.Getpid(), nil
	})
	b := testBackend("local", "")
	b.StartupCommand = "node"
	b.StartupArgs = []string{"server.js"}

	res, err := l.Start(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), res.PID)
	assert.False(t, res.AlreadyRunning)
	assert.Contains(t, script, "nohup node 'server.js' > ")
	assert.Contains(t, script, l.LogFile("local"))

	data, err := os.ReadFile(l.PIDFile("local"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestLauncher_Start_AlreadyRunning(t *testing.T) {
	l := newTestLauncher(t, requireNoSpawn(t))
	b := testBackend("local", "")
	b.StartupCommand = "python3"
	require.NoError(t, os.WriteFile(l.PIDFile("local"), []byte(strconv.Itoa(os.Getpid())), 0o644))

	res, err := l.Start(context.Background(), b, 0)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, os.Getpid(), res.PID)
}

func TestLauncher_Start_PollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	l := newTestLauncher(t, func(context.Context, string) (int, error) { return os.Getpid(), nil })
	b := testBackend("slow", srv.URL)
	b.StartupCommand = "node"

	_, err := l.Start(context.Background(), b, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrStartTimeout)
}

func TestLauncher_WaitReady_AcceptsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	l := newTestLauncher(t, nil)
	require.NoError(t, l.WaitReady(context.Background(), srv.URL, nil, 100*time.Millisecond))
}

func TestLauncher_Status(t *testing.T) {
	backend := newFakeBackend(t)
	l := newTestLauncher(t, nil)
	b := testBackend("weather", backend.server.URL)

	st := l.Status(context.Background(), b)
	assert.False(t, st.Running)
	assert.True(t, st.Reachable)
	assert.Equal(t, http.StatusOK, st.StatusCode)

	require.NoError(t, os.WriteFile(l.PIDFile("weather"), []byte(strconv.Itoa(os.Getpid())), 0o644))
	st = l.Status(context.Background(), b)
	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.PID)
}

func TestLauncher_Stop_NotRunning(t *testing.T) {
	l := newTestLauncher(t, nil)
	b := testBackend("gone", "")

	assert.ErrorIs(t, l.Stop(b), ErrNotRunning)

	// Stale PID files are cleaned up
	require.NoError(t, os.WriteFile(l.PIDFile("gone"), []byte("999999999"), 0o644))
	assert.ErrorIs(t, l.Stop(b), ErrNotRunning)
	_, err := os.Stat(l.PIDFile("gone"))
	assert.True(t, os.IsNotExist(err))
}

func TestLauncher_Stop_TerminatesProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	l := newTestLauncher(t, nil)
	b := testBackend("sleeper", "")
	require.NoError(t, os.WriteFile(l.PIDFile("sleeper"), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))

	require.NoError(t, l.Stop(b))

	err := cmd.Wait()
	assert.Error(t, err, "process should have been signalled")
	_, statErr := os.Stat(l.PIDFile("sleeper"))
	assert.True(t, os.IsNotExist(statErr))
}
