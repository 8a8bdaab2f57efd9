package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 10 * time.Second

// recorder collects lifecycle events in memory
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(app, eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.App == app && ev.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) last(app, eventType string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].App == app && r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// writeScript creates an executable shell script in dir
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestApp(name, dir, script string) *AppConfig {
	app := NewAppConfig(name)
	app.Script = script
	app.Cwd = dir
	app.Interpreter = InterpreterNone
	return app
}

func newTestManager(t *testing.T, opts Options, apps ...*AppConfig) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Config = &Config{Path: "test", Apps: apps}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.History = rec
	if opts.BaseEnv == nil {
		opts.BaseEnv = []string{"PATH=" + os.Getenv("PATH")}
	}

	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, rec
}

func statusOf(m *Manager, name string) *Process {
	for _, p := range m.Status() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func waitForStatus(t *testing.T, m *Manager, name, status string) *Process {
	t.Helper()
	require.Eventually(t, func() bool {
		return statusOf(m, name).Status == status
	}, waitTimeout, 10*time.Millisecond, "app %s never reached %s", name, status)
	return statusOf(m, name)
}

func waitForOutput(t *testing.T, m *Manager, name, line string) {
	t.Helper()
	logs, err := m.Logs(name)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, e := range logs.Tail(100, "stdout") {
			if e.Message == line {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond, "app %s never printed %q", name, line)
}

func TestNewManager_RejectsDuplicateNames(t *testing.T) {
	_, err := NewManager(Options{Config: &Config{Apps: []*AppConfig{NewAppConfig("a"), NewAppConfig("a")}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate app name")

	_, err = NewManager(Options{})
	require.Error(t, err)
}

func TestManager_MaxRestartsThenErrored(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("crash", dir, writeScript(t, dir, "crash.sh", "exit 1"))
	app.MaxRestarts = 10

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("crash"))

	require.Eventually(t, func() bool {
		return rec.count("crash", EventErrored) == 1
	}, waitTimeout, 10*time.Millisecond)

	p := statusOf(m, "crash")
	assert.Equal(t, StatusErrored, p.Status)
	assert.Equal(t, 10, p.Restarts)
	assert.Equal(t, 1, p.ExitCode)
	assert.Equal(t, 0, p.PID)
	// 11 consecutive failures, 10 restarts between them
	assert.Equal(t, 11, rec.count("crash", EventStart))
	assert.Equal(t, 11, rec.count("crash", EventExit))
	assert.Equal(t, 10, rec.count("crash", EventRestart))

	logs, err := m.Logs("crash")
	require.NoError(t, err)
	last := logs.Tail(1, "god")
	require.Len(t, last, 1)
	assert.Contains(t, last[0].Message, "restart limit of 10 reached")
}

func TestManager_MaxRestartsZero(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("once", dir, writeScript(t, dir, "once.sh", "exit 2"))
	app.MaxRestarts = 0

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("once"))

	p := waitForStatus(t, m, "once", StatusErrored)
	assert.Equal(t, 0, p.Restarts)
	assert.Equal(t, 1, rec.count("once", EventStart))
}

func TestManager_AutorestartDisabled(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("job", dir, writeScript(t, dir, "job.sh", "exit 3"))
	app.Autorestart = false

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("job"))

	p := waitForStatus(t, m, "job", StatusExited)
	assert.Equal(t, 3, p.ExitCode)
	assert.Equal(t, 0, p.Restarts)
	assert.Equal(t, 0, rec.count("job", EventRestart))
	assert.True(t, p.IsStopped())
}

func TestManager_EnvAndCwd(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("env", dir, writeScript(t, dir, "env.sh", `echo "greeting=$GREETING"
echo "keep=$KEEP"
pwd -P`))
	app.Autorestart = false
	app.Env = map[string]string{"GREETING": "descriptor"}

	m, _ := newTestManager(t, Options{BaseEnv: []string{
		"PATH=" + os.Getenv("PATH"),
		"GREETING=inherited",
		"KEEP=inherited",
	}}, app)
	require.NoError(t, m.Start("env"))
	waitForStatus(t, m, "env", StatusExited)

	logs, err := m.Logs("env")
	require.NoError(t, err)
	out := messages(logs.Tail(10, "stdout"))
	require.Len(t, out, 3)
	assert.Equal(t, "greeting=descriptor", out[0])
	assert.Equal(t, "keep=inherited", out[1])

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, realDir, out[2])
}

func TestManager_ArgsReachTheProcess(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("args", dir, writeScript(t, dir, "args.sh", `echo "$#"
for a in "$@"; do echo "[$a]"; done`))
	app.Autorestart = false
	app.Args = `--log - "two words"`

	m, _ := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("args"))
	waitForStatus(t, m, "args", StatusExited)

	logs, err := m.Logs("args")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "[--log]", "[-]", "[two words]"}, messages(logs.Tail(10, "stdout")))
}

func TestManager_InterpreterRunsScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "plain.sh")
	// Not executable: only runnable through the interpreter
	require.NoError(t, os.WriteFile(script, []byte("echo via-interpreter\n"), 0o644))

	app := newTestApp("interp", dir, "plain.sh")
	app.Interpreter = "sh"
	app.Autorestart = false

	m, _ := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("interp"))
	p := waitForStatus(t, m, "interp", StatusExited)
	assert.Equal(t, 0, p.ExitCode)
	waitForOutput(t, m, "interp", "via-interpreter")
}

func TestManager_MinUptimeResetsCounter(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("slow", dir, writeScript(t, dir, "slow.sh", "sleep 0.2\nexit 1"))
	app.MaxRestarts = 1
	app.MinUptime = 50 * time.Millisecond

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("slow"))

	// Every run outlives min_uptime, so the single allowed restart keeps being granted
	require.Eventually(t, func() bool {
		return rec.count("slow", EventRestart) >= 3
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 0, rec.count("slow", EventErrored))
	assert.NotEqual(t, StatusErrored, statusOf(m, "slow").Status)

	require.NoError(t, m.Stop("slow"))
	waitForStatus(t, m, "slow", StatusStopped)
}

func TestManager_LaunchFailureCounts(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("ghost", dir, "./does-not-exist.sh")
	app.MaxRestarts = 2

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("ghost"))

	p := waitForStatus(t, m, "ghost", StatusErrored)
	assert.Equal(t, 2, p.Restarts)
	require.Eventually(t, func() bool {
		return rec.count("ghost", EventErrored) == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 3, rec.count("ghost", EventLaunchFailure))
	assert.Equal(t, 0, rec.count("ghost", EventStart))

	ev, ok := rec.last("ghost", EventLaunchFailure)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "does-not-exist.sh")
}

func TestManager_StopGraceful(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("srv", dir, writeScript(t, dir, "srv.sh", `trap 'echo bye; exit 0' TERM
echo ready
while true; do sleep 0.1; done`))
	app.KillTimeout = 5 * time.Second

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("srv"))
	waitForOutput(t, m, "srv", "ready")
	assert.True(t, statusOf(m, "srv").IsRunning())
	assert.Greater(t, statusOf(m, "srv").PID, 0)

	start := time.Now()
	require.NoError(t, m.Stop("srv"))
	assert.Less(t, time.Since(start), 4*time.Second)

	p := statusOf(m, "srv")
	assert.Equal(t, StatusStopped, p.Status)
	assert.Equal(t, 0, p.PID)
	assert.Equal(t, 1, rec.count("srv", EventStop))
	assert.Equal(t, 0, rec.count("srv", EventRestart))
	waitForOutput(t, m, "srv", "bye")

	assert.ErrorIs(t, m.Stop("srv"), ErrNotRunning)
}

func TestManager_StopEscalatesToSIGKILL(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("stubborn", dir, writeScript(t, dir, "stubborn.sh", `trap '' TERM
echo ready
while true; do sleep 0.1; done`))
	app.KillTimeout = 300 * time.Millisecond

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("stubborn"))
	waitForOutput(t, m, "stubborn", "ready")

	start := time.Now()
	require.NoError(t, m.Stop("stubborn"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, StatusStopped, statusOf(m, "stubborn").Status)
	ev, ok := rec.last("stubborn", EventStop)
	require.True(t, ok)
	assert.Equal(t, -1, ev.ExitCode, "killed by signal")
}

func TestManager_ControlErrors(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("svc", dir, writeScript(t, dir, "svc.sh", "echo ready\nexec sleep 30"))

	m, _ := newTestManager(t, Options{}, app)

	assert.ErrorIs(t, m.Start("nope"), ErrAppNotFound)
	assert.ErrorIs(t, m.Stop("nope"), ErrAppNotFound)
	assert.ErrorIs(t, m.Restart("nope"), ErrAppNotFound)
	_, err := m.Logs("nope")
	assert.ErrorIs(t, err, ErrAppNotFound)

	assert.ErrorIs(t, m.Stop("svc"), ErrNotRunning)
	require.NoError(t, m.Start("svc"))
	assert.ErrorIs(t, m.Start("svc"), ErrAlreadyRunning)
	waitForOutput(t, m, "svc", "ready")
}

func TestManager_RestartResetsCounter(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("flaky", dir, writeScript(t, dir, "flaky.sh", "exit 1"))
	app.MaxRestarts = 1

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("flaky"))
	require.Eventually(t, func() bool {
		return rec.count("flaky", EventErrored) == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, statusOf(m, "flaky").Restarts)

	// A manual restart gets the full budget again
	require.NoError(t, m.Restart("flaky"))
	require.Eventually(t, func() bool {
		return rec.count("flaky", EventErrored) == 2
	}, waitTimeout, 10*time.Millisecond)

	p := statusOf(m, "flaky")
	assert.Equal(t, StatusErrored, p.Status)
	assert.Equal(t, 3, p.Restarts)
	assert.Equal(t, 4, rec.count("flaky", EventStart))
}

func TestManager_RestartRunningApp(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("svc", dir, writeScript(t, dir, "svc.sh", "echo ready\nexec sleep 30"))

	m, rec := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("svc"))
	waitForOutput(t, m, "svc", "ready")
	firstPID := waitForStatus(t, m, "svc", StatusRunning).PID

	require.NoError(t, m.Restart("svc"))
	require.Eventually(t, func() bool {
		p := statusOf(m, "svc")
		return p.Status == StatusRunning && p.PID != firstPID
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, 1, statusOf(m, "svc").Restarts)
	assert.Equal(t, 1, rec.count("svc", EventStop))
	ev, ok := rec.last("svc", EventRestart)
	require.True(t, ok)
	assert.Equal(t, "manual", ev.Message)
}

func TestManager_WatchDisabledStartsNoWatcher(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("svc", dir, writeScript(t, dir, "svc.sh", "echo ready\nexec sleep 30"))
	app.Watch = false

	var calls atomic.Int32
	watchFn := func(ctx context.Context, dir string, ignore []string, onChange func(string)) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	m, _ := newTestManager(t, Options{Watch: watchFn}, app)
	require.NoError(t, m.Start("svc"))
	waitForOutput(t, m, "svc", "ready")
	require.NoError(t, m.Restart("svc"))
	waitForStatus(t, m, "svc", StatusRunning)

	assert.Equal(t, int32(0), calls.Load())
}

func TestManager_WatchRestartNotCounted(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("dev", dir, writeScript(t, dir, "dev.sh", "echo ready\nexec sleep 30"))
	app.Watch = true
	app.MaxRestarts = 0
	app.IgnoreWatch = []string{"tmp"}

	type watchCall struct {
		dir      string
		ignore   []string
		onChange func(string)
	}
	calls := make(chan watchCall, 4)
	watchFn := func(ctx context.Context, dir string, ignore []string, onChange func(string)) error {
		calls <- watchCall{dir: dir, ignore: ignore, onChange: onChange}
		<-ctx.Done()
		return ctx.Err()
	}

	m, rec := newTestManager(t, Options{Watch: watchFn}, app)
	require.NoError(t, m.Start("dev"))
	waitForOutput(t, m, "dev", "ready")

	var call watchCall
	select {
	case call = <-calls:
	case <-time.After(waitTimeout):
		t.Fatal("watcher was not started")
	}
	assert.Equal(t, dir, call.dir)
	assert.Equal(t, []string{"tmp"}, call.ignore)

	for i := 1; i <= 2; i++ {
		prev := statusOf(m, "dev").PID
		call.onChange(filepath.Join(dir, "app.py"))
		require.Eventually(t, func() bool {
			p := statusOf(m, "dev")
			return p.Status == StatusRunning && p.PID != prev
		}, waitTimeout, 10*time.Millisecond)
	}

	// max_restarts is 0, yet file changes keep restarting the app
	p := statusOf(m, "dev")
	assert.Equal(t, StatusRunning, p.Status)
	assert.Equal(t, 2, p.Restarts)
	assert.Equal(t, 2, rec.count("dev", EventWatchRestart))
	assert.Equal(t, 0, rec.count("dev", EventErrored))

	// Restarting keeps the single watcher
	require.NoError(t, m.Restart("dev"))
	assert.Len(t, calls, 0)

	// Stop tears the watcher down; later changes are ignored
	require.NoError(t, m.Stop("dev"))
	call.onChange(filepath.Join(dir, "app.py"))
	assert.Equal(t, StatusStopped, statusOf(m, "dev").Status)
}

func TestManager_RunStartsAutostartApps(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "svc.sh", "echo ready\nexec sleep 30")
	auto := newTestApp("auto", dir, script)
	manual := newTestApp("manual", dir, script)
	manual.Autostart = false

	m, _ := newTestManager(t, Options{}, auto, manual)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForStatus(t, m, "auto", StatusRunning)
	assert.Equal(t, StatusStopped, statusOf(m, "manual").Status)

	names := []string{}
	for _, p := range m.Status() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"auto", "manual"}, names)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusStopped, statusOf(m, "auto").Status)
	assert.Same(t, auto, m.Config().GetAppConfig("auto"))
}

func TestManager_OutputFiles(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("files", dir, writeScript(t, dir, "files.sh", "echo to-stdout\necho to-stderr >&2"))
	app.Autorestart = false
	app.OutFile = "out.log"
	app.ErrorFile = filepath.Join(dir, "err.log")

	m, _ := newTestManager(t, Options{}, app)
	require.NoError(t, m.Start("files"))
	waitForStatus(t, m, "files", StatusExited)

	out, err := os.ReadFile(filepath.Join(dir, "out.log"))
	require.NoError(t, err)
	assert.Equal(t, "to-stdout\n", string(out))

	errOut, err := os.ReadFile(filepath.Join(dir, "err.log"))
	require.NoError(t, err)
	assert.Equal(t, "to-stderr\n", string(errOut))

	logs, err := m.Logs("files")
	require.NoError(t, err)
	assert.Equal(t, []string{"to-stderr"}, messages(logs.Tail(5, "stderr")))
}

func TestManager_RestartDelay(t *testing.T) {
	dir := t.TempDir()
	app := newTestApp("delayed", dir, writeScript(t, dir, "delayed.sh", "exit 1"))
	app.MaxRestarts = 2
	app.RestartDelay = 150 * time.Millisecond

	m, rec := newTestManager(t, Options{}, app)
	start := time.Now()
	require.NoError(t, m.Start("delayed"))
	require.Eventually(t, func() bool {
		return rec.count("delayed", EventErrored) == 1
	}, waitTimeout, 10*time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.attempt, 100*time.Millisecond, time.Second), "attempt %d", tt.attempt)
	}
}

func TestRestartDelay(t *testing.T) {
	app := NewAppConfig("a")
	assert.Equal(t, time.Duration(0), restartDelay(app, 3))

	app.RestartDelay = time.Second
	assert.Equal(t, time.Second, restartDelay(app, 3))

	// Exponential backoff wins over the fixed delay
	app.ExpBackoffRestartDelay = 100 * time.Millisecond
	assert.Equal(t, 400*time.Millisecond, restartDelay(app, 3))
	assert.Equal(t, maxBackoffDelay, restartDelay(app, 30))
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, 0, exitCodeOf(nil))
	assert.Equal(t, -1, exitCodeOf(errors.New("boom")))
}
