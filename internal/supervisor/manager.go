package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nicklasos/god/internal/watch"
	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned by Start when the app has a live lifecycle loop.
	ErrAlreadyRunning = errors.New("app is already running")
	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("app is not running")
)

const (
	defaultLogCapacity = 1000
	watchDebounce      = 300 * time.Millisecond
)

// Lifecycle event types handed to the EventRecorder
const (
	EventStart         = "start"
	EventExit          = "exit"
	EventRestart       = "restart"
	EventErrored       = "errored"
	EventWatchRestart  = "watch_restart"
	EventStop          = "stop"
	EventLaunchFailure = "launch_failure"
)

// Event describes one lifecycle transition of an app
type Event struct {
	App      string
	Type     string
	PID      int
	ExitCode int
	Restarts int
	Message  string
}

// EventRecorder persists lifecycle events. Errors are logged, never fatal.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}

// WatchFunc watches dir recursively and calls onChange for every relevant
// change until ctx is cancelled.
type WatchFunc func(ctx context.Context, dir string, ignore []string, onChange func(path string)) error

// Options configures a Manager
type Options struct {
	Config   *Config
	Logger   *slog.Logger  // Optional, defaults to slog.Default()
	History  EventRecorder // Optional
	Watch    WatchFunc     // Optional, defaults to an fsnotify watcher
	BaseEnv  []string      // Optional, defaults to os.Environ()
	LogLines int           // Optional, lines kept per app, defaults to 1000
}

// Manager launches the apps of an ecosystem and applies their restart policy
type Manager struct {
	config  *Config
	logger  *slog.Logger
	history EventRecorder
	watchFn WatchFunc
	baseEnv []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	apps  map[string]*managedApp
	order []string
}

// managedApp holds the runtime state of one descriptor
type managedApp struct {
	cfg    *AppConfig
	logs   *LogBuffer
	logger *slog.Logger

	ctl sync.Mutex // serializes start/stop/restart

	mu           sync.Mutex
	status       string
	pid          int
	startedAt    time.Time
	unstable     int // consecutive restarts counted against max_restarts
	restartTotal int
	exitCode     int

	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	watchCancel context.CancelFunc
}

// NewManager creates a Manager for every app in the config
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	watchFn := opts.Watch
	if watchFn == nil {
		watchFn = func(ctx context.Context, dir string, ignore []string, onChange func(string)) error {
			return watch.Dir(ctx, dir, watch.Options{Ignore: ignore, Debounce: watchDebounce}, onChange)
		}
	}
	baseEnv := opts.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	logLines := opts.LogLines
	if logLines == 0 {
		logLines = defaultLogCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  opts.Config,
		logger:  logger.With("component", "Manager"),
		history: opts.History,
		watchFn: watchFn,
		baseEnv: baseEnv,
		ctx:     ctx,
		cancel:  cancel,
		apps:    make(map[string]*managedApp),
	}

	for _, cfg := range opts.Config.Apps {
		if _, dup := m.apps[cfg.Name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate app name %q", cfg.Name)
		}
		m.apps[cfg.Name] = &managedApp{
			cfg:    cfg,
			logs:   NewLogBuffer(logLines),
			logger: logger.With("app", cfg.Name),
			status: StatusStopped,
		}
		m.order = append(m.order, cfg.Name)
	}

	return m, nil
}

// Run starts every autostart app and blocks until ctx is cancelled, then
// stops all apps.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Manager starting", "apps", len(m.order))
	for _, name := range m.order {
		a := m.apps[name]
		if !a.cfg.Autostart {
			continue
		}
		if err := m.Start(name); err != nil {
			m.logger.Error("Failed to start app", "app", name, "error", err)
		}
	}

	<-ctx.Done()
	m.logger.Info("Manager context cancelled")
	m.Shutdown()
	return nil
}

// Shutdown stops all apps and waits for their goroutines
func (m *Manager) Shutdown() {
	m.logger.Info("Shutting down all managed apps...")
	var wg sync.WaitGroup
	for _, a := range m.apps {
		wg.Add(1)
		go func(a *managedApp) {
			defer wg.Done()
			if err := m.stopApp(a); err != nil && !errors.Is(err, ErrNotRunning) {
				a.logger.Error("Error stopping app during shutdown", "error", err)
			}
		}(a)
	}
	wg.Wait()
	m.cancel()
	m.wg.Wait()
	m.logger.Info("All managed apps stopped")
}

// Start launches an app that is not currently supervised
func (m *Manager) Start(name string) error {
	a, err := m.lookup(name)
	if err != nil {
		return err
	}
	a.ctl.Lock()
	defer a.ctl.Unlock()

	if a.loopRunning() {
		return ErrAlreadyRunning
	}
	a.mu.Lock()
	a.unstable = 0
	a.mu.Unlock()

	m.startLoop(a)
	m.ensureWatcher(a)
	return nil
}

// Stop terminates an app and disables its automatic restarts
func (m *Manager) Stop(name string) error {
	a, err := m.lookup(name)
	if err != nil {
		return err
	}
	return m.stopApp(a)
}

// Restart stops the app if needed and starts it again with a fresh restart counter
func (m *Manager) Restart(name string) error {
	a, err := m.lookup(name)
	if err != nil {
		return err
	}
	a.ctl.Lock()
	defer a.ctl.Unlock()

	m.stopLoop(a)
	a.mu.Lock()
	a.unstable = 0
	a.restartTotal++
	restarts := a.restartTotal
	a.mu.Unlock()

	a.logger.Info("Restarting app on request")
	m.record(Event{App: a.cfg.Name, Type: EventRestart, Restarts: restarts, Message: "manual"})
	m.startLoop(a)
	m.ensureWatcher(a)
	return nil
}

// Status returns a snapshot of every app in ecosystem order
func (m *Manager) Status() []*Process {
	processes := make([]*Process, 0, len(m.order))
	for _, name := range m.order {
		processes = append(processes, m.apps[name].snapshot())
	}
	return processes
}

// Logs returns the output buffer of an app
func (m *Manager) Logs(name string) (*LogBuffer, error) {
	a, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return a.logs, nil
}

// Config returns the ecosystem the manager was built from
func (m *Manager) Config() *Config {
	return m.config
}

func (m *Manager) lookup(name string) (*managedApp, error) {
	a, ok := m.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	return a, nil
}

func (m *Manager) stopApp(a *managedApp) error {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.Lock()
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	a.mu.Unlock()

	if !a.loopRunning() {
		return ErrNotRunning
	}
	m.stopLoop(a)
	return nil
}

// startLoop spawns the lifecycle goroutine. Caller holds a.ctl.
func (m *Manager) startLoop(a *managedApp) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.loopCancel = cancel
	a.loopDone = done
	a.status = StatusStarting
	a.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		m.supervise(ctx, a)
	}()
}

// stopLoop cancels the lifecycle goroutine and waits for it. Caller holds a.ctl.
func (m *Manager) stopLoop(a *managedApp) {
	a.mu.Lock()
	cancel, done := a.loopCancel, a.loopDone
	a.loopCancel, a.loopDone = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) ensureWatcher(a *managedApp) {
	if !a.cfg.Watch {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watchCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	a.watchCancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		a.logger.Info("Watching for file changes", "dir", a.cfg.Cwd)
		err := m.watchFn(ctx, a.cfg.Cwd, a.cfg.IgnoreWatch, func(path string) {
			m.watchRestart(a, path)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("File watcher stopped", "error", err)
		}
	}()
}

// watchRestart relaunches the app after a file change. It does not count
// against max_restarts.
func (m *Manager) watchRestart(a *managedApp, path string) {
	a.ctl.Lock()
	defer a.ctl.Unlock()

	a.mu.Lock()
	watching := a.watchCancel != nil
	a.mu.Unlock()
	if !watching {
		return
	}

	a.logger.Info("File change detected, restarting", "path", path)
	m.stopLoop(a)
	a.mu.Lock()
	a.restartTotal++
	restarts := a.restartTotal
	a.mu.Unlock()
	m.record(Event{App: a.cfg.Name, Type: EventWatchRestart, Restarts: restarts, Message: path})
	m.startLoop(a)
}

// supervise runs the app until ctx is cancelled or the restart policy gives up
func (m *Manager) supervise(ctx context.Context, a *managedApp) {
	cfg := a.cfg
	for {
		started := time.Now()
		exitCode, launchErr := m.runOnce(ctx, a)
		uptime := time.Since(started)

		if ctx.Err() != nil {
			a.setStatus(StatusStopped)
			a.logger.Info("App stopped")
			m.record(Event{App: cfg.Name, Type: EventStop, ExitCode: exitCode})
			return
		}

		a.mu.Lock()
		a.exitCode = exitCode
		a.pid = 0
		a.mu.Unlock()

		if launchErr != nil {
			a.logger.Error("Failed to launch app", "error", launchErr)
			a.logs.Add("god", launchErr.Error(), 0)
			m.record(Event{App: cfg.Name, Type: EventLaunchFailure, ExitCode: exitCode, Message: launchErr.Error()})
		} else {
			a.logger.Info("App exited", "exitCode", exitCode, "uptime", uptime)
			m.record(Event{App: cfg.Name, Type: EventExit, ExitCode: exitCode})
		}

		if !cfg.Autorestart {
			a.setStatus(StatusExited)
			return
		}

		a.mu.Lock()
		if launchErr == nil && uptime >= cfg.MinUptime {
			a.unstable = 0
		}
		if a.unstable >= cfg.MaxRestarts {
			restarts := a.restartTotal
			a.status = StatusErrored
			a.mu.Unlock()
			a.logger.Error("Restart limit reached, giving up", "maxRestarts", cfg.MaxRestarts)
			a.logs.Add("god", fmt.Sprintf("restart limit of %d reached", cfg.MaxRestarts), 0)
			m.record(Event{App: cfg.Name, Type: EventErrored, ExitCode: exitCode, Restarts: restarts})
			return
		}
		a.unstable++
		a.restartTotal++
		unstable, restarts := a.unstable, a.restartTotal
		a.status = StatusStarting
		a.mu.Unlock()

		delay := restartDelay(cfg, unstable)
		a.logger.Info("Restarting app", "attempt", unstable, "maxRestarts", cfg.MaxRestarts, "delay", delay)
		m.record(Event{App: cfg.Name, Type: EventRestart, ExitCode: exitCode, Restarts: restarts})

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				a.setStatus(StatusStopped)
				m.record(Event{App: cfg.Name, Type: EventStop})
				return
			case <-timer.C:
			}
		}
	}
}

// runOnce launches the app and waits for it to exit. When ctx is cancelled
// the process group is terminated. The returned error is set only when the
// process could not be started.
func (m *Manager) runOnce(ctx context.Context, a *managedApp) (int, error) {
	cfg := a.cfg
	a.setStatus(StatusStarting)

	command, err := BuildCommand(cfg, m.baseEnv)
	if err != nil {
		return -1, err
	}

	cmd := exec.Command(command.Path, command.Argv[1:]...)
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	// Own process group so the whole tree can be signalled
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	outFile := openLogFile(cfg.Cwd, cfg.OutFile, a.logger)
	errFile := openLogFile(cfg.Cwd, cfg.ErrorFile, a.logger)
	defer closeLogFile(outFile)
	defer closeLogFile(errFile)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", command.Path, err)
	}

	pid := cmd.Process.Pid
	a.mu.Lock()
	a.pid = pid
	a.startedAt = time.Now()
	a.status = StatusRunning
	restarts := a.restartTotal
	a.mu.Unlock()

	a.logger.Info("App started", "pid", pid, "command", command.String(), "cwd", command.Dir)
	m.record(Event{App: cfg.Name, Type: EventStart, PID: pid, Restarts: restarts})

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		a.pump(stdoutPipe, "stdout", pid, outFile)
	}()
	go func() {
		defer pumps.Done()
		a.pump(stderrPipe, "stderr", pid, errFile)
	}()

	waitCh := make(chan error, 1)
	go func() {
		pumps.Wait()
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		return exitCodeOf(err), nil
	case <-ctx.Done():
		a.setStatus(StatusStopping)
		return a.terminate(pid, cfg.KillTimeout, waitCh), nil
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the grace period
func (a *managedApp) terminate(pid int, grace time.Duration, waitCh <-chan error) int {
	a.logger.Info("Stopping app", "pid", pid)
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		a.logger.Error("Failed to send SIGTERM", "pid", pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return exitCodeOf(err)
	case <-timer.C:
		a.logger.Warn("App did not exit gracefully, sending SIGKILL", "pid", pid, "killTimeout", grace)
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			a.logger.Error("Failed to send SIGKILL", "pid", pid, "error", err)
		}
		return exitCodeOf(<-waitCh)
	}
}

func (a *managedApp) pump(r io.Reader, source string, pid int, file *os.File) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		a.logs.Add(source, line, pid)
		if file != nil {
			fmt.Fprintln(file, line)
		}
		a.logger.Info("App output", "stream", source, "pid", pid, "output", line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		a.logger.Error("Error reading app output", "stream", source, "pid", pid, "error", err)
	}
}

func (a *managedApp) setStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	if status != StatusRunning && status != StatusStopping {
		a.pid = 0
	}
}

func (a *managedApp) loopRunning() bool {
	a.mu.Lock()
	done := a.loopDone
	a.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (a *managedApp) snapshot() *Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := &Process{
		Name:     a.cfg.Name,
		Status:   a.status,
		PID:      a.pid,
		Restarts: a.restartTotal,
		ExitCode: a.exitCode,
		Config:   a.cfg,
	}
	if a.status == StatusRunning && !a.startedAt.IsZero() {
		p.Uptime = time.Since(a.startedAt)
	}
	return p
}

func (m *Manager) record(ev Event) {
	if m.history == nil {
		return
	}
	if err := m.history.Record(context.Background(), ev); err != nil {
		m.logger.Error("Failed to record event", "app", ev.App, "type", ev.Type, "error", err)
	}
}

// restartDelay picks the wait before the given restart attempt
func restartDelay(cfg *AppConfig, attempt int) time.Duration {
	if cfg.ExpBackoffRestartDelay > 0 {
		return calculateBackoff(attempt, cfg.ExpBackoffRestartDelay, maxBackoffDelay)
	}
	return cfg.RestartDelay
}

// calculateBackoff computes the backoff duration for restarting a process.
func calculateBackoff(restartCount int, initialDelay, maxDelay time.Duration) time.Duration {
	if restartCount <= 0 {
		return 0
	}
	// initialDelay * 2^(restartCount-1)
	backoff := initialDelay
	for i := 1; i < restartCount; i++ {
		backoff *= 2
		if backoff > maxDelay {
			return maxDelay
		}
	}
	return backoff
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func openLogFile(dir, path string, logger *slog.Logger) *os.File {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("Failed to open log file", "path", path, "error", err)
		return nil
	}
	return f
}

func closeLogFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
