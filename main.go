package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/term"

	"github.com/nicklasos/god/internal/cli"
	"github.com/nicklasos/god/internal/history"
	"github.com/nicklasos/god/internal/supervisor"
	"github.com/nicklasos/god/internal/ui"
)

var version = "dev"

const defaultInitPath = "ecosystem.config.js"

func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run holds the real main so it can be tested with buffers
func run(outW, errW io.Writer, args []string) error {
	opts, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	if opts.ShowVersion {
		fmt.Fprintf(outW, "god version %s\n", version)
		return nil
	}

	command := opts.Command
	if command == "" {
		command = cli.CommandStart
		if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
			command = cli.CommandTUI
		}
	}

	switch command {
	case cli.CommandInit:
		return runInit(outW, opts)
	case cli.CommandHistory:
		return runHistory(outW, opts)
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	switch command {
	case cli.CommandValidate:
		fmt.Fprintf(outW, "%s: %d app(s) OK\n", cfg.Path, len(cfg.Apps))
		return nil
	case cli.CommandShow:
		return runShow(outW, cfg, opts.Args)
	case cli.CommandTUI:
		return runTUI(cfg, opts)
	default:
		return runStart(errW, cfg, opts)
	}
}

// loadConfig finds, parses and validates the ecosystem file
func loadConfig(path string) (*supervisor.Config, error) {
	if path == "" {
		found, err := supervisor.FindConfigFile()
		if err != nil {
			return nil, &cli.ExitError{Code: 2, Message: err.Error()}
		}
		path = found
	}

	cfg, err := supervisor.LoadConfig(path)
	if err != nil {
		return nil, &cli.ExitError{Code: 2, Message: err.Error()}
	}

	if valid, problems := supervisor.ValidateConfig(cfg); !valid {
		return nil, &cli.ExitError{
			Code:    2,
			Message: fmt.Sprintf("invalid ecosystem file %s:\n  %s", cfg.Path, strings.Join(problems, "\n  ")),
		}
	}
	return cfg, nil
}

// newManager builds the logger, the optional history store and the manager.
// The returned cleanup closes what was opened.
func newManager(cfg *supervisor.Config, opts *cli.Options, logW io.Writer) (*supervisor.Manager, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, func() { f.Close() })
		logW = f
	}
	logger := cli.NewLogger(opts.LogLevel, opts.LogFormat, logW)
	slog.SetDefault(logger)

	managerOpts := supervisor.Options{
		Config: cfg,
		Logger: logger,
	}
	if opts.HistoryDB != "" {
		store, err := history.Open(opts.HistoryDB)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, func() { store.Close() })
		if opts.HistoryKeep > 0 {
			pruned, err := store.DeleteOlderThan(context.Background(), opts.HistoryKeep)
			if err != nil {
				logger.Error("Failed to prune history", "error", err)
			} else if pruned > 0 {
				logger.Info("Pruned history events", "count", pruned, "olderThan", opts.HistoryKeep)
			}
		}
		managerOpts.History = store
	}

	manager, err := supervisor.NewManager(managerOpts)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return manager, cleanup, nil
}

// runStart supervises headless until SIGINT or SIGTERM
func runStart(errW io.Writer, cfg *supervisor.Config, opts *cli.Options) error {
	manager, cleanup, err := newManager(cfg, opts, errW)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		// Apps are launched asynchronously by Run; readiness means the manager is up.
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			slog.Warn("Failed to notify systemd", "error", err)
		}
		<-ctx.Done()
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			slog.Warn("Failed to notify systemd", "error", err)
		}
	}()

	slog.Info("Supervising ecosystem", "config", cfg.Path, "apps", len(cfg.Apps))
	return manager.Run(ctx)
}

// runTUI supervises in-process and drives the apps from the terminal UI
func runTUI(cfg *supervisor.Config, opts *cli.Options) error {
	// Without --log-file, logs would corrupt the screen
	manager, cleanup, err := newManager(cfg, opts, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- manager.Run(ctx)
	}()

	program := tea.NewProgram(ui.InitialModel(manager, cfg.Path), tea.WithAltScreen())
	_, uiErr := program.Run()

	// Stops every app before returning
	cancel()
	runErr := <-runDone

	if uiErr != nil {
		return fmt.Errorf("error running program: %w", uiErr)
	}
	return runErr
}

// runShow prints the resolved launch of each app
func runShow(outW io.Writer, cfg *supervisor.Config, names []string) error {
	apps := cfg.Apps
	if len(names) > 0 {
		apps = nil
		for _, name := range names {
			app := cfg.GetAppConfig(name)
			if app == nil {
				return &cli.ExitError{
					Code:    2,
					Message: fmt.Sprintf("%v: %s (apps: %s)", supervisor.ErrAppNotFound, name, strings.Join(cfg.Names(), ", ")),
				}
			}
			apps = append(apps, app)
		}
	}

	for i, app := range apps {
		if i > 0 {
			fmt.Fprintln(outW)
		}
		command, err := supervisor.BuildCommand(app, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", app.Name, err)
		}
		fmt.Fprintf(outW, "%s\n", app.Name)
		fmt.Fprintf(outW, "  exec: %s\n", command.Path)
		fmt.Fprintf(outW, "  argv: %q\n", command.Argv)
		fmt.Fprintf(outW, "  cwd:  %s\n", command.Dir)

		keys := make([]string, 0, len(app.Env))
		for k := range app.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(outW, "  env:  %s=%s\n", k, app.Env[k])
		}
		fmt.Fprintf(outW, "  autorestart: %v  max_restarts: %d  watch: %v\n", app.Autorestart, app.MaxRestarts, app.Watch)
	}
	return nil
}

// runInit writes a starter ecosystem file. With a script argument, the file
// describes that script instead of the template app.
func runInit(outW io.Writer, opts *cli.Options) error {
	path := defaultInitPath
	if len(opts.Args) > 0 {
		path = opts.Args[0]
	}
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("%s already exists (use --force to overwrite)", path)}
	}

	// The script is given after "--" so its flags are not read as god's
	var script string
	var args []string
	switch {
	case len(opts.DashArgs) > 0:
		script, args = opts.DashArgs[0], opts.DashArgs[1:]
	case len(opts.Args) > 1:
		script, args = opts.Args[1], opts.Args[2:]
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		app := supervisor.NewAppConfig("web")
		app.Script, app.Args, app.Cwd, app.Interpreter = "./venv/bin/gunicorn", "service:app", ".", supervisor.InterpreterNone
		if script != "" {
			app = supervisor.NewAppConfig(appNameFor(script))
			app.Script, app.Cwd, app.Interpreter = script, ".", supervisor.InterpreterNone
			if len(args) > 0 {
				app.ArgList = args
			}
		}
		cfg := &supervisor.Config{Path: path, Apps: []*supervisor.AppConfig{app}}
		if err := cfg.Save(); err != nil {
			return err
		}
	case ".js", ".cjs":
		content := supervisor.DefaultTemplate
		if script != "" {
			content = supervisor.GenerateMinimalConfig(appNameFor(script), script, supervisor.JoinArgs(args), ".")
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	default:
		return &cli.ExitError{Code: 2, Message: fmt.Sprintf("init writes .js, .cjs or .json files, got %s", path)}
	}

	fmt.Fprintf(outW, "Wrote %s\n", path)
	return nil
}

func appNameFor(script string) string {
	name := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	if name == "" || name == "." || name == "/" {
		return "app"
	}
	return name
}

// runHistory prints recent lifecycle events, newest first
func runHistory(outW io.Writer, opts *cli.Options) error {
	store, err := history.Open(opts.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var app string
	if len(opts.Args) > 0 {
		app = opts.Args[0]
	}

	events, err := store.Recent(context.Background(), app, opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(outW, "No events recorded")
		return nil
	}

	tw := tabwriter.NewWriter(outW, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAPP\tEVENT\tPID\tEXIT\tRESTARTS\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			ev.Time().Local().Format(time.DateTime), ev.App, ev.Type, ev.PID, ev.ExitCode, ev.Restarts, ev.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if app != "" {
		fmt.Fprintln(outW)
		for _, eventType := range []string{supervisor.EventRestart, supervisor.EventWatchRestart, supervisor.EventErrored} {
			count, err := store.CountByType(context.Background(), app, eventType)
			if err != nil {
				return fmt.Errorf("failed to count events: %w", err)
			}
			fmt.Fprintf(outW, "%s total: %d\n", eventType, count)
		}
	}
	return nil
}
