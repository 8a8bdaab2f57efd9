// Package cli parses god's command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// Commands understood by god
const (
	CommandTUI      = "tui"
	CommandStart    = "start"
	CommandValidate = "validate"
	CommandShow     = "show"
	CommandInit     = "init"
	CommandHistory  = "history"
)

var commands = []string{CommandTUI, CommandStart, CommandValidate, CommandShow, CommandInit, CommandHistory}

// ExitError is an error carrying a process exit code
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Options is the parsed command line
type Options struct {
	Command      string // empty means pick tui or start based on the terminal
	ConfigPath   string
	LogLevel     string
	LogFormat    string
	LogFile      string
	HistoryDB    string
	HistoryLimit int
	HistoryKeep  time.Duration
	Force        bool
	ShowVersion  bool
	Args         []string
	DashArgs     []string // everything after "--", passed through untouched
}

// Parse processes command-line arguments. It returns the options, a flag
// telling the caller to exit cleanly (help was printed), or an ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	fs := flag.NewFlagSet("god", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &Options{}
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to ecosystem file (default: auto-detect, or $GOD_CONFIG)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.LogFormat, "log-format", "text", "Log format: text or json")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write logs to this file (tui mode discards logs otherwise)")
	fs.StringVar(&opts.HistoryDB, "history-db", "", "Record lifecycle events in this sqlite database")
	fs.DurationVar(&opts.HistoryKeep, "history-keep", 0, "Delete history events older than this at startup (0 keeps everything)")
	fs.IntVarP(&opts.HistoryLimit, "limit", "n", 50, "Number of events shown by the history command")
	fs.BoolVarP(&opts.Force, "force", "f", false, "Overwrite an existing file (init)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprint(output, `god - supervise the apps of an ecosystem file

Usage:
  god [flags] [command] [args]

Commands:
  tui                  Supervise apps with the terminal UI (default on a terminal)
  start                Supervise apps headless, logging to stderr (default otherwise)
  validate             Check the ecosystem file and exit
  show [app...]        Print resolved command line, cwd and env of each app
  init [path] [-- script [args...]]
                       Write an ecosystem file (.js, .cjs or .json)
  history [app]        Print recent lifecycle events (requires --history-db)

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	rest := fs.Args()
	if len(rest) > 0 {
		opts.Command = rest[0]
		opts.Args = rest[1:]
		if dash := fs.ArgsLenAtDash(); dash > 0 {
			opts.Args = rest[1:dash]
			opts.DashArgs = rest[dash:]
		}
		if !isCommand(opts.Command) {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q (expected one of: %s)", opts.Command, strings.Join(commands, ", "))}
		}
	}

	opts.LogFormat = strings.ToLower(opts.LogFormat)
	if opts.LogFormat != "text" && opts.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	opts.LogLevel = strings.ToLower(opts.LogLevel)
	switch opts.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if opts.Command == CommandHistory && opts.HistoryDB == "" {
		return nil, false, &ExitError{Code: 2, Message: "history requires --history-db"}
	}
	if opts.HistoryKeep < 0 {
		return nil, false, &ExitError{Code: 2, Message: "history-keep must not be negative"}
	}
	if opts.HistoryLimit <= 0 {
		return nil, false, &ExitError{Code: 2, Message: "limit must be positive"}
	}

	return opts, false, nil
}

func isCommand(name string) bool {
	for _, c := range commands {
		if c == name {
			return true
		}
	}
	return false
}
