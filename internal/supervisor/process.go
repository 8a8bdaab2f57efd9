package supervisor

import (
	"time"
)

// Process status values reported by the Manager.
const (
	StatusStarting = "STARTING"
	StatusRunning  = "RUNNING"
	StatusStopping = "STOPPING"
	StatusStopped  = "STOPPED"
	StatusExited   = "EXITED"
	StatusErrored  = "ERRORED"
)

// InterpreterNone marks a script that is executed directly.
const InterpreterNone = "none"

// Defaults applied to descriptors that leave the field unset.
const (
	DefaultMaxRestarts = 16
	DefaultMinUptime   = time.Second
	DefaultKillTimeout = 1600 * time.Millisecond
	maxBackoffDelay    = 15 * time.Second
)

// Process represents a managed app as seen at one moment
type Process struct {
	Name     string
	Status   string // STARTING, RUNNING, STOPPING, STOPPED, EXITED, ERRORED
	PID      int
	Uptime   time.Duration
	Restarts int
	ExitCode int
	Config   *AppConfig
}

// AppConfig is one entry of the ecosystem apps list
type AppConfig struct {
	Name        string
	Script      string
	Args        string
	ArgList     []string // set when args was given as a list
	Cwd         string
	Interpreter string
	Autorestart bool
	MaxRestarts int
	Watch       bool
	Env         map[string]string

	Autostart              bool
	MinUptime              time.Duration
	RestartDelay           time.Duration
	ExpBackoffRestartDelay time.Duration
	KillTimeout            time.Duration
	IgnoreWatch            []string
	OutFile                string
	ErrorFile              string
}

// NewAppConfig returns a descriptor carrying the pm2 defaults
func NewAppConfig(name string) *AppConfig {
	return &AppConfig{
		Name:        name,
		Autorestart: true,
		Autostart:   true,
		MaxRestarts: DefaultMaxRestarts,
		MinUptime:   DefaultMinUptime,
		KillTimeout: DefaultKillTimeout,
		Env:         make(map[string]string),
	}
}

// IsRunning returns true if the process is currently running
func (p *Process) IsRunning() bool {
	return p.Status == StatusRunning
}

// IsStopped returns true if the process is not running and will not be restarted
func (p *Process) IsStopped() bool {
	switch p.Status {
	case StatusStopped, StatusExited, StatusErrored:
		return true
	}
	return false
}
