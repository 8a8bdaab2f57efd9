package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAppNotFound is returned when a name does not match any app.
var ErrAppNotFound = errors.New("app not found")

// Config represents a loaded ecosystem file
type Config struct {
	Path string
	Apps []*AppConfig
}

// configNames are looked up in the working directory, in order
var configNames = []string{
	"ecosystem.config.js",
	"ecosystem.config.cjs",
	"ecosystem.json",
	"ecosystem.hcl",
}

// FindConfigFile finds the ecosystem file
func FindConfigFile() (string, error) {
	// Check environment variable first
	if configPath := os.Getenv("GOD_CONFIG"); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	var paths []string
	if wd, err := os.Getwd(); err == nil {
		for _, name := range configNames {
			paths = append(paths, filepath.Join(wd, name))
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".god", "ecosystem.json"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ecosystem file not found. Set GOD_CONFIG or create one of: %s, ~/.god/ecosystem.json", strings.Join(configNames, ", "))
}

// LoadConfig loads and parses an ecosystem file, picking the format from its extension
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var apps []*AppConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".cjs", ".mjs":
		jsonData, err := jsToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		apps, err = parseEcosystemJSON(jsonData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".json":
		apps, err = parseEcosystemJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".hcl":
		apps, err = parseEcosystemHCL(path, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported ecosystem file type: %s", path)
	}

	// An empty cwd means the directory holding the ecosystem file
	baseDir := filepath.Dir(path)
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	for _, app := range apps {
		if app.Cwd == "" {
			app.Cwd = baseDir
		} else if !filepath.IsAbs(app.Cwd) {
			app.Cwd = filepath.Join(baseDir, app.Cwd)
		}
	}

	return &Config{Path: path, Apps: apps}, nil
}

// ecosystemFile is the on-disk shape shared by the JS and JSON formats
type ecosystemFile struct {
	Apps []rawApp `json:"apps"`
}

type rawApp struct {
	Name                   string                     `json:"name"`
	Script                 string                     `json:"script"`
	Args                   json.RawMessage            `json:"args,omitempty"`
	Cwd                    string                     `json:"cwd,omitempty"`
	Interpreter            string                     `json:"interpreter,omitempty"`
	Autorestart            *bool                      `json:"autorestart,omitempty"`
	MaxRestarts            *int                       `json:"max_restarts,omitempty"`
	Watch                  bool                       `json:"watch"`
	Env                    map[string]json.RawMessage `json:"env,omitempty"`
	Autostart              *bool                      `json:"autostart,omitempty"`
	MinUptime              json.RawMessage            `json:"min_uptime,omitempty"`
	RestartDelay           json.RawMessage            `json:"restart_delay,omitempty"`
	ExpBackoffRestartDelay json.RawMessage            `json:"exp_backoff_restart_delay,omitempty"`
	KillTimeout            json.RawMessage            `json:"kill_timeout,omitempty"`
	IgnoreWatch            []string                   `json:"ignore_watch,omitempty"`
	OutFile                string                     `json:"out_file,omitempty"`
	ErrorFile              string                     `json:"error_file,omitempty"`
}

// parseEcosystemJSON decodes the apps list of an ecosystem object
func parseEcosystemJSON(data []byte) ([]*AppConfig, error) {
	var file ecosystemFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Apps == nil {
		return nil, errors.New("missing apps list")
	}

	apps := make([]*AppConfig, 0, len(file.Apps))
	for i, raw := range file.Apps {
		app, err := raw.toAppConfig()
		if err != nil {
			return nil, fmt.Errorf("apps[%d]: %w", i, err)
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (r rawApp) toAppConfig() (*AppConfig, error) {
	app := NewAppConfig(r.Name)
	app.Script = r.Script
	app.Cwd = r.Cwd
	app.Interpreter = r.Interpreter
	app.Watch = r.Watch
	app.IgnoreWatch = r.IgnoreWatch
	app.OutFile = r.OutFile
	app.ErrorFile = r.ErrorFile
	if r.Autorestart != nil {
		app.Autorestart = *r.Autorestart
	}
	if r.Autostart != nil {
		app.Autostart = *r.Autostart
	}
	if r.MaxRestarts != nil {
		app.MaxRestarts = *r.MaxRestarts
	}

	if len(r.Args) > 0 {
		var s string
		if err := json.Unmarshal(r.Args, &s); err == nil {
			app.Args = s
		} else {
			var list []string
			if err := json.Unmarshal(r.Args, &list); err != nil {
				return nil, fmt.Errorf("args must be a string or a list of strings")
			}
			app.ArgList = list
		}
	}

	for key, raw := range r.Env {
		value, err := envValue(raw)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		app.Env[key] = value
	}

	durations := []struct {
		name   string
		raw    json.RawMessage
		target *time.Duration
	}{
		{"min_uptime", r.MinUptime, &app.MinUptime},
		{"restart_delay", r.RestartDelay, &app.RestartDelay},
		{"exp_backoff_restart_delay", r.ExpBackoffRestartDelay, &app.ExpBackoffRestartDelay},
		{"kill_timeout", r.KillTimeout, &app.KillTimeout},
	}
	for _, d := range durations {
		if len(d.raw) == 0 {
			continue
		}
		value, err := jsonDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = value
	}

	return app, nil
}

// envValue accepts strings, numbers and booleans, the way pm2 does
func envValue(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("unsupported value %s", string(raw))
	}
}

func jsonDuration(raw json.RawMessage) (time.Duration, error) {
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected milliseconds or a duration string")
	}
	return ParseDuration(s)
}

// ParseDuration parses pm2 style durations: bare numbers are milliseconds,
// anything else goes through time.ParseDuration.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}

// GetAppConfig returns the config for a specific app
func (c *Config) GetAppConfig(name string) *AppConfig {
	for _, app := range c.Apps {
		if app.Name == name {
			return app
		}
	}
	return nil
}

// Names returns app names in file order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Apps))
	for _, app := range c.Apps {
		names = append(names, app.Name)
	}
	return names
}

// Save writes the config as an ecosystem.json file
func (c *Config) Save() error {
	if strings.ToLower(filepath.Ext(c.Path)) != ".json" {
		return fmt.Errorf("can only save ecosystem files as .json, got %s", c.Path)
	}

	data, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MarshalJSON renders the ecosystem object, omitting fields left at their defaults
func (c *Config) MarshalJSON() ([]byte, error) {
	type outApp struct {
		Name                   string            `json:"name"`
		Script                 string            `json:"script"`
		Args                   any               `json:"args,omitempty"`
		Cwd                    string            `json:"cwd,omitempty"`
		Interpreter            string            `json:"interpreter,omitempty"`
		Autorestart            bool              `json:"autorestart"`
		MaxRestarts            int               `json:"max_restarts"`
		Watch                  bool              `json:"watch"`
		Env                    map[string]string `json:"env,omitempty"`
		Autostart              *bool             `json:"autostart,omitempty"`
		MinUptime              *int64            `json:"min_uptime,omitempty"`
		RestartDelay           int64             `json:"restart_delay,omitempty"`
		ExpBackoffRestartDelay int64             `json:"exp_backoff_restart_delay,omitempty"`
		KillTimeout            *int64            `json:"kill_timeout,omitempty"`
		IgnoreWatch            []string          `json:"ignore_watch,omitempty"`
		OutFile                string            `json:"out_file,omitempty"`
		ErrorFile              string            `json:"error_file,omitempty"`
	}

	out := struct {
		Apps []outApp `json:"apps"`
	}{Apps: make([]outApp, 0, len(c.Apps))}

	for _, app := range c.Apps {
		o := outApp{
			Name:         app.Name,
			Script:       app.Script,
			Cwd:          app.Cwd,
			Interpreter:  app.Interpreter,
			Autorestart:  app.Autorestart,
			MaxRestarts:  app.MaxRestarts,
			Watch:        app.Watch,
			Env:          app.Env,
			RestartDelay: app.RestartDelay.Milliseconds(),
			IgnoreWatch:  app.IgnoreWatch,
			OutFile:      app.OutFile,
			ErrorFile:    app.ErrorFile,
		}
		if app.ArgList != nil {
			o.Args = app.ArgList
		} else if app.Args != "" {
			o.Args = app.Args
		}
		if !app.Autostart {
			o.Autostart = &app.Autostart
		}
		// Zero is a valid setting for these, so only the default is left out
		if app.MinUptime != DefaultMinUptime {
			ms := app.MinUptime.Milliseconds()
			o.MinUptime = &ms
		}
		if app.KillTimeout != DefaultKillTimeout {
			ms := app.KillTimeout.Milliseconds()
			o.KillTimeout = &ms
		}
		o.ExpBackoffRestartDelay = app.ExpBackoffRestartDelay.Milliseconds()
		out.Apps = append(out.Apps, o)
	}

	return json.MarshalIndent(out, "", "  ")
}
