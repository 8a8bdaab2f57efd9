package supervisor

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// hclEcosystem is the HCL rendition of the ecosystem file:
//
//	app "web" {
//	  script      = "./venv/bin/gunicorn"
//	  args        = "--bind 0.0.0.0:5000 service:app"
//	  interpreter = "none"
//	  env = {
//	    PYTHONUNBUFFERED = "1"
//	  }
//	}
type hclEcosystem struct {
	Apps []hclApp `hcl:"app,block"`
}

type hclApp struct {
	Name        string            `hcl:"name,label"`
	Script      string            `hcl:"script"`
	Args        cty.Value         `hcl:"args,optional"`
	Cwd         *string           `hcl:"cwd,optional"`
	Interpreter *string           `hcl:"interpreter,optional"`
	Autorestart *bool             `hcl:"autorestart,optional"`
	MaxRestarts *int              `hcl:"max_restarts,optional"`
	Watch       *bool             `hcl:"watch,optional"`
	Env         map[string]string `hcl:"env,optional"`

	Autostart              *bool    `hcl:"autostart,optional"`
	MinUptime              *string  `hcl:"min_uptime,optional"`
	RestartDelay           *string  `hcl:"restart_delay,optional"`
	ExpBackoffRestartDelay *string  `hcl:"exp_backoff_restart_delay,optional"`
	KillTimeout            *string  `hcl:"kill_timeout,optional"`
	IgnoreWatch            []string `hcl:"ignore_watch,optional"`
	OutFile                *string  `hcl:"out_file,optional"`
	ErrorFile              *string  `hcl:"error_file,optional"`
}

// parseEcosystemHCL decodes app blocks from an HCL ecosystem file
func parseEcosystemHCL(path string, data []byte) ([]*AppConfig, error) {
	var file hclEcosystem
	if err := hclsimple.Decode(path, data, nil, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	apps := make([]*AppConfig, 0, len(file.Apps))
	for _, raw := range file.Apps {
		app, err := raw.toAppConfig()
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", raw.Name, err)
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (r hclApp) toAppConfig() (*AppConfig, error) {
	app := NewAppConfig(r.Name)
	app.Script = r.Script
	app.IgnoreWatch = r.IgnoreWatch
	setString(&app.Cwd, r.Cwd)
	setString(&app.Interpreter, r.Interpreter)
	setString(&app.OutFile, r.OutFile)
	setString(&app.ErrorFile, r.ErrorFile)
	if r.Autorestart != nil {
		app.Autorestart = *r.Autorestart
	}
	if r.Autostart != nil {
		app.Autostart = *r.Autostart
	}
	if r.MaxRestarts != nil {
		app.MaxRestarts = *r.MaxRestarts
	}
	if r.Watch != nil {
		app.Watch = *r.Watch
	}
	for k, v := range r.Env {
		app.Env[k] = v
	}

	if !r.Args.IsNull() {
		if r.Args.Type() == cty.String {
			app.Args = r.Args.AsString()
		} else {
			list, err := convert.Convert(r.Args, cty.List(cty.String))
			if err != nil {
				return nil, fmt.Errorf("args must be a string or a list of strings")
			}
			app.ArgList = []string{}
			for it := list.ElementIterator(); it.Next(); {
				_, v := it.Element()
				if v.IsNull() {
					return nil, fmt.Errorf("args must not contain null")
				}
				app.ArgList = append(app.ArgList, v.AsString())
			}
		}
	}

	durations := []struct {
		name   string
		raw    *string
		target *time.Duration
	}{
		{"min_uptime", r.MinUptime, &app.MinUptime},
		{"restart_delay", r.RestartDelay, &app.RestartDelay},
		{"exp_backoff_restart_delay", r.ExpBackoffRestartDelay, &app.ExpBackoffRestartDelay},
		{"kill_timeout", r.KillTimeout, &app.KillTimeout},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		value, err := ParseDuration(*d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = value
	}

	return app, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
