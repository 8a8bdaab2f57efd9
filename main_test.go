package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicklasos/god/internal/cli"
	"github.com/nicklasos/god/internal/history"
	"github.com/nicklasos/god/internal/supervisor"
)

const exampleEcosystem = `module.exports = {
  apps: [{
    name: 'web',
    script: './venv/bin/gunicorn',
    args: '--bind 0.0.0.0:5000 --workers 2 --timeout 1800 --access-logfile - --error-logfile - service:app',
    cwd: '/srv/web',
    interpreter: 'none',
    autorestart: true,
    max_restarts: 10,
    watch: false,
    env: {
      PYTHONUNBUFFERED: '1'
    }
  }]
};
`

func writeEcosystem(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func requireExitCode(t *testing.T, err error, code int) *cli.ExitError {
	t.Helper()
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	assert.Equal(t, code, exitErr.Code)
	return exitErr
}

func TestRun_ShouldExit(t *testing.T) {
	out := &bytes.Buffer{}
	err := run(out, &bytes.Buffer{}, []string{"-h"})
	require.NoError(t, err, "run() should return a nil error when help is requested")
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_Version(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"--version"}))
	assert.Equal(t, "god version dev\n", out.String())
}

func TestRun_ParseError(t *testing.T) {
	err := run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})
	requireExitCode(t, err, 2)
}

func TestRun_Validate(t *testing.T) {
	path := writeEcosystem(t, "ecosystem.config.js", exampleEcosystem)
	out := &bytes.Buffer{}
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"-c", path, "validate"}))
	assert.Contains(t, out.String(), "1 app(s) OK")
}

func TestRun_ValidateRejectsBadEcosystem(t *testing.T) {
	path := writeEcosystem(t, "ecosystem.json", `{"apps": [
		{"name": "web", "script": "a"},
		{"name": "web", "script": ""}
	]}`)
	err := run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"--config", path, "validate"})
	exitErr := requireExitCode(t, err, 2)
	assert.Contains(t, exitErr.Message, "duplicates apps[0]")
	assert.Contains(t, exitErr.Message, "script must not be empty")

	err = run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"--config", filepath.Join(t.TempDir(), "nope.json"), "validate"})
	requireExitCode(t, err, 2)
}

func TestRun_Show(t *testing.T) {
	path := writeEcosystem(t, "ecosystem.config.js", exampleEcosystem)
	out := &bytes.Buffer{}
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"-c", path, "show", "web"}))

	got := out.String()
	assert.Contains(t, got, "exec: /srv/web/venv/bin/gunicorn")
	assert.Contains(t, got, `"--access-logfile" "-"`)
	assert.Contains(t, got, `"service:app"`)
	assert.Contains(t, got, "cwd:  /srv/web")
	assert.Contains(t, got, "env:  PYTHONUNBUFFERED=1")
	assert.Contains(t, got, "max_restarts: 10")

	err := run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"-c", path, "show", "api"})
	exitErr := requireExitCode(t, err, 2)
	assert.Contains(t, exitErr.Message, "apps: web")
}

func TestRun_Init(t *testing.T) {
	dir := t.TempDir()

	jsPath := filepath.Join(dir, "ecosystem.config.js")
	out := &bytes.Buffer{}
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"init", jsPath}))
	assert.Contains(t, out.String(), "Wrote")
	cfg, err := supervisor.LoadConfig(jsPath)
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Apps[0].Name)

	err = run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"init", jsPath})
	requireExitCode(t, err, 2)

	require.NoError(t, run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"init", "--force", jsPath, "--", "./bin/api", "--port", "8080"}))
	cfg, err = supervisor.LoadConfig(jsPath)
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.Apps[0].Name)
	assert.Equal(t, "--port 8080", cfg.Apps[0].Args)

	jsonPath := filepath.Join(dir, "ecosystem.json")
	require.NoError(t, run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"init", jsonPath}))
	cfg, err = supervisor.LoadConfig(jsonPath)
	require.NoError(t, err)
	ok, problems := supervisor.ValidateConfig(cfg)
	assert.True(t, ok, problems)

	err = run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"init", filepath.Join(dir, "ecosystem.hcl")})
	requireExitCode(t, err, 2)
}

func TestRun_InitScriptWithoutPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, run(&bytes.Buffer{}, &bytes.Buffer{}, []string{"init", "--", "./server.sh", "--port", "80"}))

	cfg, err := supervisor.LoadConfig(filepath.Join(dir, "ecosystem.config.js"))
	require.NoError(t, err)
	require.Len(t, cfg.Apps, 1)
	assert.Equal(t, "server", cfg.Apps[0].Name)
	assert.Equal(t, "./server.sh", cfg.Apps[0].Script)
	argv, err := cfg.Apps[0].ArgVector()
	require.NoError(t, err)
	assert.Equal(t, []string{"--port", "80"}, argv)
}

func TestRun_InitKeepsScriptArgs(t *testing.T) {
	want := []string{"--title", "hello world", "it's", "a|b", ""}
	for _, name := range []string{"ecosystem.json", "ecosystem.config.js"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			args := append([]string{"init", path, "--", "./s.sh"}, want...)
			require.NoError(t, run(&bytes.Buffer{}, &bytes.Buffer{}, args))

			cfg, err := supervisor.LoadConfig(path)
			require.NoError(t, err)
			argv, err := cfg.Apps[0].ArgVector()
			require.NoError(t, err)
			assert.Equal(t, want, argv)
		})
	}
}

func TestRun_History(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, supervisor.Event{App: "web", Type: supervisor.EventStart, PID: 4242}))
	require.NoError(t, store.Record(ctx, supervisor.Event{App: "web", Type: supervisor.EventRestart, Restarts: 1}))
	require.NoError(t, store.Close())

	out := &bytes.Buffer{}
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"--history-db", dbPath, "history", "web"}))
	got := out.String()
	assert.Contains(t, got, "EVENT")
	assert.Contains(t, got, "4242")
	assert.Contains(t, got, "restart total: 1")
	assert.Contains(t, got, "errored total: 0")

	out.Reset()
	require.NoError(t, run(out, &bytes.Buffer{}, []string{"--history-db", dbPath, "history", "api"}))
	assert.Contains(t, out.String(), "No events recorded")
}
