package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Command is a fully resolved launch of one app
type Command struct {
	Path string   // executable handed to exec
	Argv []string // argv[0] included
	Dir  string
	Env  []string
}

// String renders the argv for logs and the UI
func (c *Command) String() string {
	return strings.Join(c.Argv, " ")
}

// SplitArgs tokenizes a shell-style argument string. Quotes group words and
// a bare "-" is kept as a literal argument. Environment expansion and
// backquote substitution are not performed.
func SplitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	tokens, err := parser.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("invalid args %q: %w", args, err)
	}
	return tokens, nil
}

// JoinArgs renders tokens as an args string that SplitArgs parses back to
// the same tokens. Tokens with shell metacharacters are single quoted.
func JoinArgs(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok != "" && strings.IndexFunc(tok, needsQuote) < 0 {
			quoted = append(quoted, tok)
			continue
		}
		quoted = append(quoted, "'"+strings.ReplaceAll(tok, "'", `'\''`)+"'")
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=,@%+", r)
}

// ArgVector returns the app's arguments as a list
func (a *AppConfig) ArgVector() ([]string, error) {
	if a.ArgList != nil {
		return append([]string(nil), a.ArgList...), nil
	}
	return SplitArgs(a.Args)
}

// ScriptPath resolves script against cwd unless it is already absolute.
// Bare names without a path separator are looked up in PATH, like a shell would.
func (a *AppConfig) ScriptPath() string {
	script := a.Script
	if strings.HasPrefix(script, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			script = filepath.Join(home, script[2:])
		}
	}
	if filepath.IsAbs(script) {
		return script
	}
	if !strings.ContainsRune(script, filepath.Separator) {
		candidate := filepath.Join(a.Cwd, script)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return script
	}
	return filepath.Join(a.Cwd, script)
}

// DirectExec reports whether the script is run as the process image itself
func (a *AppConfig) DirectExec() bool {
	return a.Interpreter == "" || a.Interpreter == InterpreterNone
}

// BuildCommand resolves the descriptor into an executable invocation.
// base is the inherited environment; descriptor env entries override it.
func BuildCommand(app *AppConfig, base []string) (*Command, error) {
	args, err := app.ArgVector()
	if err != nil {
		return nil, err
	}

	script := app.ScriptPath()
	var argv []string
	if app.DirectExec() {
		argv = append([]string{script}, args...)
	} else {
		argv = append([]string{app.Interpreter, script}, args...)
	}

	return &Command{
		Path: argv[0],
		Argv: argv,
		Dir:  app.Cwd,
		Env:  MergeEnv(base, app.Env),
	}, nil
}

// MergeEnv overlays overrides onto a KEY=VALUE list. Keys from overrides
// replace any inherited entry with the same key.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
