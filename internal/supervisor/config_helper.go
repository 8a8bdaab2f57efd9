package supervisor

import (
	"fmt"
)

// ValidateConfig checks the ecosystem for problems that would prevent
// supervising it. It returns false and a list of messages when invalid.
func ValidateConfig(cfg *Config) (bool, []string) {
	var problems []string
	if cfg == nil || len(cfg.Apps) == 0 {
		return false, []string{"apps list is empty"}
	}

	seen := make(map[string]int)
	for i, app := range cfg.Apps {
		label := fmt.Sprintf("apps[%d]", i)
		if app.Name == "" {
			problems = append(problems, label+": name must not be empty")
		} else {
			label = fmt.Sprintf("apps[%d] (%s)", i, app.Name)
			if first, dup := seen[app.Name]; dup {
				problems = append(problems, fmt.Sprintf("%s: name duplicates apps[%d]", label, first))
			} else {
				seen[app.Name] = i
			}
		}

		if app.Script == "" {
			problems = append(problems, label+": script must not be empty")
		}
		if app.MaxRestarts < 0 {
			problems = append(problems, fmt.Sprintf("%s: max_restarts must be >= 0, got %d", label, app.MaxRestarts))
		}
		if app.MinUptime < 0 || app.RestartDelay < 0 || app.ExpBackoffRestartDelay < 0 || app.KillTimeout < 0 {
			problems = append(problems, label+": durations must not be negative")
		}
		if _, err := app.ArgVector(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
		}
	}

	return len(problems) == 0, problems
}

// GenerateMinimalConfig generates a minimal ecosystem.config.js for one app
func GenerateMinimalConfig(name, script, args, cwd string) string {
	return fmt.Sprintf(`module.exports = {
  apps: [{
    name: '%s',
    script: '%s',
    args: '%s',
    cwd: '%s',
    interpreter: 'none',
    autorestart: true,
    max_restarts: 10,
    watch: false,
    env: {}
  }]
};
`, jsEscape(name), jsEscape(script), jsEscape(args), jsEscape(cwd))
}

func jsEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
