// Package watch reports file changes below a directory tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore lists directories that never trigger a change
var DefaultIgnore = []string{".git", "node_modules", "__pycache__", "*.pyc", "*.log"}

// Options configures Dir
type Options struct {
	Ignore   []string      // glob patterns matched against the base name and the path relative to the root
	Debounce time.Duration // quiet period before onChange fires; 0 fires on every event
}

// Dir watches root and every directory below it until ctx is cancelled.
// Bursts of events are collapsed into one onChange call carrying the last path.
func Dir(ctx context.Context, root string, opts Options, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	ignore := append(append([]string(nil), DefaultIgnore...), opts.Ignore...)
	m := &matcher{root: root, patterns: ignore}

	if err := addTree(watcher, root, m); err != nil {
		return err
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if m.ignored(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			// New directories need their own watch
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, ev.Name, m); err != nil {
						return err
					}
				}
			}

			if opts.Debounce <= 0 {
				onChange(ev.Name)
				continue
			}
			pending = ev.Name
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			onChange(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
}

func addTree(watcher *fsnotify.Watcher, dir string, m *matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish between the event and the walk
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && m.ignored(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

type matcher struct {
	root     string
	patterns []string
}

// ignored reports whether path or any of its parents below root matches a pattern
func (m *matcher) ignored(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	for _, pattern := range m.patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		for _, part := range parts {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}
