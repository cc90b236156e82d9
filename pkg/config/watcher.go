package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/payroll/pkg/policy"
)

// Change describes what a batch of file events touched.
type Change struct {
	Bundles  bool
	Policies bool
	Files    []string
}

func (c *Change) merge(o Change) {
	c.Bundles = c.Bundles || o.Bundles
	c.Policies = c.Policies || o.Policies
	for _, f := range o.Files {
		if !containsPath(c.Files, f) {
			c.Files = append(c.Files, f)
		}
	}
}

func containsPath(paths []string, p string) bool {
	for _, v := range paths {
		if v == p {
			return true
		}
	}
	return false
}

// Watcher reports bundle and policy file changes below the configured
// directories. Events are debounced into one Change.
type Watcher struct {
	bundleDir string
	policyDir string
	debounce  time.Duration
	onChange  func(context.Context, Change)
	logger    zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending Change
	timer   *time.Timer
	done    chan struct{}
}

// NewWatcher creates a watcher calling onChange after events settle.
func NewWatcher(cfg RegulationsConfig, logger zerolog.Logger, onChange func(context.Context, Change)) *Watcher {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		bundleDir: filepath.Clean(cfg.BundleDir),
		policyDir: cleanOptional(cfg.PolicyDir),
		debounce:  debounce,
		onChange:  onChange,
		logger:    logger.With().Str("component", "regulation-watcher").Logger(),
		done:      make(chan struct{}),
	}
}

func cleanOptional(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir)
}

// Start watches the directories until the context ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	for _, dir := range []string{w.bundleDir, w.policyDir} {
		if dir == "" {
			continue
		}
		if err := w.watchDirectory(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.processEvents(ctx)

	w.logger.Info().
		Str("bundle_dir", w.bundleDir).
		Str("policy_dir", w.policyDir).
		Msg("Started watching regulations")
	return nil
}

// watchDirectory adds a directory and its subdirectories to the watcher.
func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.stopTimer()
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirectory(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			change, ok := w.classify(event.Name)
			if !ok {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Regulation file changed")
			w.schedule(ctx, change)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// classify maps a file to the kind of change it causes.
func (w *Watcher) classify(path string) (Change, bool) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return Change{}, false
	}
	if w.policyDir != "" && within(w.policyDir, path) {
		if policy.IsPolicyFile(path) {
			return Change{Policies: true, Files: []string{path}}, true
		}
		return Change{}, false
	}
	if within(w.bundleDir, path) {
		if _, ok := FormatOf(path); ok {
			return Change{Bundles: true, Files: []string{path}}, true
		}
	}
	return Change{}, false
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) schedule(ctx context.Context, change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.merge(change)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		batch := w.pending
		w.pending = Change{}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.onChange(ctx, batch)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
