// Package hostgroup loads the static host-group mapping file and
// resolves reader hostnames to deduplication groups, hot-reloading the
// file on change.
package hostgroup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"tagbridge/internal/logging"
)

// HostnameMode is the literal deduplicationGroup value that disables
// grouping: the resolver returns the hostname verbatim.
const HostnameMode = "hostname"

// config is the on-disk shape: {"deduplicationGroup": "hostname"|"<group>", "groups": {"<group>": [host,...]}}.
type config struct {
	DeduplicationGroup string              `json:"deduplicationGroup"`
	Groups             map[string][]string `json:"groups"`
}

// Resolver maps reader hostnames to deduplication groups per the
// static host-group file, and reloads its in-memory view atomically
// whenever the backing file changes, grounded on the teacher's
// lookup.GeoIP atomic-reader-swap-plus-fsnotify-watch pattern.
type Resolver struct {
	path string
	cfg  atomic.Pointer[config]

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}

	logger *slog.Logger
}

// New returns a Resolver with an empty (hostname-mode) configuration.
// Call Load to read the file once, and WatchFile to hot-reload it.
func New(path string, logger *slog.Logger) *Resolver {
	r := &Resolver{
		path:   path,
		logger: logging.Default(logger).With("component", "hostgroup"),
	}
	r.cfg.Store(&config{DeduplicationGroup: HostnameMode})
	return r
}

// Load reads and parses the host-group file, swapping the in-memory
// configuration atomically on success. A missing file is not an
// error: the Resolver keeps the hostname-verbatim default.
func (r *Resolver) Load() error {
	data, err := os.ReadFile(r.path) //nolint:gosec // G304: path is operator-supplied configuration
	if os.IsNotExist(err) {
		r.logger.Warn("host-group file not found, using hostname-verbatim mode", "path", r.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("hostgroup: read %s: %w", r.path, err)
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("hostgroup: parse %s: %w", r.path, err)
	}
	if cfg.DeduplicationGroup == "" {
		cfg.DeduplicationGroup = HostnameMode
	}
	r.cfg.Store(&cfg)
	r.logger.Info("host-group file loaded", "path", r.path, "groups", len(cfg.Groups))
	return nil
}

// Resolve returns the deduplication group for hostname: the hostname
// itself in hostname mode, otherwise the first group (in ascending name
// order, so a hostname listed in more than one group resolves
// deterministically) whose member list contains it, else the hostname
// verbatim (fallback), per spec.md §6.
func (r *Resolver) Resolve(hostname string) string {
	cfg := r.cfg.Load()
	if cfg.DeduplicationGroup == HostnameMode {
		return hostname
	}
	groups := make([]string, 0, len(cfg.Groups))
	for group := range cfg.Groups {
		groups = append(groups, group)
	}
	slices.Sort(groups)
	for _, group := range groups {
		if slices.Contains(cfg.Groups[group], hostname) {
			return group
		}
	}
	return hostname
}

// WatchFile starts watching the host-group file for changes, reloading
// on write/create events. Calling WatchFile again replaces the
// previous watch.
func (r *Resolver) WatchFile() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopWatchLocked()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hostgroup: create watcher: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("hostgroup: watch %s: %w", r.path, err)
	}

	r.watcher = w
	r.watchDone = make(chan struct{})
	go r.watchLoop(w, r.watchDone)
	return nil
}

func (r *Resolver) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := r.Load(); err != nil {
					r.logger.Warn("host-group reload failed", "error", err)
				}
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (r *Resolver) stopWatchLocked() {
	if r.watcher != nil {
		_ = r.watcher.Close()
		<-r.watchDone
		r.watcher = nil
		r.watchDone = nil
	}
}

// Close stops the file watcher, if any.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopWatchLocked()
}
