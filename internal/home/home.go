// Package home manages the per-process state directory layout shared by
// the ingestor and gateway binaries.
//
// Layout:
//
//	<root>/
//	  node_id           persistent MQTT client-ID prefix (ingestor)
//	  auth_state.json   persisted {token, location, company, acquired_at} (gateway)
//	  hostgroups.json   default location for the static host-group file (ingestor)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a process home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location,
// namespaced by process name (e.g. "ingestor", "gateway") so the two
// binaries never collide when run on the same host.
func Default(process string) (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "tagbridge", process)}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// AuthStatePath returns the path to the persisted Auth Manager state file.
func (d Dir) AuthStatePath() string {
	return filepath.Join(d.root, "auth_state.json")
}

// HostGroupsPath returns the default path for the static host-group file.
func (d Dir) HostGroupsPath() string {
	return filepath.Join(d.root, "hostgroups.json")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// ClientIDPrefix reads the persistent 6-character random prefix used to
// build the MQTT client identifier (spec: "<6-char-random>-<fixed|mobile>"),
// generating and persisting one on first use so the broker sees a stable
// identity for this host across restarts.
func (d Dir) ClientIDPrefix() (string, error) {
	return d.readOrCreate("node_id", func() string {
		return uuid.NewString()[:6]
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is constructed from trusted home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: not a secret value
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
