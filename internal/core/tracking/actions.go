package tracking

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrackedAction describes one countable dashboard action. Definitions are
// loaded at startup from YAML files and fingerprinted so operators can tell
// which file version produced a deployment's behavior.
type TrackedAction struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	Enabled     bool   `yaml:"enabled"`
	Fingerprint string // SHA-256 of the raw YAML file; computed at load time
}

// rawAction is the on-disk YAML shape. Enabled defaults to true when the
// key is omitted.
type rawAction struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Enabled *bool  `yaml:"enabled"`
}

// Registry answers "is this action one we count?". An empty registry is an
// open registry: every action is accepted and counted.
type Registry interface {
	// Known reports whether the action may be counted.
	Known(name string) bool

	// Get returns the definition for name, or an error if not found.
	Get(name string) (*TrackedAction, error)

	// List returns all enabled actions sorted by name.
	List() []TrackedAction

	// Open reports whether the registry accepts arbitrary actions.
	Open() bool
}

// FileSystemActionRepository loads tracked actions from *.yaml files in a
// directory. Each file holds exactly one action. Loaded once at startup and
// cached in memory — no hot reload.
type FileSystemActionRepository struct {
	dir     string
	actions map[string]TrackedAction // keyed by Name
}

// NewFileSystemActionRepository creates a repository and eagerly loads all
// action files from dir. Returns an error if any file is malformed.
func NewFileSystemActionRepository(dir string) (*FileSystemActionRepository, error) {
	repo := &FileSystemActionRepository{
		dir:     dir,
		actions: make(map[string]TrackedAction),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemActionRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no actions directory — valid (open registry)
	}
	if err != nil {
		return fmt.Errorf("tracked action dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("tracked action path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading tracked action dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading action file %s: %w", path, err)
		}

		var raw rawAction
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing action file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if _, exists := r.actions[raw.Name]; exists {
			return fmt.Errorf("action %q: duplicate action name (check multiple YAML files)", raw.Name)
		}

		enabled := true
		if raw.Enabled != nil {
			enabled = *raw.Enabled
		}

		r.actions[raw.Name] = TrackedAction{
			Name:        raw.Name,
			Label:       raw.Label,
			Enabled:     enabled,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Known reports whether the action may be counted: always true for an open
// registry, otherwise only for enabled definitions.
func (r *FileSystemActionRepository) Known(name string) bool {
	if r.Open() {
		return true
	}
	action, ok := r.actions[name]
	return ok && action.Enabled
}

// Get returns the action definition, or an error if not found.
func (r *FileSystemActionRepository) Get(name string) (*TrackedAction, error) {
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("tracked action %q not found", name)
	}
	return &action, nil
}

// List returns all enabled actions sorted by name.
func (r *FileSystemActionRepository) List() []TrackedAction {
	actions := make([]TrackedAction, 0, len(r.actions))
	for _, action := range r.actions {
		if action.Enabled {
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}

// Open reports whether the registry accepts arbitrary actions.
func (r *FileSystemActionRepository) Open() bool {
	return len(r.actions) == 0
}
