package stateio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultProjectID names the project that legacy (pre-multi-project)
// installs migrate into.
const DefaultProjectID = "default"

// ResolveArchonHome implements spec.md §4.3 / §6's environment precedence:
// ARCHON_HOME, then ARCHON_STATE_DIR, then the OS-default config directory.
func ResolveArchonHome() (string, error) {
	if v := os.Getenv("ARCHON_HOME"); v != "" {
		return v, nil
	}
	if v := os.Getenv("ARCHON_STATE_DIR"); v != "" {
		return v, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("stateio: resolve OS config dir: %w", err)
	}
	return filepath.Join(cfgDir, "archon"), nil
}

// ProjectMeta describes one registered project.
type ProjectMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProjectIndex is the persisted shape of <archon_home>/projects/index.json.
type ProjectIndex struct {
	ActiveProjectID string        `json:"activeProjectId"`
	Projects        []ProjectMeta `json:"projects"`
}

// ProjectRegistry manages the project index and the one-time migration of
// a legacy single-project install into a "default" project.
type ProjectRegistry struct {
	home string
}

// NewProjectRegistry returns a registry rooted at home.
func NewProjectRegistry(home string) *ProjectRegistry {
	return &ProjectRegistry{home: home}
}

func (r *ProjectRegistry) indexPath() string {
	return filepath.Join(r.home, "projects", "index.json")
}

// ProjectDir returns the directory a given project's StateIO is rooted at.
func (r *ProjectRegistry) ProjectDir(id string) string {
	return filepath.Join(r.home, "projects", id)
}

// EnsureMigrated performs the one-time migration of a legacy
// <archon_home>/{state,logs} layout into projects/default/. Migration is
// idempotent by the presence of index.json: once index.json exists, this
// is a no-op regardless of what else is present at the archon root.
func (r *ProjectRegistry) EnsureMigrated(now time.Time) error {
	if _, err := os.Stat(r.indexPath()); err == nil {
		return nil // already migrated (or a fresh multi-project install)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stateio: stat index: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(r.home, "projects"), 0o700); err != nil {
		return fmt.Errorf("stateio: create projects dir: %w", err)
	}

	legacyState := filepath.Join(r.home, "state")
	legacyLogs := filepath.Join(r.home, "logs")
	defaultDir := r.ProjectDir(DefaultProjectID)

	hasLegacy := dirExists(legacyState) || dirExists(legacyLogs)
	if hasLegacy {
		if err := os.MkdirAll(defaultDir, 0o700); err != nil {
			return fmt.Errorf("stateio: create default project dir: %w", err)
		}
		if dirExists(legacyState) {
			if err := os.Rename(legacyState, filepath.Join(defaultDir, "state")); err != nil {
				return fmt.Errorf("stateio: migrate legacy state: %w", err)
			}
		}
		if dirExists(legacyLogs) {
			if err := os.Rename(legacyLogs, filepath.Join(defaultDir, "logs")); err != nil {
				return fmt.Errorf("stateio: migrate legacy logs: %w", err)
			}
		}
	}

	idx := &ProjectIndex{
		ActiveProjectID: DefaultProjectID,
		Projects: []ProjectMeta{
			{ID: DefaultProjectID, Name: "default", CreatedAt: now},
		},
	}
	return r.save(idx)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (r *ProjectRegistry) load() (*ProjectIndex, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectIndex{}, nil
		}
		return &ProjectIndex{}, nil
	}
	var idx ProjectIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return &ProjectIndex{}, nil
	}
	return &idx, nil
}

func (r *ProjectRegistry) save(idx *ProjectIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("stateio: marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath()), 0o700); err != nil {
		return fmt.Errorf("stateio: create projects dir: %w", err)
	}
	return os.WriteFile(r.indexPath(), data, 0o600)
}

// ErrProjectExists is returned by CreateProject for a duplicate id.
var ErrProjectExists = errors.New("project already exists")

// ErrProjectNotFound is returned when a referenced project id is unknown.
var ErrProjectNotFound = errors.New("project not found")

// CreateProject registers a new project and creates its directory.
func (r *ProjectRegistry) CreateProject(id, name string, now time.Time) (*ProjectMeta, error) {
	idx, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, p := range idx.Projects {
		if p.ID == id {
			return nil, ErrProjectExists
		}
	}
	meta := ProjectMeta{ID: id, Name: name, CreatedAt: now}
	idx.Projects = append(idx.Projects, meta)
	if idx.ActiveProjectID == "" {
		idx.ActiveProjectID = id
	}
	if err := os.MkdirAll(r.ProjectDir(id), 0o700); err != nil {
		return nil, fmt.Errorf("stateio: create project dir: %w", err)
	}
	if err := r.save(idx); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListProjects returns every registered project.
func (r *ProjectRegistry) ListProjects() ([]ProjectMeta, error) {
	idx, err := r.load()
	if err != nil {
		return nil, err
	}
	return idx.Projects, nil
}

// ActiveProjectID returns the currently active project id.
func (r *ProjectRegistry) ActiveProjectID() (string, error) {
	idx, err := r.load()
	if err != nil {
		return "", err
	}
	return idx.ActiveProjectID, nil
}

// SetActive switches the active project, failing if id is unregistered.
func (r *ProjectRegistry) SetActive(id string) error {
	idx, err := r.load()
	if err != nil {
		return err
	}
	found := false
	for _, p := range idx.Projects {
		if p.ID == id {
			found = true
			break
		}
	}
	if !found {
		return ErrProjectNotFound
	}
	idx.ActiveProjectID = id
	return r.save(idx)
}
