package registry

import (
	"sort"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

const resourceConfigFile = "resource-config.json"

// FsRootPerm is the access mode granted over one filesystem root.
type FsRootPerm string

const (
	FsRootReadOnly  FsRootPerm = "ro"
	FsRootReadWrite FsRootPerm = "rw"
)

// FsRoot is one entry of the filesystem allowlist the validation engine's
// fs.* resource-scoping step boundary-matches paths against (spec.md §4.6
// step 5).
type FsRoot struct {
	ID   string     `json:"id"`
	Path string     `json:"path"`
	Perm FsRootPerm `json:"perm"`
}

// ResourceConfig is the single persisted document holding every resource
// scoping setting the validation engine's fs.*/net.*/exec.* steps consult.
// SecretsEpoch is carried here too since it is the only resource-shaped
// value pkg/secrets needs reflected into snapshots.
type ResourceConfig struct {
	FsRoots        []FsRoot `json:"fs_roots"`
	NetAllowlist   []string `json:"net_allowlist"`
	ExecCwdRootID  string   `json:"exec_cwd_root_id,omitempty"`
	SecretsEpoch   int      `json:"secrets_epoch"`
}

// ResourceConfigStore persists ResourceConfig. Each mutator updates exactly
// one field, preserving the others untouched (spec.md §4.4).
type ResourceConfigStore struct {
	mu  sync.Mutex
	io  stateio.StateIO
	cfg ResourceConfig
}

// NewResourceConfigStore returns a ResourceConfigStore backed by io.
func NewResourceConfigStore(io stateio.StateIO) *ResourceConfigStore {
	return &ResourceConfigStore{io: io}
}

// ApplyPersistedState loads resource-config.json, if present.
func (s *ResourceConfigStore) ApplyPersistedState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := stateio.ReadJSON(s.io, resourceConfigFile, ResourceConfig{})
	if err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// Get returns a copy of the current resource configuration.
func (s *ResourceConfigStore) Get() ResourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

func (s *ResourceConfigStore) cloneLocked() ResourceConfig {
	cfg := s.cfg
	cfg.FsRoots = append([]FsRoot(nil), s.cfg.FsRoots...)
	cfg.NetAllowlist = append([]string(nil), s.cfg.NetAllowlist...)
	return cfg
}

// SetFsRoots replaces the filesystem root allowlist, sorted by id for
// deterministic snapshot rendering (spec.md §4.5 rule 4).
func (s *ResourceConfigStore) SetFsRoots(roots []FsRoot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]FsRoot(nil), roots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	s.cfg.FsRoots = sorted
	return s.persistLocked()
}

// SetNetAllowlist replaces the network host allowlist, sorted lexically for
// deterministic snapshot rendering.
func (s *ResourceConfigStore) SetNetAllowlist(hosts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	s.cfg.NetAllowlist = sorted
	return s.persistLocked()
}

// SetExecCwdRootID sets the id of the fs root exec.* capabilities must use
// as a working directory.
func (s *ResourceConfigStore) SetExecCwdRootID(rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ExecCwdRootID = rootID
	return s.persistLocked()
}

// IncrementSecretsEpoch bumps the secrets epoch by one, changing the rule
// snapshot hash without touching any other resource setting — used when
// the secrets envelope is rotated or re-keyed.
func (s *ResourceConfigStore) IncrementSecretsEpoch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SecretsEpoch++
	return s.persistLocked()
}

func (s *ResourceConfigStore) persistLocked() error {
	return stateio.WriteJSON(s.io, resourceConfigFile, s.cfg)
}
