package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/renameio/v2"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/loykin/stackd/internal/env"
	"github.com/loykin/stackd/internal/service"
)

// MainPort is the port name that is allocated automatically when set to 0.
const MainPort = "main"

// ErrNoPort is returned when no free port could be allocated.
var ErrNoPort = errors.New("no available ports")

// overrideFile is the on-disk form of service.Override.
type overrideFile struct {
	ID      string         `toml:"id" mapstructure:"id"`
	Enabled bool           `toml:"enabled" mapstructure:"enabled"`
	Version string         `toml:"version,omitempty" mapstructure:"version"`
	Ports   map[string]int `toml:"ports,omitempty" mapstructure:"ports"`
	Env     []string       `toml:"env,omitempty" mapstructure:"env"`
	Args    []string       `toml:"args,omitempty" mapstructure:"args"`
}

// PortRange is an inclusive range of ports reserved for a service.
type PortRange struct {
	From int `toml:"from" mapstructure:"from"`
	To   int `toml:"to" mapstructure:"to"`
}

type portRegistry struct {
	Assigned map[string]int       `toml:"assigned" mapstructure:"assigned"`
	Ranges   map[string]PortRange `toml:"ranges" mapstructure:"ranges"`
}

// OverrideStore keeps one TOML override per service under <root>/config/services
// and the port registry in <root>/config/ports.toml.
type OverrideStore struct {
	Dir string

	mu sync.Mutex
}

// NewOverrideStore returns a store rooted at root.
func NewOverrideStore(root string) *OverrideStore {
	return &OverrideStore{Dir: filepath.Join(root, "config", "services")}
}

// Path returns the override file of a service.
func (s *OverrideStore) Path(id string) string {
	return filepath.Join(s.Dir, id+".toml")
}

func (s *OverrideStore) registryPath() string {
	return filepath.Join(filepath.Dir(s.Dir), "ports.toml")
}

// LoadServiceConfig returns the persisted override of id, or an enabled empty
// override when none exists. A main port of 0 is replaced by a free port and
// the override is saved back.
func (s *OverrideStore) LoadServiceConfig(id string) (service.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.read(id)
	if err != nil {
		return o, err
	}
	if p, ok := o.Ports[MainPort]; ok && p == 0 {
		port, err := s.allocateLocked(id)
		if err != nil {
			return o, err
		}
		o.Ports[MainPort] = port
		if err := s.writeLocked(id, o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Load returns the persisted override without allocating ports.
func (s *OverrideStore) Load(id string) (service.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Save writes the override of id atomically.
func (s *OverrideStore) Save(id string, o service.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(id, o)
}

// Reset replaces the override of id with the default one.
func (s *OverrideStore) Reset(id string) (service.Override, error) {
	o := service.DefaultOverride()
	return o, s.Save(id, o)
}

// SetRange reserves an inclusive port range for id.
func (s *OverrideStore) SetRange(id string, r PortRange) error {
	if r.From <= 0 || r.To <= 0 || r.From > r.To || r.To > 65535 {
		return fmt.Errorf("%w: invalid port range for %s", ErrInvalid, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.loadRegistry()
	if err != nil {
		return err
	}
	reg.Ranges[id] = r
	return s.saveRegistry(reg)
}

// AllocatePort returns a free port for id. A previously assigned port is
// reused while it is still free; otherwise the service's range is scanned,
// and without a range the kernel picks an ephemeral port.
func (s *OverrideStore) AllocatePort(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(id)
}

func (s *OverrideStore) allocateLocked(id string) (int, error) {
	reg, err := s.loadRegistry()
	if err != nil {
		return 0, err
	}
	if p, ok := reg.Assigned[id]; ok && portAvailable(p) {
		return p, nil
	}
	taken := make(map[int]bool, len(reg.Assigned))
	for svc, p := range reg.Assigned {
		if svc != id {
			taken[p] = true
		}
	}
	port := 0
	if r, ok := reg.Ranges[id]; ok {
		for p := r.From; p <= r.To; p++ {
			if !taken[p] && portAvailable(p) {
				port = p
				break
			}
		}
		if port == 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoPort, id)
		}
	} else {
		port, err = ephemeralPort()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrNoPort, id, err)
		}
	}
	reg.Assigned[id] = port
	if err := s.saveRegistry(reg); err != nil {
		return 0, err
	}
	return port, nil
}

func (s *OverrideStore) read(id string) (service.Override, error) {
	path := s.Path(id)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return service.DefaultOverride(), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("enabled", true)
	if err := v.ReadInConfig(); err != nil {
		return service.Override{}, fmt.Errorf("read override %s: %w", path, err)
	}
	var f overrideFile
	if err := v.Unmarshal(&f); err != nil {
		return service.Override{}, fmt.Errorf("decode override %s: %w", path, err)
	}
	if f.ID != "" && f.ID != id {
		return service.Override{}, fmt.Errorf("%w: override id mismatch: %s != %s", ErrInvalid, f.ID, id)
	}
	o := service.Override{Enabled: f.Enabled, Version: f.Version, Ports: f.Ports, Args: f.Args}
	if len(f.Env) > 0 {
		o.Env = env.Parse(f.Env)
	}
	return o, nil
}

func (s *OverrideStore) writeLocked(id string, o service.Override) error {
	f := overrideFile{ID: id, Enabled: o.Enabled, Version: o.Version, Ports: o.Ports, Args: o.Args}
	for k, v := range o.Env {
		f.Env = append(f.Env, k+"="+v)
	}
	sort.Strings(f.Env)
	return writeTOML(s.Path(id), f)
}

func (s *OverrideStore) loadRegistry() (portRegistry, error) {
	reg := portRegistry{Assigned: map[string]int{}, Ranges: map[string]PortRange{}}
	path := s.registryPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return reg, fmt.Errorf("read port registry: %w", err)
	}
	if err := v.Unmarshal(&reg); err != nil {
		return reg, fmt.Errorf("decode port registry: %w", err)
	}
	if reg.Assigned == nil {
		reg.Assigned = map[string]int{}
	}
	if reg.Ranges == nil {
		reg.Ranges = map[string]PortRange{}
	}
	return reg, nil
}

func (s *OverrideStore) saveRegistry(reg portRegistry) error {
	return writeTOML(s.registryPath(), reg)
}

func writeTOML(path string, v any) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o640)
}

func portAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func ephemeralPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
