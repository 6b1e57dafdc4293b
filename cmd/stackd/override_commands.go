package main

import (
	"fmt"

	"github.com/loykin/stackd/internal/config"
	"github.com/loykin/stackd/internal/service"
)

// overrideStore opens the override store under the configured root. An
// explicit --root wins over the config file.
func (c command) overrideStore(f OverrideFlags) (*config.OverrideStore, error) {
	root := f.Root
	if root == "" {
		cfg, err := loadConfig(c.global.ConfigPath)
		if err != nil {
			return nil, err
		}
		root = cfg.Root
	}
	return config.NewOverrideStore(root), nil
}

// OverrideShow prints the persisted override of id, allocating its main port
// on first use.
func (c command) OverrideShow(id string, f OverrideFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	store, err := c.overrideStore(f)
	if err != nil {
		return err
	}
	o, err := store.LoadServiceConfig(id)
	if err != nil {
		return err
	}
	return p.override(id, o)
}

// OverrideSet merges the given flags into the persisted override of id. A
// running daemon picks the change up through its override watcher.
func (c command) OverrideSet(id string, f OverrideFlags, sf StartFlags, disabledSet bool) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	store, err := c.overrideStore(f)
	if err != nil {
		return err
	}
	base, err := store.Load(id)
	if err != nil {
		return err
	}
	o, err := mergeOverride(base, sf, disabledSet)
	if err != nil {
		return err
	}
	if err := store.Save(id, o); err != nil {
		return err
	}
	return p.override(id, o)
}

// OverrideReset restores the default override of id.
func (c command) OverrideReset(id string, f OverrideFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	store, err := c.overrideStore(f)
	if err != nil {
		return err
	}
	o, err := store.Reset(id)
	if err != nil {
		return err
	}
	return p.override(id, o)
}

// OverrideRange restricts main port allocation of id to [from, to] and
// allocates a port from it.
func (c command) OverrideRange(id string, f OverrideFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	store, err := c.overrideStore(f)
	if err != nil {
		return err
	}
	if err := store.SetRange(id, config.PortRange{From: f.From, To: f.To}); err != nil {
		return err
	}
	port, err := store.AllocatePort(id)
	if err != nil {
		return err
	}
	return p.line("port", fmt.Sprint(port))
}

func mergeOverride(base service.Override, f StartFlags, disabledSet bool) (service.Override, error) {
	disabled := f.Disabled
	f.Disabled = false
	o, err := f.override()
	if err != nil {
		return base, err
	}
	if disabledSet {
		base.Enabled = !disabled
	}
	if o == nil {
		return base, nil
	}
	if o.Version != "" {
		base.Version = o.Version
	}
	for k, v := range o.Ports {
		if base.Ports == nil {
			base.Ports = make(map[string]int)
		}
		base.Ports[k] = v
	}
	for k, v := range o.Env {
		if base.Env == nil {
			base.Env = make(map[string]string)
		}
		base.Env[k] = v
	}
	if len(o.Args) > 0 {
		base.Args = o.Args
	}
	return base, nil
}
