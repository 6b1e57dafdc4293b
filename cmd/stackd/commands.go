package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/loykin/stackd/internal/config"
	tlsx "github.com/loykin/stackd/internal/tls"
	"github.com/loykin/stackd/pkg/client"
)

// command binds CLI handlers to an output stream and the global flags.
type command struct {
	out    io.Writer
	global *GlobalFlags
}

func (c command) printer() (printer, error) {
	return newPrinter(c.out, c.global.Output)
}

// connect returns a client for a reachable daemon.
func (c command) connect(ctx context.Context, f ClientFlags) (*client.Client, error) {
	apiURL := f.APIUrl
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}
	cfg := client.Config{
		BaseURL:  apiURL,
		Timeout:  f.APITimeout,
		Token:    f.Token,
		Username: f.Username,
		Password: f.Password,
	}
	if f.CACert != "" || f.Insecure {
		tc, err := tlsx.ClientConfig(f.CACert, f.Insecure)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = tc
	}
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'stackd serve'", apiURL)
	}
	return cl, nil
}

// List prints every service state.
func (c command) List(ctx context.Context, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	states, err := cl.List(ctx)
	if err != nil {
		return err
	}
	return p.states(states)
}

// Start starts id, sending an override when override flags are given.
func (c command) Start(ctx context.Context, id string, f StartFlags) error {
	return c.startOrRestart(ctx, id, f, (*client.Client).Start)
}

// Restart restarts id, sending an override when override flags are given.
func (c command) Restart(ctx context.Context, id string, f StartFlags) error {
	return c.startOrRestart(ctx, id, f, (*client.Client).Restart)
}

func (c command) startOrRestart(ctx context.Context, id string, f StartFlags,
	call func(*client.Client, context.Context, string, *client.Override) (client.ServiceState, error)) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	o, err := f.override()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	st, err := call(cl, ctx, id, o)
	return c.finish(p, st, err)
}

// Apply records an override on the daemon without restarting id.
func (c command) Apply(ctx context.Context, id string, f StartFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	o, err := f.override()
	if err != nil {
		return err
	}
	if o == nil {
		return errors.New("apply requires at least one override flag")
	}
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	st, err := cl.ApplyConfig(ctx, id, *o)
	return c.finish(p, st, err)
}

// Stop stops id.
func (c command) Stop(ctx context.Context, id string, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	st, err := cl.Stop(ctx, id)
	return c.finish(p, st, err)
}

// finish prints the resulting state. A failed call that still carries a
// state (e.g. a health failure) prints it before returning the error.
func (c command) finish(p printer, st client.ServiceState, err error) error {
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.State != nil {
			_ = p.state(*apiErr.State)
		}
		return err
	}
	return p.state(st)
}

// Health prints the health status of id.
func (c command) Health(ctx context.Context, id string, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	status, err := cl.Health(ctx, id)
	if err != nil {
		return err
	}
	return p.line("status", status)
}

// Logs prints the buffered log tail of id, or its log file path.
func (c command) Logs(ctx context.Context, id string, f LogsFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	if f.Path {
		path, err := cl.LogPath(ctx, id)
		if err != nil {
			return err
		}
		return p.line("path", path)
	}
	entries, err := cl.Logs(ctx, id, f.Tail)
	if err != nil {
		return err
	}
	return p.logs(entries)
}

// ExportLogs writes a filtered export on the daemon host and prints its path.
func (c command) ExportLogs(ctx context.Context, f ExportFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	path, err := cl.ExportLogs(ctx, f.Service, f.Level, f.Limit)
	if err != nil {
		return err
	}
	return p.line("path", path)
}

// ClearLogs empties the buffers and files of one or all services.
func (c command) ClearLogs(ctx context.Context, f ExportFlags) error {
	cl, err := c.connect(ctx, f.ClientFlags)
	if err != nil {
		return err
	}
	if err := cl.ClearLogs(ctx, f.Service); err != nil {
		return err
	}
	target := f.Service
	if target == "" {
		target = "all services"
	}
	_, err = fmt.Fprintf(c.out, "logs cleared for %s\n", target)
	return err
}

// Usage prints a resource sample of id.
func (c command) Usage(ctx context.Context, id string, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	u, err := cl.Usage(ctx, id)
	if err != nil {
		return err
	}
	return p.usage(u)
}

// Snapshot prints the host-level usage report.
func (c command) Snapshot(ctx context.Context, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	s, err := cl.Snapshot(ctx)
	if err != nil {
		return err
	}
	return p.snapshot(s)
}

// Tick runs one supervision pass on the daemon and prints the resulting states.
func (c command) Tick(ctx context.Context, f ClientFlags) error {
	p, err := c.printer()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx, f)
	if err != nil {
		return err
	}
	if err := cl.Tick(ctx); err != nil {
		return err
	}
	states, err := cl.List(ctx)
	if err != nil {
		return err
	}
	return p.states(states)
}

// override builds the request override, or nil when no override flag is set.
func (f StartFlags) override() (*client.Override, error) {
	if !f.Disabled && f.Version == "" && len(f.Ports) == 0 && len(f.Env) == 0 && len(f.Args) == 0 {
		return nil, nil
	}
	o := &client.Override{Enabled: !f.Disabled, Version: f.Version, Args: f.Args}
	if len(f.Ports) > 0 {
		o.Ports = make(map[string]int, len(f.Ports))
		for _, kv := range f.Ports {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				name, value = config.MainPort, kv
			}
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				return nil, fmt.Errorf("invalid port %q (want name=port)", kv)
			}
			o.Ports[name] = port
		}
	}
	if len(f.Env) > 0 {
		o.Env = make(map[string]string, len(f.Env))
		for _, kv := range f.Env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("invalid env %q (want KEY=VALUE)", kv)
			}
			o.Env[k] = v
		}
	}
	return o, nil
}
