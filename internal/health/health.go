// Package health performs reachability checks against a service's declared target.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/loykin/stackd/internal/service"
)

// Defaults used when a check leaves the field zero.
const (
	DefaultRetries  = 5
	DefaultTimeout  = time.Second
	DefaultInterval = 200 * time.Millisecond
)

var (
	// ErrHealthCheckFailed is returned once every retry of a probe has failed.
	ErrHealthCheckFailed = errors.New("health check failed")
	// ErrUnsupported is returned for an unknown check kind.
	ErrUnsupported = errors.New("unsupported health check")
)

// Prober performs a single reachability check.
// Implementations must be safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context, c service.HealthCheck) error
}

// TCPProber checks port and http targets with a plain TCP connect.
// pid checks succeed unconditionally: the caller only probes services it tracks.
type TCPProber struct {
	Dialer net.Dialer
}

// Default is the prober used by the package-level helpers.
var Default Prober = &TCPProber{}

func (p *TCPProber) Probe(ctx context.Context, c service.HealthCheck) error {
	switch c.Kind {
	case service.CheckPID:
		return nil
	case service.CheckPort, service.CheckHTTP:
		addr, err := ParseTarget(c.Target)
		if err != nil {
			return err
		}
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		d := p.Dialer
		conn, err := d.DialContext(dctx, "tcp", addr)
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, c.Kind)
	}
}

// ParseTarget reduces a target such as "http://127.0.0.1:8080/health" to "127.0.0.1:8080".
func ParseTarget(target string) (string, error) {
	t := strings.TrimSpace(target)
	if i := strings.Index(t, "://"); i >= 0 {
		t = t[i+3:]
	}
	if i := strings.IndexByte(t, '/'); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		return "", fmt.Errorf("invalid target %q", target)
	}
	if _, _, err := net.SplitHostPort(t); err != nil {
		return "", fmt.Errorf("invalid target %q: %w", target, err)
	}
	return t, nil
}

// Probe runs a single check with the default prober.
func Probe(ctx context.Context, c service.HealthCheck) error {
	return Default.Probe(ctx, c)
}

// ProbeWithRetries runs up to retries checks with p, sleeping c.Interval between
// attempts, and returns the last failure wrapped in ErrHealthCheckFailed.
func ProbeWithRetries(ctx context.Context, p Prober, c service.HealthCheck, retries int) error {
	if retries <= 0 {
		retries = DefaultRetries
	}
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	var last error
	for i := 0; i < retries; i++ {
		if last = p.Probe(ctx, c); last == nil {
			return nil
		}
		if i == retries-1 {
			break
		}
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %w", ErrHealthCheckFailed, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %w", ErrHealthCheckFailed, last)
}
