package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/stackd/internal/service"
	"github.com/loykin/stackd/pkg/client"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (printer, error) {
	switch format {
	case "", outputTable:
		return printer{w: w, format: outputTable}, nil
	case outputJSON, outputYAML:
		return printer{w: w, format: format}, nil
	}
	return printer{}, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

// structured writes v as JSON or YAML. It reports false for table output so
// callers can render their own table.
func (p printer) structured(v any) (bool, error) {
	switch p.format {
	case outputJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return true, err
	case outputYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func (p printer) states(states []client.ServiceState) error {
	if ok, err := p.structured(states); ok {
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATE\tPID\tUPDATED\tERROR")
	for _, st := range states {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			st.ID, st.State, pidString(st.PID), since(st.UpdatedAt), st.LastError)
	}
	return tw.Flush()
}

func (p printer) state(st client.ServiceState) error {
	if ok, err := p.structured(st); ok {
		return err
	}
	return p.states([]client.ServiceState{st})
}

func (p printer) logs(entries []client.LogEntry) error {
	if ok, err := p.structured(entries); ok {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(p.w, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message); err != nil {
			return err
		}
	}
	return nil
}

func (p printer) usage(u client.Usage) error {
	if ok, err := p.structured(u); ok {
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tCPU%\tMEM(MB)\tTHREADS")
	_, _ = fmt.Fprintf(tw, "%d\t%.1f\t%.1f\t%d\n", u.PID, u.CPUPercent, u.MemoryMB, u.NumThreads)
	return tw.Flush()
}

func (p printer) snapshot(s client.Snapshot) error {
	if ok, err := p.structured(s); ok {
		return err
	}
	ports := make([]string, len(s.PortsInUse))
	for i, port := range s.PortsInUse {
		ports[i] = strconv.Itoa(port)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "uptime\t%s\n", time.Duration(s.UptimeSec)*time.Second)
	_, _ = fmt.Fprintf(tw, "cpu\t%.1f%%\n", s.CPUPercent)
	_, _ = fmt.Fprintf(tw, "memory\t%d MB\n", s.MemMB)
	_, _ = fmt.Fprintf(tw, "ports\t%s\n", strings.Join(ports, ","))
	return tw.Flush()
}

func (p printer) override(id string, o service.Override) error {
	if ok, err := p.structured(o); ok {
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "id\t%s\n", id)
	_, _ = fmt.Fprintf(tw, "enabled\t%t\n", o.Enabled)
	_, _ = fmt.Fprintf(tw, "version\t%s\n", o.Version)
	for _, name := range sortedKeys(o.Ports) {
		_, _ = fmt.Fprintf(tw, "port.%s\t%d\n", name, o.Ports[name])
	}
	for _, k := range sortedKeys(o.Env) {
		_, _ = fmt.Fprintf(tw, "env.%s\t%s\n", k, o.Env[k])
	}
	if len(o.Args) > 0 {
		_, _ = fmt.Fprintf(tw, "args\t%s\n", strings.Join(o.Args, " "))
	}
	return tw.Flush()
}

// line prints a single value; structured formats wrap it under key.
func (p printer) line(key, value string) error {
	if ok, err := p.structured(map[string]string{key: value}); ok {
		return err
	}
	_, err := fmt.Fprintln(p.w, value)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pidString(pid *int) string {
	if pid == nil {
		return "-"
	}
	return strconv.Itoa(*pid)
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}
