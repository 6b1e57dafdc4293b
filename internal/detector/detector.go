// Package detector records the processes a supervisor spawned in pid files
// and finds the ones a previous, crashed supervisor left running.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Ext is the pid file extension.
const Ext = ".pid"

// Record is the content of a pid file: the pid on the first line, then a
// JSON meta line. StartUnix guards against pid reuse.
type Record struct {
	Service   string `json:"service"`
	PID       int    `json:"-"`
	StartUnix int64  `json:"start_unix,omitempty"`
}

// Path returns the pid file of service id under dir.
func Path(dir, id string) string {
	return filepath.Join(dir, id+Ext)
}

// Write records pid for service id under dir.
func Write(dir, id string, pid int) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	rec := Record{Service: id, PID: pid, StartUnix: getProcStartUnix(pid)}
	meta, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return renameio.WriteFile(Path(dir, id), []byte(content), 0o600)
}

// Remove deletes the pid file of id. A missing file is not an error.
func Remove(dir, id string) error {
	err := os.Remove(Path(dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Read parses a pid file.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return Record{}, fmt.Errorf("invalid pid in %s", path)
	}
	rec := Record{PID: pid, Service: strings.TrimSuffix(filepath.Base(path), Ext)}
	if len(lines) > 1 && strings.TrimSpace(lines[1]) != "" {
		if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
			return Record{}, fmt.Errorf("invalid meta in %s: %w", path, err)
		}
	}
	return rec, nil
}

// Alive reports whether the recorded process still runs. A start time that
// differs from the recorded one means the pid was reused.
func (r Record) Alive() bool {
	if r.StartUnix > 0 {
		if cur := getProcStartUnix(r.PID); cur > 0 && cur != r.StartUnix {
			return false
		}
	}
	return pidAlive(r.PID)
}

// Scan reads every pid file in dir. Unreadable files are returned in bad.
func Scan(dir string) (recs []Record, bad []string, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, nil, err
	}
	for _, m := range matches {
		rec, err := Read(m)
		if err != nil {
			bad = append(bad, m)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, bad, nil
}

// Terminate asks the process to exit, then kills it after grace.
func Terminate(pid int, grace time.Duration) error {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil // already gone
	}
	if err := p.Terminate(); err == nil {
		deadline := time.Now().Add(grace)
		for time.Now().Before(deadline) {
			if !pidAlive(pid) {
				return nil
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	if err := p.Kill(); err != nil && pidAlive(pid) {
		return err
	}
	return nil
}
