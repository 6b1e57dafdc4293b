// Package logs captures service output into bounded in-memory buffers mirrored to
// rotating per-service files, and exports filtered snapshots.
package logs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Default pipeline limits.
const (
	DefaultLimit       = 2000
	DefaultMaxSize     = 10 << 20
	DefaultMaxBackups  = 3
	DefaultExportLimit = 200

	maxLineSize = 1 << 20
)

// ErrIO wraps failures of log file operations.
var ErrIO = errors.New("log io error")

// Config controls buffer capacity, file location and rotation.
type Config struct {
	Dir        string // per-service files are <Dir>/<id>.log
	ExportDir  string // defaults to <parent of Dir>/exports
	Limit      int    // entries kept in memory per service
	MaxSize    int64  // bytes before a file is rotated
	MaxBackups int    // rotated files kept per service
}

// Pipeline owns every service's log buffer and log file.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buffers map[string]*ring

	// fileMu serializes disk writes and truncation so rotation never races an append.
	fileMu sync.Mutex
}

// New creates a pipeline, applying defaults for zero config fields.
// The log directory is created eagerly; failure to create it is reported on first write.
func New(cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxBackups < 0 {
		cfg.MaxBackups = 0
	} else if cfg.MaxBackups == 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Dir)), "exports")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir != "" {
		_ = os.MkdirAll(cfg.Dir, 0o750)
	}
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		buffers: make(map[string]*ring),
	}
}

// Limit returns the per-service buffer capacity.
func (p *Pipeline) Limit() int { return p.cfg.Limit }

// Path returns the log file path of a service.
func (p *Pipeline) Path(id string) string {
	return filepath.Join(p.cfg.Dir, id+".log")
}

// Info records an informational lifecycle event for a service.
func (p *Pipeline) Info(id, msg string) { p.Append(id, LevelInfo, msg, nil) }

// Error records an error lifecycle event for a service.
func (p *Pipeline) Error(id, msg string) { p.Append(id, LevelError, msg, nil) }

// Append stores an entry in the service buffer and writes it to the service file.
func (p *Pipeline) Append(id, level, msg string, fields map[string]string) Entry {
	e := Entry{Time: p.now(), Level: level, Service: id, Message: msg, Fields: fields}

	p.mu.Lock()
	b := p.buffers[id]
	if b == nil {
		b = newRing(p.cfg.Limit)
		p.buffers[id] = b
	}
	b.push(e)
	p.mu.Unlock()

	if p.cfg.Dir == "" {
		return e
	}
	p.fileMu.Lock()
	err := appendLine(p.Path(id), e.fileLine(), p.cfg.MaxSize, p.cfg.MaxBackups)
	p.fileMu.Unlock()
	if err != nil {
		p.logger.Warn("failed to write service log", "service", id, "error", err)
	}
	return e
}

// Capture reads r line by line, appending each line at level, until r is exhausted.
func (p *Pipeline) Capture(id, level string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		p.Append(id, level, sc.Text(), nil)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug("log capture ended", "service", id, "level", level, "error", err)
	}
}

// Attach starts one reader per stream: stdout lines are info, stderr lines are error.
// The returned channel is closed once both streams are drained and closed.
func (p *Pipeline) Attach(id string, stdout, stderr io.ReadCloser) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, s := range []struct {
		r     io.ReadCloser
		level string
	}{{stdout, LevelInfo}, {stderr, LevelError}} {
		if s.r == nil {
			continue
		}
		wg.Add(1)
		go func(r io.ReadCloser, level string) {
			defer wg.Done()
			defer func() { _ = r.Close() }()
			p.Capture(id, level, r)
		}(s.r, s.level)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// Tail returns the newest n entries of a service, oldest first. n <= 0 returns all.
func (p *Pipeline) Tail(id string, n int) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.buffers[id]
	if b == nil {
		return []Entry{}
	}
	return b.tail(n)
}

// Len returns the number of buffered entries for a service.
func (p *Pipeline) Len(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b := p.buffers[id]; b != nil {
		return b.len()
	}
	return 0
}

// Snapshot copies every buffer.
func (p *Pipeline) Snapshot() map[string][]Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]Entry, len(p.buffers))
	for id, b := range p.buffers {
		out[id] = b.tail(0)
	}
	return out
}

// ExportOptions filters an export. Empty Service or Level means all.
type ExportOptions struct {
	Service string
	Level   string
	Limit   int
}

// Export writes the newest matching entries, oldest first, to a new file in the export
// directory and returns its path.
func (p *Pipeline) Export(opts ExportOptions) (string, error) {
	var entries []Entry
	for id, items := range p.Snapshot() {
		if opts.Service != "" && opts.Service != id {
			continue
		}
		for _, e := range items {
			if opts.Level != "" && opts.Level != e.Level {
				continue
			}
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultExportLimit
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	if err := os.MkdirAll(p.cfg.ExportDir, 0o750); err != nil {
		return "", fmt.Errorf("%w: create export dir: %w", ErrIO, err)
	}
	stem := fmt.Sprintf("%s-%s-%d", tagOr(opts.Service), tagOr(opts.Level), p.now().UnixMilli())
	path, err := reserveExport(p.cfg.ExportDir, stem)
	if err != nil {
		return "", fmt.Errorf("%w: reserve export: %w", ErrIO, err)
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.exportLine())
	}
	if err := renameio.WriteFile(path, []byte(sb.String()), 0o640); err != nil {
		return "", fmt.Errorf("%w: write export: %w", ErrIO, err)
	}
	return path, nil
}

// reserveExport creates an empty file named stem.log in dir, or stem-N.log when
// an earlier export in the same millisecond already took the name.
func reserveExport(dir, stem string) (string, error) {
	for n := 0; ; n++ {
		name := stem + ".log"
		if n > 0 {
			name = fmt.Sprintf("%s-%d.log", stem, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return path, f.Close()
	}
}

func tagOr(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

// Clear empties the buffer and truncates the log file of a service. An empty id
// clears every buffer and truncates every *.log file in the log directory.
func (p *Pipeline) Clear(id string) error {
	p.mu.Lock()
	if id == "" {
		p.buffers = make(map[string]*ring)
	} else if b := p.buffers[id]; b != nil {
		b.reset()
	}
	p.mu.Unlock()

	if p.cfg.Dir == "" {
		return nil
	}
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if id != "" {
		if err := truncateIfExists(p.Path(id)); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		return nil
	}
	files, err := filepath.Glob(filepath.Join(p.cfg.Dir, "*.log"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	var errs []error
	for _, f := range files {
		if err := truncateIfExists(f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrIO, errors.Join(errs...))
	}
	return nil
}

func truncateIfExists(path string) error {
	err := os.Truncate(path, 0)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
