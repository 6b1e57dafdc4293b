package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/stackd/internal/service"
)

// Applier receives overrides that changed on disk.
type Applier interface {
	ApplyConfig(id string, o service.Override) (service.State, error)
}

// Watcher forwards edits of override files to an Applier.
type Watcher struct {
	store  *OverrideStore
	apply  Applier
	logger *slog.Logger
}

// NewWatcher watches store.Dir. A nil logger means slog.Default().
func NewWatcher(store *OverrideStore, apply Applier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: store, apply: apply, logger: logger}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.store.Dir, 0o750); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.store.Dir); err != nil {
		return err
	}
	w.logger.Info("watching service overrides", "dir", w.store.Dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("override watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".toml" {
		return
	}
	id := strings.TrimSuffix(name, ".toml")
	o, err := w.store.Load(id)
	if err != nil {
		// editors write in several steps; the next event carries the full file
		w.logger.Debug("override not readable yet", "service", id, "error", err)
		return
	}
	if _, err := w.apply.ApplyConfig(id, o); err != nil {
		w.logger.Warn("apply override failed", "service", id, "error", err)
		return
	}
	w.logger.Info("override applied", "service", id)
}
