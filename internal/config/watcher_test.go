package config

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loykin/stackd/internal/service"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied map[string]service.Override
}

func (r *recordingApplier) ApplyConfig(id string, o service.Override) (service.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		r.applied = make(map[string]service.Override)
	}
	r.applied[id] = o
	return service.NewState(id, service.StateStopped), nil
}

func (r *recordingApplier) get(id string) (service.Override, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.applied[id]
	return o, ok
}

func TestWatcherAppliesChangedOverride(t *testing.T) {
	store := NewOverrideStore(t.TempDir())
	app := &recordingApplier{}
	w := NewWatcher(store, app, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	want := service.Override{Enabled: true, Version: "7.2.4"}
	deadline := time.Now().Add(5 * time.Second)
	for {
		// keep writing until the watcher has registered the directory
		if err := store.Save("redis", want); err != nil {
			t.Fatalf("save: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
		if o, ok := app.get("redis"); ok {
			if o.Version != "7.2.4" || !o.Enabled {
				t.Fatalf("unexpected applied override: %+v", o)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("override was never applied")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
