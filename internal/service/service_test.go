package service

import "testing"

func TestApplyOverride(t *testing.T) {
	def := Definition{
		ID:     "php",
		Binary: "runtime/bin/php",
		Args:   []string{"-S", "127.0.0.1:9000"},
		Env:    map[string]string{"A": "1", "B": "2"},
		Ports:  []Port{{Name: "http", Port: 9000}, {Name: "debug", Port: 9003}},
	}
	got := def.Apply(Override{
		Enabled: true,
		Ports:   map[string]int{"http": 9010, "unknown": 1},
		Env:     map[string]string{"B": "override", "C": "3"},
		Args:    []string{"-d", "memory_limit=1G"},
	})

	if got.Ports[0].Port != 9010 || got.Ports[1].Port != 9003 {
		t.Fatalf("unexpected ports: %+v", got.Ports)
	}
	if len(got.Ports) != 2 {
		t.Fatalf("unknown port override must not add ports: %+v", got.Ports)
	}
	if got.Env["A"] != "1" || got.Env["B"] != "override" || got.Env["C"] != "3" {
		t.Fatalf("unexpected env: %+v", got.Env)
	}
	want := []string{"-S", "127.0.0.1:9000", "-d", "memory_limit=1G"}
	if len(got.Args) != len(want) {
		t.Fatalf("args = %v, want %v", got.Args, want)
	}
	for i := range want {
		if got.Args[i] != want[i] {
			t.Fatalf("args = %v, want %v", got.Args, want)
		}
	}
}

func TestApplyDoesNotMutateTemplate(t *testing.T) {
	def := Definition{
		ID:    "node",
		Args:  []string{"server.js"},
		Env:   map[string]string{"NODE_ENV": "development"},
		Ports: []Port{{Name: "http", Port: 3000}},
	}
	_ = def.Apply(Override{
		Enabled: true,
		Ports:   map[string]int{"http": 3001},
		Env:     map[string]string{"NODE_ENV": "production"},
		Args:    []string{"--inspect"},
	})
	if def.Ports[0].Port != 3000 {
		t.Fatalf("template port mutated: %d", def.Ports[0].Port)
	}
	if def.Env["NODE_ENV"] != "development" {
		t.Fatalf("template env mutated: %v", def.Env)
	}
	if len(def.Args) != 1 {
		t.Fatalf("template args mutated: %v", def.Args)
	}
}

func TestApplyNilEnv(t *testing.T) {
	def := Definition{ID: "mailpit"}
	got := def.Apply(Override{Enabled: true, Env: map[string]string{"MP_UI": "1"}})
	if got.Env["MP_UI"] != "1" {
		t.Fatalf("env not merged into nil map: %v", got.Env)
	}
}

func TestStateHelpers(t *testing.T) {
	s := NewState("x", StateStarting).WithPID(42).WithError("boom")
	if s.PID == nil || *s.PID != 42 || s.LastError != "boom" {
		t.Fatalf("unexpected state: %+v", s)
	}
	if !s.Active() {
		t.Fatalf("starting should be active")
	}
	if NewState("x", StateError).Active() {
		t.Fatalf("error should not be active")
	}
}
