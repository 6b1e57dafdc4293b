package runtime

import (
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestResolveBinary(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	touch(t, filepath.Join(root, "bin", "svc"))

	got, err := l.ResolveBinary("bin/svc")
	if err != nil {
		t.Fatalf("resolve relative: %v", err)
	}
	if got != filepath.Join(root, "bin", "svc") {
		t.Fatalf("resolved = %s", got)
	}
	if _, err := l.ResolveBinary(got); err != nil {
		t.Fatalf("resolve absolute: %v", err)
	}
	_, err = l.ResolveBinary("bin/missing")
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "binary not found") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestBinPathFor(t *testing.T) {
	osTag, arch := OSArchTag()
	p := BinPathFor("postgres", "16.2")
	want := filepath.Join("runtime", "bin", "postgres", "16.2", osTag+"-"+arch, "postgres")
	if goruntime.GOOS == "windows" {
		want += ".exe"
	}
	if p != want {
		t.Fatalf("BinPathFor = %s, want %s", p, want)
	}
	if goruntime.GOARCH == "amd64" && arch != "x64" {
		t.Fatalf("amd64 should map to x64, got %s", arch)
	}
}

func TestEnsureService(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	if _, err := l.EnsureService("mailpit", "1.15.0"); err == nil {
		t.Fatal("expected missing binary error")
	}
	touch(t, filepath.Join(root, BinPathFor("mailpit", "1.15.0")))
	b, err := l.EnsureService("mailpit", "1.15.0")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if b.Name != "mailpit" || b.Version != "1.15.0" {
		t.Fatalf("binary = %+v", b)
	}
}

func TestScopedPath(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	l := NewLocal("/srv/stack")
	got := l.ScopedPath("/srv/stack/runtime/bin/node/20/linux-x64/node")
	parts := filepath.SplitList(got)
	if len(parts) != 3 {
		t.Fatalf("parts = %v", parts)
	}
	if parts[0] != filepath.Dir("/srv/stack/runtime/bin/node/20/linux-x64/node") || parts[1] != l.BinDir() || parts[2] != "/usr/bin" {
		t.Fatalf("scoped path = %s", got)
	}
}

func TestInstalledVersions(t *testing.T) {
	root := t.TempDir()
	l := NewLocal(root)
	for _, v := range []string{"16.2", "15.4", "latest"} {
		if err := os.MkdirAll(filepath.Join(l.BinDir(), "postgres", v), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	got := l.InstalledVersions("postgres")
	if len(got) != 2 || got[0] != "16.2" || got[1] != "15.4" {
		t.Fatalf("versions = %v", got)
	}
	if l.InstalledVersions("nope") != nil {
		t.Fatal("expected nil for unknown service")
	}
}

func TestDefaultVersions(t *testing.T) {
	v := DefaultVersions()
	if v["postgres"] != "16.2" || v["mariadb"] != "10.11.6" || len(v) != 5 {
		t.Fatalf("defaults = %v", v)
	}
}
