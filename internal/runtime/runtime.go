// Package runtime locates provisioned service binaries under a local root.
//
// Binaries live at runtime/bin/<service>/<version>/<os>-<arch>/<service>[.exe]
// relative to the root. Nothing is downloaded; EnsureService only verifies that
// the expected binary is present.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"unicode"

	"github.com/loykin/stackd/internal/env"
)

// ErrBinaryNotFound is returned when a binary path does not exist.
var ErrBinaryNotFound = errors.New("binary not found")

// Binary describes a provisioned service binary.
type Binary struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	BinPath string `json:"bin_path"` // relative to the provisioning root
}

// Local resolves binaries against a root directory on the local filesystem.
type Local struct {
	Root string
}

// NewLocal returns a provisioner rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

// BinDir is the shared bin root that is placed on every service PATH.
func (l *Local) BinDir() string {
	return filepath.Join(l.Root, "runtime", "bin")
}

// ResolveBinary makes binary absolute against the root and checks it exists.
func (l *Local) ResolveBinary(binary string) (string, error) {
	p := binary
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.Root, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, p)
	}
	return p, nil
}

// EnsureService reports the expected binary for name@version, failing when it
// has not been provisioned.
func (l *Local) EnsureService(name, version string) (Binary, error) {
	osTag, arch := OSArchTag()
	b := Binary{Name: name, Version: version, OS: osTag, Arch: arch, BinPath: BinPathFor(name, version)}
	if _, err := l.ResolveBinary(b.BinPath); err != nil {
		return b, fmt.Errorf("runtime binary not available: %w", err)
	}
	return b, nil
}

// ScopedPath builds the PATH for a child: the binary's directory, the shared
// bin root, then the inherited PATH.
func (l *Local) ScopedPath(binary string) string {
	return env.JoinPath(filepath.Dir(binary), l.BinDir(), os.Getenv("PATH"))
}

// BinPathFor returns the binary path of name@version relative to the root.
func (l *Local) BinPathFor(name, version string) string {
	return BinPathFor(name, version)
}

// InstalledVersions lists provisioned versions of a service, newest first by
// lexical order.
func (l *Local) InstalledVersions(name string) []string {
	entries, err := os.ReadDir(filepath.Join(l.BinDir(), name))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() && n != "" && unicode.IsDigit(rune(n[0])) {
			out = append(out, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// BinPathFor returns runtime/bin/<name>/<version>/<os>-<arch>/<name>[.exe].
func BinPathFor(name, version string) string {
	osTag, arch := OSArchTag()
	exe := name
	if goruntime.GOOS == "windows" {
		exe += ".exe"
	}
	return filepath.Join("runtime", "bin", name, version, osTag+"-"+arch, exe)
}

// OSArchTag returns the platform tag used in binary paths.
func OSArchTag() (string, string) {
	osTag := goruntime.GOOS
	if osTag == "darwin" {
		osTag = "macos"
	}
	arch := goruntime.GOARCH
	if arch == "amd64" {
		arch = "x64"
	}
	return osTag, arch
}

// DefaultVersions is the version installed for each known service when none is
// configured.
func DefaultVersions() map[string]string {
	return map[string]string{
		"php":      "8.3.2",
		"node":     "20.11.1",
		"postgres": "16.2",
		"mariadb":  "10.11.6",
		"mailpit":  "1.15.0",
	}
}
