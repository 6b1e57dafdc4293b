package process

import (
	"os/exec"
)

// Spec describes one spawn of a service binary.
type Spec struct {
	ID      string   // service id; used to route output
	Binary  string   // absolute path of the executable
	Args    []string // arguments after the binary
	WorkDir string   // optional working dir
	Env     []string // full environment in K=V form; nil inherits the parent's
}

// buildCommand constructs the *exec.Cmd for the spec without going through a shell.
func (s Spec) buildCommand() *exec.Cmd {
	// #nosec G204 -- binary is resolved by the provisioner, args come from service definitions
	cmd := exec.Command(s.Binary, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}
