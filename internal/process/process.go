// Package process spawns and reaps supervised child processes.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killWait bounds how long Stop waits for the reaper after SIGKILL.
const killWait = 5 * time.Second

// ErrNotExited is returned by Stop when the process survived SIGKILL.
var ErrNotExited = errors.New("process did not exit after kill")

// OutputSink consumes the stdout and stderr streams of a spawned process.
// Attach must take ownership of both readers and close them when drained.
type OutputSink interface {
	Attach(id string, stdout, stderr io.ReadCloser) <-chan struct{}
}

// Process is a live handle on a spawned child. The child is reaped by a
// dedicated goroutine so exit checks never block.
type Process struct {
	id        string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done       chan struct{} // closed once cmd.Wait returns
	outputDone <-chan struct{}

	mu      sync.Mutex
	exitErr error
}

// Launch starts spec with stdin bound to the null device and both output streams
// handed to out. The child runs in its own process group.
func Launch(spec Spec, out OutputSink) (*Process, error) {
	cmd := spec.buildCommand()

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		return nil, err
	}
	// the child holds its own copies of the write ends
	_ = outW.Close()
	_ = errW.Close()

	p := &Process{
		id:        spec.ID,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if out != nil {
		p.outputDone = out.Attach(spec.ID, outR, errR)
	} else {
		go drain(outR)
		go drain(errR)
	}
	go p.reap()
	return p, nil
}

func drain(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	_ = r.Close()
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// PID returns the operating system process id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// OutputDone is closed once both output streams are drained. It is nil when
// no sink was attached.
func (p *Process) OutputDone() <-chan struct{} { return p.outputDone }

// Exited reports without blocking whether the process has terminated. When it
// has, err is nil for a zero exit status.
func (p *Process) Exited() (exited bool, err error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.exitErr
	default:
		return false, nil
	}
}

// ExitCode returns the exit status of a terminated process, or -1 while it runs
// or when it was killed by a signal.
func (p *Process) ExitCode() int {
	if exited, _ := p.Exited(); !exited {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Stop terminates the process group: a graceful signal first, then a kill once
// grace elapses. It returns after the process has been reaped.
func (p *Process) Stop(grace time.Duration) error {
	if exited, _ := p.Exited(); exited {
		return nil
	}
	if grace > 0 {
		_ = terminateGroup(p.pid)
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}
	return p.Kill()
}

// Kill forcibly terminates the process group and waits for the reaper.
func (p *Process) Kill() error {
	if exited, _ := p.Exited(); exited {
		return nil
	}
	kerr := killGroup(p.pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		if kerr != nil {
			return fmt.Errorf("%w: %w", ErrNotExited, kerr)
		}
		return ErrNotExited
	}
}
