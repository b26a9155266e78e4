// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/emblemhq/emblem/lib/canonical"
)

// Starter forks one worker process per call.
type Starter interface {
	Start(workerID int) (Process, error)
}

// Process is the supervisor's handle on one running worker.
type Process interface {
	// Pid identifies the process for log correlation and event
	// matching.
	Pid() int

	// AwaitReady blocks until the worker completes the readiness
	// handshake, or fails when the worker dies first.
	AwaitReady() (ReadyMessage, error)

	// Wait blocks until the process exits.
	Wait() ExitStatus

	// Drain asks the worker to stop accepting work and exit.
	Drain() error

	// Kill terminates the worker immediately, without grace.
	Kill() error
}

// ExitStatus describes how a worker ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was signaled or
	// could not be waited on.
	Code int

	// Signal names the terminating signal, empty for a plain exit.
	Signal string

	// Err is set when waiting itself failed.
	Err error
}

// ExecStarter forks workers by re-executing the current binary with
// the original arguments plus a worker ID in the environment. The
// child inherits stdout and stderr, receives the readiness pipe as
// descriptor 3, and runs in its own process group.
type ExecStarter struct{}

func (ExecStarter) Start(workerID int) (Process, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating readiness pipe: %w", err)
	}

	command := exec.Command(executable, os.Args[1:]...)
	command.Env = append(os.Environ(), fmt.Sprintf("%s=%d", workerIDEnv, workerID))
	command.Stdout = os.Stdout
	command.Stderr = os.Stderr
	command.ExtraFiles = []*os.File{writePipe} // becomes fd 3 in the child
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := command.Start(); err != nil {
		readPipe.Close()
		writePipe.Close()
		return nil, fmt.Errorf("starting worker %d: %w", workerID, err)
	}
	// The child holds the write end now; keeping our copy open would
	// stop the read end from seeing EOF when the child dies.
	writePipe.Close()

	return &execProcess{command: command, readyPipe: readPipe}, nil
}

// execProcess wraps a forked worker.
type execProcess struct {
	command   *exec.Cmd
	readyPipe *os.File
}

func (p *execProcess) Pid() int { return p.command.Process.Pid }

// AwaitReady decodes the single CBOR readiness message the worker
// writes on the inherited pipe. EOF before a complete message means
// the worker died first.
func (p *execProcess) AwaitReady() (ReadyMessage, error) {
	defer p.readyPipe.Close()
	var message ReadyMessage
	err := canonical.NewDecoder(p.readyPipe).Decode(&message)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ReadyMessage{}, errors.New("worker exited before signaling readiness")
		}
		return ReadyMessage{}, fmt.Errorf("decoding readiness message: %w", err)
	}
	return message, nil
}

func (p *execProcess) Wait() ExitStatus {
	err := p.command.Wait()
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := ExitStatus{Code: exitErr.ExitCode()}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
		return status
	}
	return ExitStatus{Code: -1, Err: err}
}

func (p *execProcess) Drain() error {
	return p.command.Process.Signal(syscall.SIGTERM)
}

// Kill addresses the negated pid, which is the worker's process group
// (Setpgid at fork), so helpers forked by the worker die with it.
func (p *execProcess) Kill() error {
	return unix.Kill(-p.command.Process.Pid, unix.SIGKILL)
}
