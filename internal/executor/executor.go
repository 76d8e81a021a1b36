// Package executor runs approved commands against the target environment
// and captures their output. From the orchestrator's point of view execution
// is synchronous but may take arbitrarily long; callers run it off their own
// control path.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Outcome contains the captured result of a command execution.
type Outcome struct {
	Output   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// ExecutionError reports a failed execution: non-zero exit, timeout, or a
// command that could not be started at all.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor is the contract the state machine consumes.
type Executor interface {
	Execute(ctx context.Context, command, target string) (*Outcome, error)
}

// run executes one command through the shell and returns the captured
// result. It reads both pipes concurrently to prevent buffer deadlocks and
// sets WaitDelay so a cancelled subprocess is cleaned up.
func run(ctx context.Context, shell, command, target string, timeout time.Duration) (*Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(cmd.Environ(), "AUTOSTRIKE_TARGET="+target)

	// Run the shell in its own process group and kill the whole group on
	// cancellation. Killing only the shell would leave a backgrounded child
	// holding the pipes open, blocking the readers past the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{Command: command, Err: err}
	}

	// Read stdout and stderr concurrently to prevent deadlocks.
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer

	stdoutDone := make(chan error, 1)
	stderrDone := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			stdoutBuf.Write(scanner.Bytes())
			stdoutBuf.WriteByte('\n')
		}
		stdoutDone <- scanner.Err()
	}()

	go func() {
		_, err := io.Copy(&stderrBuf, stderrPipe)
		stderrDone <- err
	}()

	<-stdoutDone
	<-stderrDone

	waitErr := cmd.Wait()

	outcome := &Outcome{
		Output:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Elapsed:  time.Since(start),
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return outcome, &ExecutionError{Command: command, ExitCode: outcome.ExitCode, Stderr: outcome.Stderr, Err: ctx.Err()}
		}
		return outcome, &ExecutionError{Command: command, ExitCode: outcome.ExitCode, Stderr: outcome.Stderr, Err: waitErr}
	}
	return outcome, nil
}
