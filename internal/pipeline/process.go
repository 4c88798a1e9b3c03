package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/conneroisu/tramline/internal/validation"
)

// terminateGrace is how long a process gets to exit after an interrupt
// before it is killed.
const terminateGrace = 2 * time.Second

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Process is an owned handle on a running external tool. The handle is
// released when the tool exits or when Terminate is called; cancelling the
// context it was started with terminates it too.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}
	err    error
	// ctxErr is the context state observed when the process exited.
	ctxErr error
}

// StartProcess validates and starts cmd. Nothing is spawned when ctx is
// already cancelled.
func StartProcess(ctx context.Context, command Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Validate command and arguments to prevent command injection
	if err := validation.ValidateCommand(command.Name); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	for _, arg := range command.Args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Process{cancel: cancel, done: make(chan struct{})}

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	// Ask politely first; WaitDelay escalates to a kill.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = terminateGrace
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		p.err = cmd.Wait()
		p.ctxErr = ctx.Err()
		cancel()
		close(p.done)
	}()

	return p, nil
}

// Wait blocks until the process has exited and its handle is released. A
// process stopped by cancellation reports the context's error.
func (p *Process) Wait() error {
	<-p.done
	if p.err != nil && p.ctxErr != nil {
		return p.ctxErr
	}
	return p.err
}

// Terminate interrupts the process, kills it if it outlives the grace
// period, and waits for it to be reaped.
func (p *Process) Terminate() {
	p.cancel()
	<-p.done
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout returns everything the process wrote to its output stream. Only
// meaningful after Wait.
func (p *Process) Stdout() string {
	return p.stdout.String()
}

// Diagnostics returns the error stream, falling back to the output stream
// for tools that report problems there. Only meaningful after Wait.
func (p *Process) Diagnostics() string {
	if s := strings.TrimSpace(p.stderr.String()); s != "" {
		return s
	}
	return strings.TrimSpace(p.stdout.String())
}

// RunProcess starts command and waits for it.
func RunProcess(ctx context.Context, command Command) (*Process, error) {
	p, err := StartProcess(ctx, command)
	if err != nil {
		return nil, err
	}
	return p, p.Wait()
}
