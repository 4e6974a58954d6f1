// Package exec implements the host executor (§4.C): running host
// commands (argv, never through a shell) with timeouts and captured streams. Grounded on
// the teacher's pkg/health/exec.go (os/exec.CommandContext + captured
// stdout/stderr), generalized from "health probe command" to any host
// command the build/run/route stages need.
package exec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
)

// Default timeouts named in §4.C.
const (
	DefaultBuildTimeout = 15 * time.Minute
	DefaultProbeTimeout = 15 * time.Second
)

// Options configure one Run/RunStreaming call.
type Options struct {
	Timeout time.Duration
	Env     []string
	Dir     string
}

// Result is a completed command's captured output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs commands on the host. Arguments are always passed as an
// argv slice to exec.CommandContext, never through a shell, so there is
// no shell-interpolation risk to guard against — os/exec never invokes a
// shell when given a binary name plus an argument slice.
type Executor struct{}

// New builds an Executor.
func New() *Executor {
	return &Executor{}
}

// Run executes name with args, returning captured stdout/stderr and the
// exit code. Fails with apperr.ErrCommandTimeout when the wall clock
// exceeds opts.Timeout, or an *apperr.CommandError wrapping
// apperr.ErrCommandFailed for non-zero exit. Only the command name is
// logged, never its arguments or values.
func (e *Executor) Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	logger := log.WithComponent("exec")
	logger.Info().Str("command", name).Msg("running host command")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() != nil {
		return result, fmt.Errorf("%s: %w", name, apperr.ErrCommandTimeout)
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result, &apperr.CommandError{ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	return result, nil
}

// RunStreaming runs name with args, invoking onLine for every stdout/stderr
// line as it is produced rather than buffering the whole output.
func (e *Executor) RunStreaming(ctx context.Context, name string, args []string, opts Options, onLine func(line string)) error {
	logger := log.WithComponent("exec")
	logger.Info().Str("command", name).Msg("running host command (streaming)")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	err = cmd.Wait()
	if runCtx.Err() != nil {
		return fmt.Errorf("%s: %w", name, apperr.ErrCommandTimeout)
	}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		exitCode := -1
		if ok {
			exitCode = exitErr.ExitCode()
		}
		return &apperr.CommandError{ExitCode: exitCode}
	}

	return nil
}
