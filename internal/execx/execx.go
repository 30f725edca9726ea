// Package execx runs external tools with an argv list, an explicit timeout,
// and a structured result. Commands are never passed through a shell.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Cmd describes one external tool invocation.
type Cmd struct {
	Bin     string
	Args    []string
	Dir     string
	Env     []string
	Stdin   io.Reader
	Stdout  io.Writer // optional; captured into Result when nil
	Timeout time.Duration
}

// Result is the structured outcome of a finished invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Elapsed  time.Duration
}

// Runner executes commands. The production implementation shells out; tests
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func NewRunner() Runner { return ExecRunner{} }

// Run executes cmd and returns a non-nil error for a non-zero exit
// (external_tool_failure) or an exceeded timeout (external_tool_timeout).
// The Result is populated in both cases so callers can log stderr.
func (ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Bin, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	c.Stdin = cmd.Stdin

	var stdout, stderr bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	start := time.Now()
	runErr := c.Run()
	res := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		logger.L().Warn("external tool timed out",
			zap.String("bin", cmd.Bin),
			zap.Strings("args", cmd.Args),
			zap.Duration("timeout", cmd.Timeout),
		)
		return res, appErr.New(appErr.CodeExternalToolTimeout, cmd.Bin+" exceeded "+cmd.Timeout.String())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, appErr.Wrap(runErr, appErr.CodeExternalToolFailure,
			cmd.Bin+" failed: "+Tail(res.Stderr, 512))
	}

	return res, nil
}

// Tail returns at most n trailing bytes of s, trimmed, for error messages.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
