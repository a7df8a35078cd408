package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Command describes one external tool invocation. Stdin and Stdout are optional;
// when Stdout is set the output is streamed to it and also captured in Result.
type Command struct {
	Name   string
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
}

func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line for logs. Stdin is never included.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner executes external commands. Every privileged tool call in the installer
// goes through a Runner so tests can substitute a recorder.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

var ErrTimeout = errors.New("command timed out")

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Stderr)
}

// IsExit reports whether err is an ExitError with the given code.
func IsExit(err error, code int) bool {
	var ee *ExitError
	return errors.As(err, &ee) && ee.Code == code
}

// Exec runs commands on the host. A zero Timeout means no per-command timeout,
// which is what long-running steps such as the OS installer or rsync need.
type Exec struct {
	Timeout time.Duration
	Log     zerolog.Logger
}

func (e Exec) Run(ctx context.Context, c Command) (Result, error) {
	cctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, c.Name, c.Args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdin = c.Stdin
	if c.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&outBuf, c.Stdout)
	} else {
		cmd.Stdout = &outBuf
	}
	cmd.Stderr = &errBuf

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	e.Log.Debug().
		Str("cmd", c.String()).
		Int("code", res.Code).
		Dur("duration", time.Since(start)).
		Msg("exec")

	if e.Timeout > 0 && cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return res, &ExitError{Command: c.String(), Code: res.Code, Stderr: truncate(strings.TrimSpace(errBuf.String()), 4096)}
		}
		return res, fmt.Errorf("%s: %w", c.String(), err)
	}
	return res, nil
}

// Output runs cmd and returns its trimmed stdout.
func Output(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	res, err := r.Run(ctx, Cmd(name, args...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Run runs cmd and discards its output.
func Run(ctx context.Context, r Runner, name string, args ...string) error {
	_, err := r.Run(ctx, Cmd(name, args...))
	return err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
