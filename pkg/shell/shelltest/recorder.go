// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/exit9/zfs-installer/pkg/shell"
)

// Call is one recorded invocation. Stdin holds whatever was piped to the command.
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

func (c Call) Line() string {
	return shell.Command{Name: c.Name, Args: c.Args}.String()
}

// HandlerFunc produces the outcome of a matched call. Returning a non-zero Code
// without an error makes the recorder synthesize a *shell.ExitError.
type HandlerFunc func(c Call) (shell.Result, error)

type handler struct {
	prefix string
	fn     HandlerFunc
}

// Recorder records every command and answers with scripted results. Unmatched
// commands succeed with empty output.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	handlers []handler
}

func New() *Recorder { return &Recorder{} }

// Handle registers fn for command lines starting with prefix. Later
// registrations win over earlier ones.
func (r *Recorder) Handle(prefix string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{prefix: prefix, fn: fn})
}

// Stdout makes commands matching prefix print out.
func (r *Recorder) Stdout(prefix, out string) {
	r.Handle(prefix, func(Call) (shell.Result, error) {
		return shell.Result{Stdout: []byte(out)}, nil
	})
}

// Fail makes commands matching prefix exit with code.
func (r *Recorder) Fail(prefix string, code int) {
	r.Handle(prefix, func(Call) (shell.Result, error) {
		return shell.Result{Code: code}, nil
	})
}

func (r *Recorder) Run(ctx context.Context, c shell.Command) (shell.Result, error) {
	if err := ctx.Err(); err != nil {
		return shell.Result{Code: -1}, err
	}
	call := Call{Name: c.Name, Args: append([]string(nil), c.Args...)}
	if c.Stdin != nil {
		b, _ := io.ReadAll(c.Stdin)
		call.Stdin = string(b)
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	var fn HandlerFunc
	line := call.Line()
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, r.handlers[i].prefix) {
			fn = r.handlers[i].fn
			break
		}
	}
	r.mu.Unlock()

	if fn == nil {
		return shell.Result{}, nil
	}
	res, err := fn(call)
	if err != nil {
		return res, err
	}
	if c.Stdout != nil && len(res.Stdout) > 0 {
		_, _ = c.Stdout.Write(res.Stdout)
	}
	if res.Code != 0 {
		return res, &shell.ExitError{Command: line, Code: res.Code, Stderr: strings.TrimSpace(string(res.Stderr))}
	}
	return res, nil
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns every recorded command line in order.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Line()
	}
	return out
}

// Matching returns the recorded lines that start with prefix.
func (r *Recorder) Matching(prefix string) []string {
	var out []string
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// Find returns the first call whose line starts with prefix.
func (r *Recorder) Find(prefix string) (Call, bool) {
	for _, c := range r.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			return c, true
		}
	}
	return Call{}, false
}
