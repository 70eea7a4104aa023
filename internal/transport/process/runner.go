// Package process runs train and eval commands as child processes.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyCommand is returned for an empty argv.
var ErrEmptyCommand = errors.New("empty command")

const (
	defaultTail      = 4 << 10
	defaultWaitDelay = 2 * time.Second
)

// ExitError reports a command that ran but did not succeed.
type ExitError struct {
	Argv       []string
	Code       int
	StderrTail string
	Err        error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Argv[0], e.Code)
	if tail := strings.TrimSpace(e.StderrTail); tail != "" {
		msg += ": " + lastLine(tail)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Request describes one invocation.
type Request struct {
	Argv []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Capture collects stdout into Result.Stdout instead of forwarding it.
	Capture bool
}

// Result is the outcome of a successful invocation.
type Result struct {
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
}

// Runner executes commands without a shell. Safe for concurrent use.
type Runner struct {
	stdout    io.Writer
	stderr    io.Writer
	tail      int
	waitDelay time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput forwards uncaptured stdout and all stderr to the given writers.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout, r.stderr = stdout, stderr
	}
}

// WithStderrTail sets how many trailing stderr bytes are kept for error reports.
func WithStderrTail(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.tail = n
		}
	}
}

// New creates a Runner. Output is discarded unless WithOutput is given.
func New(opts ...Option) *Runner {
	r := &Runner{
		stdout:    io.Discard,
		stderr:    io.Discard,
		tail:      defaultTail,
		waitDelay: defaultWaitDelay,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes req and waits for it. The process is killed when ctx ends; the returned
// error then wraps ctx.Err().
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Argv) == 0 || req.Argv[0] == "" {
		return Result{}, ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	cmd.WaitDelay = r.waitDelay

	var stdout bytes.Buffer
	if req.Capture {
		cmd.Stdout = &stdout
	} else {
		cmd.Stdout = r.stdout
	}
	tail := newTailBuffer(r.tail)
	cmd.Stderr = io.MultiWriter(r.stderr, tail)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:     stdout.Bytes(),
		StderrTail: tail.String(),
		Duration:   time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", req.Argv[0], ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Argv: req.Argv, Code: exitErr.ExitCode(), StderrTail: res.StderrTail, Err: err}
	}
	// Start failures: missing binary, permission denied, bad working directory.
	return res, &ExitError{Argv: req.Argv, Code: -1, Err: err}
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
