// Package exec runs prepared commands as child processes of the user's shell.
package exec

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	osexec "os/exec"
	"time"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
)

// DefaultGraceWindow is how long a terminated process group may take to exit
// before it is killed.
const DefaultGraceWindow = 2 * time.Second

// Config configures an Executor.
type Config struct {
	// Shell runs the command text. Empty uses $SHELL, then /bin/sh.
	Shell string
	// ShellArgs precede the command text. Empty uses ["-c"].
	ShellArgs []string
	// GraceWindow separates SIGTERM from SIGKILL.
	GraceWindow time.Duration
	// MaxOutputBytes bounds the stdout and stderr tails kept in a Result.
	MaxOutputBytes int

	// Terminal streams used by RunInteractive. Nil uses the process's own.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// RunOptions holds per-call settings.
type RunOptions struct {
	// Timeout overrides the Spec's timeout when positive.
	Timeout time.Duration
	// Stdout and Stderr receive output line by line as it is produced.
	Stdout io.Writer
	Stderr io.Writer
	// Dir is the working directory, empty for the current one.
	Dir string
}

// Executor runs commands. It holds no per-run state, so one Executor may
// serve concurrent calls.
type Executor struct {
	cfg    Config
	logger *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New returns an Executor with defaults filled in.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if len(cfg.ShellArgs) == 0 {
		cfg.ShellArgs = defaultShellArgs()
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = command.DefaultTailBytes
	}
	e := &Executor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrDefault(e.logger).WithGroup("exec")
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

func (e *Executor) command(spec *command.Spec) *osexec.Cmd {
	args := append(append([]string(nil), e.cfg.ShellArgs...), spec.Text())
	cmd := osexec.Command(e.cfg.Shell, args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	return cmd
}

type outcome int

const (
	exited outcome = iota
	timedOut
	cancelled
)

// Run executes spec in its own process group, capturing bounded tails of its
// output while streaming it to opts. It always returns a Result; the error is
// the Result's Err.
//
// On timeout or cancellation the group receives SIGTERM, then SIGKILL once the
// grace window passes.
func (e *Executor) Run(ctx context.Context, spec *command.Spec, opts RunOptions) (*command.Result, error) {
	res := &command.Result{Spec: spec, Host: command.LocalHost, StartedAt: time.Now()}

	if spec.Interactive() {
		return finish(res, errors.NewCapabilityError(spec.Raw))
	}
	if err := ctx.Err(); err != nil {
		return finish(res, errors.NewCancelledError(spec.Raw))
	}

	timeout := spec.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	cmd := e.command(spec)
	cmd.Dir = opts.Dir
	setProcessGroup(cmd)
	cmd.WaitDelay = e.cfg.GraceWindow

	stdoutTail := command.NewTailBuffer(e.cfg.MaxOutputBytes)
	stderrTail := command.NewTailBuffer(e.cfg.MaxOutputBytes)
	stream := newStreams(opts.Stdout, opts.Stderr)
	cmd.Stdout = io.MultiWriter(stdoutTail, stream.stdout)
	cmd.Stderr = io.MultiWriter(stderrTail, stream.stderr)

	if err := cmd.Start(); err != nil {
		res.ExitCode = 127
		e.logger.WarnContext(ctx, "spawn failed", "shell", e.cfg.Shell, "error", err)
		return finish(res, errors.NewSpawnError(spec.Raw, err))
	}
	e.logger.DebugContext(ctx, "spawned", "pid", cmd.Process.Pid, "command", spec.Text(), "timeout", timeout)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var (
		waitErr error
		how     = exited
	)
	select {
	case waitErr = <-done:
	case <-timer:
		how = timedOut
		e.logger.WarnContext(ctx, "timeout reached, terminating", "pid", cmd.Process.Pid, "timeout", timeout)
		waitErr = e.terminate(ctx, cmd, done, signalGroup)
	case <-ctx.Done():
		how = cancelled
		e.logger.InfoContext(ctx, "cancelled, terminating", "pid", cmd.Process.Pid)
		waitErr = e.terminate(ctx, cmd, done, signalGroup)
	}
	res.Stdout, res.StdoutTruncated = stdoutTail.String(), stdoutTail.Truncated()
	res.Stderr, res.StderrTruncated = stderrTail.String(), stderrTail.Truncated()
	res.ExitCode = exitCodeOf(cmd, waitErr)

	switch {
	case how == timedOut:
		return finish(res, errors.NewTimeoutError(spec.Raw, timeout))
	case how == cancelled:
		return finish(res, errors.NewCancelledError(spec.Raw))
	case waitErr != nil && !isExit(waitErr):
		return finish(res, errors.Wrap(errors.KindExecution, errors.ErrCodeExecFailed, "wait failed", waitErr).WithCommand(spec.Raw))
	case res.ExitCode != 0:
		return finish(res, errors.NewExecutionError(spec.Raw, res.ExitCode, res.Stderr))
	}
	return finish(res, nil)
}

// RunInteractive hands the terminal to spec and returns when it exits. Output
// is not captured and no timeout applies; cancellation still terminates it.
func (e *Executor) RunInteractive(ctx context.Context, spec *command.Spec) (*command.Result, error) {
	res := &command.Result{Spec: spec, Host: command.LocalHost, StartedAt: time.Now()}

	cmd := e.command(spec)
	cmd.Stdin = orReader(e.cfg.Stdin, os.Stdin)
	cmd.Stdout = orWriter(e.cfg.Stdout, os.Stdout)
	cmd.Stderr = orWriter(e.cfg.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		res.ExitCode = 127
		return finish(res, errors.NewSpawnError(spec.Raw, err))
	}
	e.logger.DebugContext(ctx, "interactive session started", "pid", cmd.Process.Pid, "command", spec.Text())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	cancel := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		cancel = true
		waitErr = e.terminate(ctx, cmd, done, signalProcess)
	}

	res.ExitCode = exitCodeOf(cmd, waitErr)
	switch {
	case cancel:
		return finish(res, errors.NewCancelledError(spec.Raw))
	case res.ExitCode != 0:
		return finish(res, errors.NewExecutionError(spec.Raw, res.ExitCode, ""))
	}
	return finish(res, nil)
}

// terminate sends SIGTERM, waits out the grace window and escalates to SIGKILL.
func (e *Executor) terminate(ctx context.Context, cmd *osexec.Cmd, done <-chan error, signal func(*os.Process, bool) error) error {
	if err := signal(cmd.Process, false); err != nil {
		e.logger.DebugContext(ctx, "terminate signal failed", "pid", cmd.Process.Pid, "error", err)
	}

	grace := time.NewTimer(e.cfg.GraceWindow)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	e.logger.WarnContext(ctx, "grace window elapsed, killing", "pid", cmd.Process.Pid, "grace", e.cfg.GraceWindow)
	if err := signal(cmd.Process, true); err != nil {
		e.logger.DebugContext(ctx, "kill signal failed", "pid", cmd.Process.Pid, "error", err)
	}
	return <-done
}

func finish(res *command.Result, err error) (*command.Result, error) {
	res.EndedAt = time.Now()
	res.Err = err
	res.Success = err == nil
	return res, err
}

func isExit(err error) bool {
	var exitErr *osexec.ExitError
	return stderrors.As(err, &exitErr) || stderrors.Is(err, osexec.ErrWaitDelay)
}

func exitCodeOf(cmd *osexec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return exitStatus(cmd.ProcessState)
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func orReader(r io.Reader, def io.Reader) io.Reader {
	if r != nil {
		return r
	}
	return def
}

func orWriter(w io.Writer, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}
