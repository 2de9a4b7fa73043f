//go:build !windows

package exec

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
)

func newTestExecutor(cfg Config) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = 200 * time.Millisecond
	}
	return New(cfg, WithLogger(log.Discard()))
}

func benign(text string) *command.Spec {
	return &command.Spec{Raw: text, Sanitized: text, Tier: command.TierBenign, Timeout: 10 * time.Second}
}

func TestRunSuccess(t *testing.T) {
	e := newTestExecutor(Config{})
	var out bytes.Buffer

	res, err := e.Run(context.Background(), benign("echo hello; echo world"), RunOptions{Stdout: &out})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\nworld\n", res.Stdout)
	assert.Equal(t, "hello\nworld\n", out.String(), "output is streamed to the sink")
	assert.Equal(t, command.LocalHost, res.Host)
	assert.False(t, res.EndedAt.Before(res.StartedAt))
}

func TestRunNonZeroExit(t *testing.T) {
	e := newTestExecutor(Config{})
	var errOut bytes.Buffer

	res, err := e.Run(context.Background(), benign("echo boom >&2; exit 3"), RunOptions{Stderr: &errOut})

	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, errors.KindExecution, errors.KindOf(err))
	we, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, 3, we.ExitCode)
	assert.Equal(t, "boom\n", we.StderrTail)
	assert.Equal(t, "boom\n", errOut.String())
	assert.Same(t, err, res.Err)
}

func TestRunTimeout(t *testing.T) {
	e := newTestExecutor(Config{})

	start := time.Now()
	res, err := e.Run(context.Background(), benign("echo started; sleep 5"), RunOptions{Timeout: 150 * time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, "started\n", res.Stdout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunTimeoutEscalatesToKill(t *testing.T) {
	e := newTestExecutor(Config{GraceWindow: 200 * time.Millisecond})

	start := time.Now()
	res, err := e.Run(context.Background(), benign("trap '' TERM; sleep 5"), RunOptions{Timeout: 100 * time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.Equal(t, 128+9, res.ExitCode, "process ignoring SIGTERM is killed")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunTimeoutKillsWholeGroup(t *testing.T) {
	e := newTestExecutor(Config{})

	start := time.Now()
	_, err := e.Run(context.Background(), benign("sleep 5 & sleep 5; wait"), RunOptions{Timeout: 100 * time.Millisecond})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "background children must not hold the run open")
}

func TestRunCancelled(t *testing.T) {
	e := newTestExecutor(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := e.Run(ctx, benign("sleep 5"), RunOptions{})

	require.Error(t, err)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(err))
	assert.False(t, errors.IsRetryable(err))
	assert.False(t, res.Success)
}

func TestRunAlreadyCancelled(t *testing.T) {
	e := newTestExecutor(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, benign("echo never"), RunOptions{})

	assert.Equal(t, errors.KindCancelled, errors.KindOf(err))
	assert.Empty(t, res.Stdout)
}

func TestRunSpawnFailure(t *testing.T) {
	e := newTestExecutor(Config{Shell: "/nonexistent/warden-shell"})

	res, err := e.Run(context.Background(), benign("echo hi"), RunOptions{})

	require.Error(t, err)
	assert.Equal(t, errors.KindExecution, errors.KindOf(err))
	assert.Equal(t, 127, res.ExitCode)
}

func TestRunEnvOverrides(t *testing.T) {
	e := newTestExecutor(Config{})
	spec := benign(`echo "$WARDEN_TEST_VALUE"`)
	spec.Env = []string{"WARDEN_TEST_VALUE=42"}

	res, err := e.Run(context.Background(), spec, RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Stdout)
}

func TestRunRefusesInteractive(t *testing.T) {
	e := newTestExecutor(Config{})
	spec := &command.Spec{Raw: "vim", Sanitized: "vim", Tier: command.TierInteractive}

	res, err := e.Run(context.Background(), spec, RunOptions{})

	assert.Equal(t, errors.KindCapability, errors.KindOf(err))
	assert.False(t, res.Success)
}

func TestRunTruncatesOutput(t *testing.T) {
	e := newTestExecutor(Config{MaxOutputBytes: 10})

	res, err := e.Run(context.Background(), benign("printf 0123456789abcdef"), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, "6789abcdef", res.Stdout)
	assert.True(t, res.StdoutTruncated)
	assert.False(t, res.StderrTruncated)
}

func TestRunUsesWorkingDir(t *testing.T) {
	e := newTestExecutor(Config{})
	dir := t.TempDir()

	res, err := e.Run(context.Background(), benign("pwd -P"), RunOptions{Dir: dir})

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(res.Stdout), strings.TrimPrefix(dir, "/private")))
}

func TestRunConcurrentCallsAreIndependent(t *testing.T) {
	e := newTestExecutor(Config{})
	results := make(chan *command.Result, 4)

	for i := 0; i < 4; i++ {
		go func() {
			res, _ := e.Run(context.Background(), benign("echo $$"), RunOptions{})
			results <- res
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		res := <-results
		require.True(t, res.Success)
		seen[res.Stdout] = true
	}
	assert.Len(t, seen, 4, "each call owns its own child process")
}

func TestRunInteractive(t *testing.T) {
	var out bytes.Buffer
	e := newTestExecutor(Config{Stdin: strings.NewReader("warden\n"), Stdout: &out, Stderr: &out})
	spec := &command.Spec{Raw: "read name; echo hi $name", Sanitized: "read name; echo hi $name", Tier: command.TierInteractive}

	res, err := e.RunInteractive(context.Background(), spec)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi warden\n", out.String())
	assert.Empty(t, res.Stdout, "interactive output is not captured")
}

func TestRunInteractiveExitCode(t *testing.T) {
	e := newTestExecutor(Config{Stdin: strings.NewReader(""), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	spec := &command.Spec{Raw: "exit 4", Sanitized: "exit 4", Tier: command.TierInteractive}

	res, err := e.RunInteractive(context.Background(), spec)

	assert.Equal(t, errors.KindExecution, errors.KindOf(err))
	assert.Equal(t, 4, res.ExitCode)
}

func TestNewDefaults(t *testing.T) {
	e := New(Config{}, WithLogger(log.Discard()))
	cfg := e.Config()

	assert.NotEmpty(t, cfg.Shell)
	assert.Equal(t, []string{"-c"}, cfg.ShellArgs)
	assert.Equal(t, DefaultGraceWindow, cfg.GraceWindow)
	assert.Equal(t, command.DefaultTailBytes, cfg.MaxOutputBytes)
}

// signalWriter closes first when the first byte reaches the sink.
type signalWriter struct {
	once  sync.Once
	first chan struct{}
}

func (w *signalWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.first) })
	return len(p), nil
}

func TestRunStreamsPromptWithoutNewline(t *testing.T) {
	e := newTestExecutor(Config{})
	sink := &signalWriter{first: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Run(ctx, benign("printf 'Continue? '; sleep 5"), RunOptions{Stdout: sink})
	}()

	select {
	case <-sink.first:
	case <-time.After(3 * time.Second):
		t.Fatal("partial line was held back until exit")
	}
	cancel()
	<-done
}
