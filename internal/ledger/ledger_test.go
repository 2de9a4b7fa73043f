package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
)

func testSpec() *command.Spec {
	return &command.Spec{
		Raw:       "apt install  curl",
		Sanitized: "apt-get install -y curl",
		Tier:      command.TierCaution,
		Rule:      "package-change",
		Env:       []string{"DEBIAN_FRONTEND=noninteractive"},
		Origin:    command.OriginTranslator,
	}
}

func TestFromResult(t *testing.T) {
	start := time.Now()
	res := &command.Result{
		Spec:      testSpec(),
		Host:      "web-1",
		ExitCode:  100,
		Stderr:    strings.Repeat("x", MaxStderrTail+10) + "END",
		StartedAt: start,
		EndedAt:   start.Add(1500 * time.Millisecond),
		Err:       errors.NewExecutionError("apt-get install -y curl", 100, "E: lock"),
		Attempt:   2,
	}

	e := FromResult(res, Meta{RunID: "r1", Workflow: "setup", Step: "deps", Decision: "approved"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "web-1", e.Host)
	assert.Equal(t, 2, e.Attempt)
	require.NotNil(t, e.ExitCode)
	assert.Equal(t, 100, *e.ExitCode)
	assert.Equal(t, int64(1500), e.DurationMS)
	assert.Equal(t, "execution", e.ErrorKind)
	assert.Equal(t, "caution", e.Tier)
	assert.Equal(t, "translator", e.Origin)
	assert.Equal(t, res.Spec.Fingerprint(), e.Fingerprint)
	assert.Len(t, e.StderrTail, MaxStderrTail)
	assert.True(t, strings.HasSuffix(e.StderrTail, "END"))
}

func TestFromDecisionHasNoExitCode(t *testing.T) {
	e := FromDecision(testSpec(), command.LocalHost, Meta{Decision: "rejected"}, errors.NewRejectedError("rm -rf /", "declined"))

	assert.Nil(t, e.ExitCode)
	assert.False(t, e.Success)
	assert.Equal(t, "rejected", e.ErrorKind)
	assert.Equal(t, "rejected", e.Decision)
}

func TestFileLedgerAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.jsonl")
	l, err := OpenFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := FromDecision(testSpec(), command.LocalHost, Meta{Step: fmt.Sprintf("s%d", i)}, nil)
		require.NoError(t, l.Append(ctx, e))
	}
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, skipped, err := ReadFile(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, entries, 3)
	assert.Equal(t, "s2", entries[2].Step)
}

func TestFileLedgerConcurrentAppenders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	// Two independent descriptors model two processes sharing the file.
	a, err := OpenFile(path)
	require.NoError(t, err)
	b, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = a.Close(); _ = b.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Append(context.Background(), FromDecision(testSpec(), "a", Meta{}, nil)))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Append(context.Background(), FromDecision(testSpec(), "b", Meta{}, nil)))
		}()
	}
	wg.Wait()

	entries, skipped, err := ReadFile(path)
	require.NoError(t, err)
	assert.Zero(t, skipped, "no interleaved lines")
	assert.Len(t, entries, 100)
}

func TestReadFileSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"1\",\"host\":\"local\"}\nnot json\n\n"), 0o600))

	entries, skipped, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, skipped)
}

func TestAppendHonorsCancelledContext(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "l.jsonl"))
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Append(ctx, Entry{}), context.Canceled)
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, Entry) error { return fmt.Errorf("disk full") }

func TestMulti(t *testing.T) {
	mem1, mem2 := NewMemoryLedger(), NewMemoryLedger()
	m := Multi{mem1, failingLedger{}, mem2, Nop{}}

	err := m.Append(context.Background(), Entry{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, mem1.Entries(), 1)
	assert.Len(t, mem2.Entries(), 1, "later ledgers still receive the entry")
}
