// Package ledger records every execution attempt as an append-only entry.
package ledger

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
)

// MaxStderrTail bounds the stderr kept in an entry.
const MaxStderrTail = 2048

// Ledger receives one entry per execution attempt. Implementations must be
// safe for concurrent use.
type Ledger interface {
	Append(ctx context.Context, e Entry) error
}

// Entry is a single ledger record.
type Entry struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	RunID       string    `json:"run_id,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Workflow    string    `json:"workflow,omitempty"`
	Step        string    `json:"step,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Host        string    `json:"host"`
	Command     string    `json:"command"`
	Sanitized   string    `json:"sanitized,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	Rule        string    `json:"rule,omitempty"`
	Decision    string    `json:"decision"`
	// ExitCode is nil when no process ran.
	ExitCode   *int   `json:"exit_code,omitempty"`
	Success    bool   `json:"success"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StderrTail string `json:"stderr_tail,omitempty"`
}

// Meta is the context of an attempt that a Result does not carry.
type Meta struct {
	RunID    string
	Workflow string
	Step     string
	Decision string
}

// FromResult builds the entry for an executed attempt.
func FromResult(res *command.Result, meta Meta) Entry {
	e := newEntry(res.Spec, meta)
	e.Host = res.Host
	e.Attempt = res.Attempt
	e.Success = res.Success
	e.DurationMS = res.Duration().Milliseconds()
	if !res.StartedAt.IsZero() {
		e.Time = res.StartedAt
		code := res.ExitCode
		e.ExitCode = &code
	}
	e.StderrTail = tail(res.Stderr, MaxStderrTail)
	setError(&e, res.Err)
	return e
}

// FromDecision builds the entry for a command that never reached an
// executor, such as one the gate rejected.
func FromDecision(spec *command.Spec, host string, meta Meta, err error) Entry {
	e := newEntry(spec, meta)
	e.Host = host
	setError(&e, err)
	return e
}

func newEntry(spec *command.Spec, meta Meta) Entry {
	e := Entry{
		ID:       uuid.NewString(),
		Time:     time.Now(),
		RunID:    meta.RunID,
		Workflow: meta.Workflow,
		Step:     meta.Step,
		Decision: meta.Decision,
	}
	if spec != nil {
		e.Origin = string(spec.Origin)
		e.Command = spec.Raw
		e.Sanitized = spec.Sanitized
		e.Fingerprint = spec.Fingerprint()
		e.Tier = spec.Tier.String()
		e.Rule = spec.Rule
	}
	return e
}

func setError(e *Entry, err error) {
	if err == nil {
		return
	}
	e.Error = err.Error()
	e.ErrorKind = string(errors.KindOf(err))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MemoryLedger keeps entries in memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append implements Ledger.
func (m *MemoryLedger) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries in append order.
func (m *MemoryLedger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Multi fans each entry out to every ledger.
type Multi []Ledger

// Append implements Ledger. Every ledger is tried; errors are joined.
func (m Multi) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Nop discards entries.
type Nop struct{}

// Append implements Ledger.
func (Nop) Append(context.Context, Entry) error { return nil }
