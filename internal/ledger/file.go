package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileLedger appends entries as JSON lines. Each entry is written with a
// single write on an O_APPEND descriptor, so concurrent appenders, including
// other processes, never interleave within a line.
type FileLedger struct {
	path string
	file *os.File
}

// OpenFile opens or creates the ledger at path.
func OpenFile(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return &FileLedger{path: path, file: f}, nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string { return l.path }

// Append implements Ledger.
func (l *FileLedger) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize ledger entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *FileLedger) Close() error {
	return l.file.Close()
}

// ReadFile returns every entry in the ledger at path. Lines that do not
// decode are skipped and counted.
func ReadFile(path string) ([]Entry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		entries []Entry
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, skipped, nil
}

// DefaultPath returns ~/.warden/ledger.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".warden", "ledger.jsonl")
}
