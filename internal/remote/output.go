package remote

import (
	"bytes"
	"io"
	"sync"
)

// HostWriters tags remote output with the host it came from. Output is
// forwarded as it arrives; the tag is written at the start of each line.
// When another host writes to a sink while a line is still open, that line
// is ended first so the tags stay at line starts.
type HostWriters struct {
	mu     sync.Mutex
	stdout *sink
	stderr *sink
	tag    func(host string) string
}

type sink struct {
	w    io.Writer
	open *prefixWriter
}

// NewHostWriters returns writers over stdout and stderr. tag renders the
// line prefix for a host; nil uses "[host] ".
func NewHostWriters(stdout, stderr io.Writer, tag func(host string) string) *HostWriters {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if tag == nil {
		tag = func(host string) string { return "[" + host + "] " }
	}
	return &HostWriters{stdout: &sink{w: stdout}, stderr: &sink{w: stderr}, tag: tag}
}

// For returns the stdout and stderr writers of host. It matches
// DispatchOptions.Output.
func (h *HostWriters) For(host string) (io.Writer, io.Writer) {
	prefix := []byte(h.tag(host))
	return &prefixWriter{hw: h, sink: h.stdout, prefix: prefix},
		&prefixWriter{hw: h, sink: h.stderr, prefix: prefix}
}

// Flush ends a trailing partial line on either sink.
func (h *HostWriters) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range []*sink{h.stdout, h.stderr} {
		if s.open != nil {
			_, _ = s.w.Write([]byte("\n"))
			s.open = nil
		}
	}
}

type prefixWriter struct {
	hw     *HostWriters
	sink   *sink
	prefix []byte
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.hw.mu.Lock()
	defer w.hw.mu.Unlock()

	s := w.sink
	var b bytes.Buffer
	if s.open != nil && s.open != w {
		b.WriteByte('\n')
		s.open = nil
	}
	for rest := p; len(rest) > 0; {
		if s.open != w {
			b.Write(w.prefix)
			s.open = w
		}
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			b.Write(rest)
			break
		}
		b.Write(rest[:i+1])
		s.open = nil
		rest = rest[i+1:]
	}

	if _, err := s.w.Write(b.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
