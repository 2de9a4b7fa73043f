package exec

import (
	"io"
	"sync"
)

// streams forwards stdout and stderr to their sinks as each chunk arrives.
// A shared lock keeps one write to a sink whole when both streams share it.
type streams struct {
	mu     sync.Mutex
	stdout *chunkWriter
	stderr *chunkWriter
}

func newStreams(stdout, stderr io.Writer) *streams {
	s := &streams{}
	s.stdout = &chunkWriter{mu: &s.mu, dst: orWriter(stdout, io.Discard)}
	s.stderr = &chunkWriter{mu: &s.mu, dst: orWriter(stderr, io.Discard)}
	return s
}

type chunkWriter struct {
	mu  *sync.Mutex
	dst io.Writer
}

// Write never fails, so a broken sink cannot stall the child.
func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.dst.Write(p)
	return len(p), nil
}
