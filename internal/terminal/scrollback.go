package terminal

import (
	"sync"
)

// Scrollback captures recent raw PTY output in a ring buffer. It bounds
// memory for long-running sessions while keeping a tail available for
// session listings and exit diagnostics.
type Scrollback struct {
	buffer    []byte
	size      int
	writePos  int
	wrapped   bool
	truncated bool
	mu        sync.RWMutex
}

// NewScrollback allocates a ring buffer of the given size in bytes.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Scrollback{
		buffer: make([]byte, size),
		size:   size,
	}
}

func (s *Scrollback) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = len(p)

	// A write at least as large as the buffer replaces it wholesale;
	// only the trailing size bytes survive.
	if n >= s.size {
		copy(s.buffer, p[n-s.size:])
		s.writePos = 0
		s.wrapped = true
		s.truncated = true
		return n, nil
	}

	head := copy(s.buffer[s.writePos:], p)
	if head < n {
		copy(s.buffer, p[head:])
		s.writePos = n - head
		s.wrapped = true
		s.truncated = true
	} else {
		s.writePos += n
		if s.writePos == s.size {
			s.writePos = 0
			s.wrapped = true
			s.truncated = true
		}
	}

	return n, nil
}

// Contents returns all captured output in write order, and whether older
// output has been dropped.
func (s *Scrollback) Contents() (output string, truncated bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.wrapped {
		return string(s.buffer[:s.writePos]), s.truncated
	}

	out := make([]byte, s.size)
	tail := copy(out, s.buffer[s.writePos:])
	copy(out[tail:], s.buffer[:s.writePos])
	return string(out), s.truncated
}

// Tail returns up to n trailing bytes of captured output.
func (s *Scrollback) Tail(n int) string {
	output, _ := s.Contents()
	if n <= 0 || len(output) <= n {
		return output
	}
	return output[len(output)-n:]
}

// Clear resets the buffer.
func (s *Scrollback) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writePos = 0
	s.wrapped = false
	s.truncated = false
}
