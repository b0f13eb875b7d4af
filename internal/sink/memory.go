package sink

import (
	"bytes"
	"fmt"
	"sync"
)

// MemorySink accumulates chunks in memory.
type MemorySink struct {
	// OpenErr, when set, is returned (wrapped in ErrUnavailable) by Open.
	OpenErr error

	mu     sync.Mutex
	open   bool
	chunks [][]byte
	last   []byte
}

var (
	_ Sink      = (*MemorySink)(nil)
	_ Discarder = (*MemorySink)(nil)
)

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, s.OpenErr)
	}
	if s.open {
		return fmt.Errorf("%w: already open", ErrUnavailable)
	}
	s.open = true
	s.chunks = nil
	return nil
}

func (s *MemorySink) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.chunks = append(s.chunks, bytes.Clone(chunk))
	return nil
}

func (s *MemorySink) Finalize() (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return Report{}, ErrNotOpen
	}
	s.open = false
	s.last = bytes.Join(s.chunks, nil)
	report := Report{Chunks: len(s.chunks), Bytes: int64(len(s.last))}
	s.chunks = nil
	return report, nil
}

func (s *MemorySink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.chunks = nil
	return nil
}

// Bytes returns the artifact produced by the last Finalize.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.last)
}

// IsOpen reports whether the sink is accepting writes.
func (s *MemorySink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
