// Package sink collects the historical data frames streamed by the strap
// during a history download and finalizes them as a single artifact.
package sink

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by Open when no destination can be prepared.
	ErrUnavailable = errors.New("sink: destination unavailable")
	// ErrNotOpen is returned by Write when Open has not succeeded.
	ErrNotOpen = errors.New("sink: not open")
)

// Sink receives binary chunks in arrival order.
type Sink interface {
	// Open prepares a destination. It fails with ErrUnavailable when it cannot.
	Open() error
	// Write appends one chunk.
	Write(chunk []byte) error
	// Finalize flushes and closes the destination. With zero chunks written
	// it returns an empty Report and no error.
	Finalize() (Report, error)
}

// Discarder is implemented by sinks that can drop a partially written
// destination instead of finalizing it.
type Discarder interface {
	Discard() error
}

// Report describes a finalized artifact.
type Report struct {
	Chunks int
	Bytes  int64
	Path   string // empty for in-memory sinks
	Digest string // hex BLAKE2b-256, file sinks only
}

// Empty reports whether nothing was written.
func (r Report) Empty() bool { return r.Chunks == 0 }

func (r Report) String() string {
	if r.Empty() {
		return "nothing written"
	}
	if r.Path == "" {
		return fmt.Sprintf("%d chunks, %d bytes", r.Chunks, r.Bytes)
	}
	return fmt.Sprintf("%d chunks, %d bytes -> %s", r.Chunks, r.Bytes, r.Path)
}
