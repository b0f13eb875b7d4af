package sink

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// FilePrefix is the name prefix of every artifact written by FileSink.
const FilePrefix = "historical_data_"

// FileSink streams chunks to a temporary file under Dir and renames it into
// place on Finalize.
type FileSink struct {
	dir string

	mu        sync.Mutex
	f         *os.File
	w         io.Writer
	digest    hash.Hash
	tmpPath   string
	finalPath string
	chunks    int
	bytes     int64
}

// Compile-time interface checks.
var (
	_ Sink      = (*FileSink)(nil)
	_ Discarder = (*FileSink)(nil)
)

// NewFileSink returns a sink writing artifacts into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Open creates the output directory and a fresh temporary file.
func (s *FileSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f != nil {
		return fmt.Errorf("%w: already open (%s)", ErrUnavailable, s.tmpPath)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrUnavailable, s.dir, err)
	}

	finalPath := filepath.Join(s.dir, FilePrefix+uuid.NewString()+".bin")
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrUnavailable, tmpPath, err)
	}

	digest, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: digest: %v", ErrUnavailable, err)
	}

	s.f = f
	s.digest = digest
	s.w = io.MultiWriter(f, digest)
	s.tmpPath = tmpPath
	s.finalPath = finalPath
	s.chunks = 0
	s.bytes = 0
	return nil
}

// Write appends chunk to the temporary file.
func (s *FileSink) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrNotOpen
	}
	n, err := s.w.Write(chunk)
	s.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("sink: writing %s: %w", s.tmpPath, err)
	}
	s.chunks++
	return nil
}

// Finalize closes the file and moves it into place. When nothing was
// written the temporary file is removed and an empty Report is returned.
func (s *FileSink) Finalize() (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return Report{}, ErrNotOpen
	}
	defer s.reset()

	if err := s.f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return Report{}, fmt.Errorf("sink: closing %s: %w", s.tmpPath, err)
	}

	if s.chunks == 0 {
		os.Remove(s.tmpPath)
		slog.Warn("[HISTORY] no data to save")
		return Report{}, nil
	}

	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		os.Remove(s.tmpPath)
		return Report{}, fmt.Errorf("sink: moving %s: %w", s.tmpPath, err)
	}

	report := Report{
		Chunks: s.chunks,
		Bytes:  s.bytes,
		Path:   s.finalPath,
		Digest: hex.EncodeToString(s.digest.Sum(nil)),
	}
	slog.Info("[HISTORY] artifact saved", "path", report.Path, "chunks", report.Chunks, "bytes", report.Bytes)
	return report, nil
}

// Discard closes and removes the temporary file without producing an artifact.
func (s *FileSink) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	defer s.reset()
	s.f.Close()
	if err := os.Remove(s.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sink: removing %s: %w", s.tmpPath, err)
	}
	return nil
}

// reset forgets the current destination (caller must hold mu).
func (s *FileSink) reset() {
	s.f = nil
	s.w = nil
	s.digest = nil
	s.tmpPath = ""
	s.finalPath = ""
	s.chunks = 0
	s.bytes = 0
}
