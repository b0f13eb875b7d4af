package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Recorder writes every reading as one JSON line.
type Recorder struct {
	readingObserver
	log    zerolog.Logger
	closer io.Closer
}

// NewRecorder returns a Recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{
		log: zerolog.New(w).With().Timestamp().Logger(),
	}
	r.readingObserver = readingObserver{emit: r.record}
	return r
}

// OpenRecorder appends to the file at path, creating it and its directory
// if needed.
func OpenRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("telemetry: create record dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open record file: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

func (r *Recorder) record(rd Reading) {
	ev := r.log.Info()
	if rd.Kind == KindError || rd.Kind == KindConnectFailure {
		ev = r.log.Error()
	}
	ev = ev.Str("kind", rd.Kind)
	if rd.Value != nil {
		ev = ev.Interface("value", rd.Value)
	}
	if rd.Error != "" {
		ev = ev.Str("error", rd.Error)
	}
	ev.Msg(rd.Message)
}

// Close closes the underlying file, if the recorder opened one.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
