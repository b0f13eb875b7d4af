package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
)

// session is the state of one connection. It is created when a link is
// acquired and discarded on disconnect; it is never reused.
type session struct {
	id   string
	conn Connection

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by Client.mu. OnDisconnect is held back until OnConnect has
	// been delivered for this session.
	announced         bool
	pendingDisconnect bool

	writeMu  sync.Mutex
	cmdTo    Characteristic
	seq      uint8
	realtime bool
	closed   bool
}

func newSession(conn Connection) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
}

// send frames and writes one packet with the next sequence number. Writes
// are serialized so sequence numbers reach the strap in order.
func (s *session) send(typ protocol.PacketType, cmd uint8, data []byte) (uint8, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed || s.cmdTo == nil {
		return 0, ErrSessionClosed
	}

	seq := s.seq
	frame, err := protocol.Encode(typ, seq, cmd, data)
	if err != nil {
		return 0, fmt.Errorf("ble: encode %s: %w", typ, err)
	}
	s.seq++ // wraps at 255

	if err := s.cmdTo.Write(frame); err != nil {
		return seq, fmt.Errorf("%w: %s seq=%d: %w", ErrTransportWrite, typ, seq, err)
	}
	slog.Debug("[BLE] sent", "session", s.id, "type", typ, "cmd", cmd, "seq", seq, "len", len(data))
	return seq, nil
}

// command sends a COMMAND packet.
func (s *session) command(cmd protocol.Command, data []byte) error {
	if _, err := s.send(protocol.TypeCommand, uint8(cmd), data); err != nil {
		return fmt.Errorf("ble: %s: %w", cmd, err)
	}
	return nil
}

// toggleRealtime flips the realtime flag and returns the new value.
func (s *session) toggleRealtime() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.realtime = !s.realtime
	return s.realtime
}

// close cancels the session context and drops the characteristic reference.
// Background goroutines exit on their own; send refuses a closed session.
// Safe to call more than once, including from those goroutines.
func (s *session) close() {
	s.cancel()

	s.writeMu.Lock()
	s.closed = true
	s.cmdTo = nil
	s.writeMu.Unlock()
}
