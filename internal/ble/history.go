package ble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
	"github.com/chaz8081/strapctl/internal/sink"
)

// TransferState is the progress of a history download.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferRequested
	TransferReceiving
	TransferCompleted
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "idle"
	case TransferRequested:
		return "requested"
	case TransferReceiving:
		return "receiving"
	case TransferCompleted:
		return "completed"
	case TransferFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

// transfer is one history download. Guarded by Client.xferMu.
type transfer struct {
	id       string
	sink     sink.Sink
	chunks   int
	bytes    int64
	trim     uint32
	rounds   int
	acks     int
	writeErr error
	opened   bool
	asked    bool
}

// TransferState returns the state of the current or most recent download.
func (c *Client) TransferState() TransferState {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()
	return c.xferState
}

func (c *Client) setTransferState(s TransferState) {
	c.xferMu.Lock()
	c.xferState = s
	c.xferMu.Unlock()
}

// writeBulk hands a historical frame to the active transfer's sink.
func (c *Client) writeBulk(frame []byte) {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()

	t := c.xfer
	if t == nil {
		slog.Debug("[HISTORY] dropping historical frame, no transfer active", "len", len(frame))
		return
	}
	if t.writeErr != nil {
		return
	}
	if err := t.sink.Write(frame); err != nil {
		slog.Error("[HISTORY] sink write failed", "transfer", t.id, "error", err)
		t.writeErr = err
		return
	}
	t.chunks++
	t.bytes += int64(len(frame))
}

func (c *Client) beginTransfer(dst sink.Sink) (*transfer, error) {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()
	if c.xfer != nil {
		return nil, ErrTransferInProgress
	}
	t := &transfer{id: uuid.NewString(), sink: dst}
	c.xfer = t
	c.xferState = TransferIdle
	return t, nil
}

// detachTransfer stops routing frames to t and records its final state.
func (c *Client) detachTransfer(t *transfer, final TransferState) {
	c.xferMu.Lock()
	defer c.xferMu.Unlock()
	if c.xfer == t {
		c.xfer = nil
	}
	c.xferState = final
}

// DownloadHistory requests all stored history from the strap and streams
// it into dst, acknowledging each HISTORY_END until HISTORY_COMPLETE.
// Only one download may run at a time.
func (c *Client) DownloadHistory(ctx context.Context, dst sink.Sink) (sink.Report, error) {
	sess, err := c.current()
	if err != nil {
		return sink.Report{}, err
	}
	t, err := c.beginTransfer(dst)
	if err != nil {
		return sink.Report{}, err
	}

	slog.Info("[HISTORY] download started", "transfer", t.id, "session", sess.id)
	report, err := c.runTransfer(ctx, sess, t)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHistoryTransferFailed, err)
		c.failTransfer(sess, t, err)
		return sink.Report{}, err
	}

	slog.Info("[HISTORY] download complete", "transfer", t.id, "rounds", t.rounds, "acks", t.acks, "report", report.String())
	c.observer.OnNotification("History download complete: " + report.String())
	return report, nil
}

func (c *Client) runTransfer(ctx context.Context, sess *session, t *transfer) (sink.Report, error) {
	if err := t.sink.Open(); err != nil {
		return sink.Report{}, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	t.opened = true
	if n := c.meta.Drain(); n > 0 {
		slog.Warn("[HISTORY] dropped stale metadata", "count", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	c.setTransferState(TransferRequested)
	t.asked = true
	if err := sess.command(protocol.CmdSendHistoricalData, []byte{0}); err != nil {
		return sink.Report{}, err
	}

	for {
		pkt, err := c.nextMetadata(ctx)
		if err != nil {
			if sess.ctx.Err() != nil {
				return sink.Report{}, ErrSessionClosed
			}
			return sink.Report{}, fmt.Errorf("waiting for metadata: %w", err)
		}

		meta := protocol.Metadata(pkt.Cmd)
		switch meta {
		case protocol.MetaHistoryStart:
			t.rounds++
			c.setTransferState(TransferReceiving)
			slog.Debug("[HISTORY] round started", "transfer", t.id, "round", t.rounds)

		case protocol.MetaHistoryEnd:
			trim, err := protocol.ParseHistoryTrim(pkt.Data)
			if err != nil {
				return sink.Report{}, err
			}
			seq, err := sess.send(protocol.TypeCommand, uint8(protocol.CmdHistoricalDataResult), protocol.HistoryAck(trim))
			if err != nil {
				return sink.Report{}, err
			}
			t.trim = trim
			t.acks++
			c.setTransferState(TransferReceiving)
			slog.Debug("[HISTORY] acknowledged batch", "transfer", t.id, "trim", trim, "seq", seq)

		case protocol.MetaHistoryComplete:
			c.xferMu.Lock()
			writeErr := t.writeErr
			c.xferMu.Unlock()
			if writeErr != nil {
				return sink.Report{}, fmt.Errorf("sink write: %w", writeErr)
			}

			c.detachTransfer(t, TransferCompleted)
			report, err := t.sink.Finalize()
			if err != nil {
				c.setTransferState(TransferFailed)
				return sink.Report{}, fmt.Errorf("finalize: %w", err)
			}
			return report, nil

		default:
			slog.Warn("[HISTORY] ignoring metadata", "meta", meta, "len", len(pkt.Data))
		}
	}
}

// nextMetadata waits for the next staged metadata packet, bounded by the
// optional per-packet timeout.
func (c *Client) nextMetadata(ctx context.Context) (protocol.Packet, error) {
	if c.opts.MetadataTimeout <= 0 {
		return c.meta.Dequeue(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	return c.meta.Dequeue(ctx)
}

// failTransfer discards partial output, asks the strap to stop sending if
// the link is still up, and reports err once.
func (c *Client) failTransfer(sess *session, t *transfer, err error) {
	c.detachTransfer(t, TransferFailed)

	if t.opened {
		if d, ok := t.sink.(sink.Discarder); ok {
			if derr := d.Discard(); derr != nil {
				slog.Warn("[HISTORY] discard failed", "transfer", t.id, "error", derr)
			}
		}
	}
	if t.asked && sess.ctx.Err() == nil {
		if aerr := sess.command(protocol.CmdAbortHistoricalTransmits, []byte{0}); aerr != nil {
			slog.Warn("[HISTORY] abort failed", "transfer", t.id, "error", aerr)
		}
	}

	slog.Error("[HISTORY] download failed", "transfer", t.id, "chunks", t.chunks, "error", err)
	c.observer.OnError(err)
}
