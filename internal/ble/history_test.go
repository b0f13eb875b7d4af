package ble

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
	"github.com/chaz8081/strapctl/internal/sink"
)

func historyEndPayload(trim uint32) []byte {
	data := make([]byte, 14)
	binary.LittleEndian.PutUint32(data[10:], trim)
	return data
}

func encodeFrame(t *testing.T, typ protocol.PacketType, cmd uint8, data []byte) []byte {
	t.Helper()
	frame, err := protocol.Encode(typ, 0, cmd, data)
	require.NoError(t, err)
	return frame
}

// onCommand runs fn in a goroutine whenever the host writes cmd.
func onCommand(conn *mockConnection, cmd protocol.Command, fn func(protocol.Packet)) {
	conn.cmdTo.mu.Lock()
	defer conn.cmdTo.mu.Unlock()
	conn.cmdTo.onWrite = func(frame []byte) {
		pkt, err := protocol.Decode(frame)
		if err != nil || pkt.Type != protocol.TypeCommand || protocol.Command(pkt.Cmd) != cmd {
			return
		}
		go fn(pkt)
	}
}

func TestDownloadHistoryScripted(t *testing.T) {
	c, adapter, obs := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	chunks := [][]byte{
		encodeFrame(t, protocol.TypeHistoricalData, 0, []byte("first batch")),
		encodeFrame(t, protocol.TypeHistoricalData, 0, []byte("second")),
	}
	onCommand(conn, protocol.CmdSendHistoricalData, func(protocol.Packet) {
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryStart), nil)
		for _, ch := range chunks {
			conn.data.SimulateNotification(ch)
		}
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryEnd), historyEndPayload(37))
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryComplete), nil)
	})

	dst := sink.NewMemorySink()
	report, err := c.DownloadHistory(context.Background(), dst)
	require.NoError(t, err)

	assert.Equal(t, TransferCompleted, c.TransferState())
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, bytes.Join(chunks, nil), dst.Bytes())
	assert.Equal(t, int64(len(dst.Bytes())), report.Bytes)

	acks := conn.cmdTo.sentCommand(t, protocol.CmdHistoricalDataResult)
	require.Len(t, acks, 1)
	assert.Equal(t, []byte{1, 37, 0, 0, 0, 0, 0, 0, 0}, acks[0].Data)

	// The ack carries a fresh sequence number after the request.
	req := conn.cmdTo.sentCommand(t, protocol.CmdSendHistoricalData)
	require.Len(t, req, 1)
	assert.Equal(t, req[0].Seq+1, acks[0].Seq)

	require.Len(t, obs.notes, 1)
	assert.Contains(t, obs.notes[0], "History download complete")
	assert.Empty(t, obs.errorList())
}

func TestDownloadHistoryMultipleRounds(t *testing.T) {
	c, adapter, _ := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	onCommand(conn, protocol.CmdSendHistoricalData, func(protocol.Packet) {
		for _, trim := range []uint32{10, 20, 30} {
			conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryStart), nil)
			conn.data.SimulateNotification(encodeFrame(t, protocol.TypeHistoricalData, 0, []byte{byte(trim)}))
			conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryEnd), historyEndPayload(trim))
		}
		conn.notify(t, ChannelData, protocol.TypeMetadata, 99, nil) // unknown, ignored
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryComplete), nil)
	})

	report, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)

	acks := conn.cmdTo.sentCommand(t, protocol.CmdHistoricalDataResult)
	require.Len(t, acks, 3)
	for i, trim := range []uint32{10, 20, 30} {
		assert.Equal(t, protocol.HistoryAck(trim), acks[i].Data)
	}
}

func TestDownloadHistoryToFileSink(t *testing.T) {
	c, adapter, _ := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	onCommand(conn, protocol.CmdSendHistoricalData, func(protocol.Packet) {
		conn.data.SimulateNotification(encodeFrame(t, protocol.TypeHistoricalData, 0, []byte("abc")))
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryComplete), nil)
	})

	report, err := c.DownloadHistory(context.Background(), sink.NewFileSink(t.TempDir()))
	require.NoError(t, err)
	assert.NotEmpty(t, report.Path)
	assert.NotEmpty(t, report.Digest)
}

func TestDownloadHistoryDisconnectMidTransfer(t *testing.T) {
	c, adapter, obs := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	onCommand(conn, protocol.CmdSendHistoricalData, func(protocol.Packet) {
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryStart), nil)
		conn.data.SimulateNotification(encodeFrame(t, protocol.TypeHistoricalData, 0, []byte{1, 2, 3}))
		conn.SimulateDisconnect()
	})

	dst := sink.NewMemorySink()
	done := make(chan error, 1)
	go func() {
		_, err := c.DownloadHistory(context.Background(), dst)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrHistoryTransferFailed)
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("DownloadHistory did not return after link loss")
	}

	assert.Equal(t, TransferFailed, c.TransferState())
	assert.False(t, dst.IsOpen(), "sink is discarded")
	assert.Empty(t, dst.Bytes(), "sink is not finalized")
	require.Len(t, obs.errorList(), 1)
	require.Eventually(t, func() bool { return obs.disconnectCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, conn.cmdTo.sentCommand(t, protocol.CmdAbortHistoricalTransmits), "no abort on a dead link")
}

func TestDownloadHistoryExplicitDisconnect(t *testing.T) {
	c, _, _ := connectedClient(t, testOptions())

	done := make(chan error, 1)
	go func() {
		_, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
		done <- err
	}()

	require.Eventually(t, func() bool { return c.TransferState() == TransferRequested }, time.Second, time.Millisecond)
	require.NoError(t, c.Disconnect())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrHistoryTransferFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("DownloadHistory did not return after Disconnect")
	}
}

func TestDownloadHistoryContextCancelAborts(t *testing.T) {
	c, adapter, obs := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.DownloadHistory(ctx, sink.NewMemorySink())
	assert.ErrorIs(t, err, ErrHistoryTransferFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, conn.cmdTo.sentCommand(t, protocol.CmdAbortHistoricalTransmits), 1)
	assert.Len(t, obs.errorList(), 1)
	assert.Equal(t, StateConnected, c.State())
}

func TestDownloadHistoryMetadataTimeout(t *testing.T) {
	opts := testOptions()
	opts.MetadataTimeout = 10 * time.Millisecond
	c, _, _ := connectedClient(t, opts)

	_, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
	assert.ErrorIs(t, err, ErrHistoryTransferFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadHistorySinkUnavailable(t *testing.T) {
	c, adapter, obs := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	dst := &sink.MemorySink{OpenErr: errors.New("no space")}
	_, err := c.DownloadHistory(context.Background(), dst)

	assert.ErrorIs(t, err, ErrHistoryTransferFailed)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.ErrorIs(t, err, sink.ErrUnavailable)
	assert.Empty(t, conn.cmdTo.sentCommand(t, protocol.CmdSendHistoricalData), "nothing requested without a sink")
	assert.Empty(t, conn.cmdTo.sentCommand(t, protocol.CmdAbortHistoricalTransmits))
	assert.Len(t, obs.errorList(), 1)
	assert.Equal(t, TransferFailed, c.TransferState())
}

func TestDownloadHistoryOneAtATime(t *testing.T) {
	c, _, _ := connectedClient(t, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.DownloadHistory(ctx, sink.NewMemorySink())
	}()
	require.Eventually(t, func() bool { return c.TransferState() == TransferRequested }, time.Second, time.Millisecond)

	_, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
	assert.ErrorIs(t, err, ErrTransferInProgress)

	cancel()
	<-done
}

func TestDownloadHistoryDrainsStaleMetadata(t *testing.T) {
	c, adapter, _ := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	// A COMPLETE left over from an earlier exchange must not end the new transfer.
	conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryComplete), nil)

	onCommand(conn, protocol.CmdSendHistoricalData, func(protocol.Packet) {
		conn.data.SimulateNotification(encodeFrame(t, protocol.TypeHistoricalData, 0, []byte{5}))
		conn.notify(t, ChannelData, protocol.TypeMetadata, uint8(protocol.MetaHistoryComplete), nil)
	})

	report, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
}

func TestHistoricalDataWithoutTransferIsDropped(t *testing.T) {
	c, adapter, _ := connectedClient(t, testOptions())
	conn := adapter.latestConnection()

	conn.data.SimulateNotification(encodeFrame(t, protocol.TypeHistoricalData, 0, []byte{1}))
	assert.Equal(t, TransferIdle, c.TransferState())
}

func TestDownloadHistoryRequiresConnection(t *testing.T) {
	c := NewClient(newMockAdapter(nil), nil, testOptions())
	_, err := c.DownloadHistory(context.Background(), sink.NewMemorySink())
	assert.ErrorIs(t, err, ErrNotConnected)
}
