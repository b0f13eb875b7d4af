package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []PacketType{
	TypeCommand, TypeCommandResponse, TypeRealtimeData, TypeRealtimeRawData,
	TypeHistoricalData, TypeEvent, TypeMetadata, TypeConsoleLogs,
	TypeRealtimeIMU, TypeHistoricalIMU,
}

func TestEncodeBatteryCommand(t *testing.T) {
	got, err := Encode(TypeCommand, 0, uint8(CmdGetBatteryLevel), []byte{0x00})
	require.NoError(t, err)

	// SOF, length 8 (3 header + 1 data + 4 crc), crc8 of {0x08, 0x00}
	require.Len(t, got, MinFrameLen+1)
	assert.Equal(t, StartOfFrame, got[0])
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(got[1:3]))
	assert.Equal(t, crc8Checksum(got[1:3]), got[3])
	assert.Equal(t, []byte{35, 0, 26, 0}, got[4:8])
	assert.Equal(t, crc32.ChecksumIEEE(got[4:8]), binary.LittleEndian.Uint32(got[8:]))
}

func TestRoundTripAllTypes(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		bytes.Repeat([]byte{0x5A}, 8),
		bytes.Repeat([]byte{0xFF}, 300),
	}
	for _, typ := range allTypes {
		for _, data := range payloads {
			if len(data) < typ.minDataLen() {
				continue
			}
			for _, seq := range []uint8{0, 1, 127, 255} {
				frame, err := Encode(typ, seq, 0x42, data)
				require.NoError(t, err, "%s len=%d", typ, len(data))

				pkt, err := Decode(frame)
				require.NoError(t, err, "%s len=%d", typ, len(data))
				assert.Equal(t, typ, pkt.Type)
				assert.Equal(t, seq, pkt.Seq)
				assert.Equal(t, uint8(0x42), pkt.Cmd)
				assert.True(t, bytes.Equal(data, pkt.Data), "%s data mismatch", typ)
			}
		}
	}
}

func TestPacketFrameMatchesEncode(t *testing.T) {
	p := Packet{Type: TypeCommand, Seq: 9, Cmd: uint8(CmdGetClock), Data: []byte{0}}
	a, err := p.Frame()
	require.NoError(t, err)
	b, err := Encode(p.Type, p.Seq, p.Cmd, p.Data)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestDecodeRejectsTruncatedAndOversized(t *testing.T) {
	for _, typ := range allTypes {
		data := bytes.Repeat([]byte{0x11}, typ.minDataLen()+4)
		frame, err := Encode(typ, 3, 1, data)
		require.NoError(t, err)

		for cut := 1; cut < len(frame); cut++ {
			_, err := Decode(frame[:len(frame)-cut])
			assert.ErrorIs(t, err, ErrMalformedFrame, "%s truncated by %d", typ, cut)
		}

		oversized := append(append([]byte(nil), frame...), 0x00, 0x01)
		_, err = Decode(oversized)
		assert.ErrorIs(t, err, ErrMalformedFrame, "%s oversized", typ)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	frame, err := Encode(TypeEvent, 1, uint8(EventWristOn), []byte{1, 2, 3})
	require.NoError(t, err)

	tests := []struct {
		name  string
		index int
	}{
		{"start byte", 0},
		{"length", 1},
		{"header crc", 3},
		{"type", 4},
		{"data", 8},
		{"trailer", len(frame) - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := append([]byte(nil), frame...)
			bad[tt.index] ^= 0xFF
			pkt, err := Decode(bad)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			assert.Equal(t, Packet{}, pkt)
		})
	}
}

func TestDecodeRejectsShortDataForType(t *testing.T) {
	// Hand-build a realtime frame with only 3 data bytes; Encode refuses it.
	body := []byte{byte(TypeRealtimeData), 0, 0, 1, 2, 3}
	frame := []byte{StartOfFrame, 0, 0, 0}
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(body)+4))
	frame[3] = crc8Checksum(frame[1:3])
	frame = append(frame, body...)
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(body))

	_, err := Decode(frame)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Encode(TypeRealtimeData, 0, 0, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeCopiesData(t *testing.T) {
	frame, err := Encode(TypeMetadata, 0, uint8(MetaHistoryStart), []byte{7, 7})
	require.NoError(t, err)
	pkt, err := Decode(frame)
	require.NoError(t, err)
	frame[7] = 0
	assert.Equal(t, []byte{7, 7}, pkt.Data)
}

func TestEncodeRejectsOversizedData(t *testing.T) {
	_, err := Encode(TypeCommand, 0, 0, make([]byte, MaxDataLen+1))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNumberStrings(t *testing.T) {
	assert.Equal(t, "HISTORICAL_DATA", TypeHistoricalData.String())
	assert.Equal(t, "PacketType(99)", PacketType(99).String())
	assert.Equal(t, "SEND_HISTORICAL_DATA", CmdSendHistoricalData.String())
	assert.Equal(t, "Command(250)", Command(250).String())
	assert.Equal(t, "DOUBLE_TAP", EventDoubleTap.String())
	assert.Equal(t, "HISTORY_END", MetaHistoryEnd.String())
	assert.Equal(t, "Metadata(9)", Metadata(9).String())
}

func crc8Checksum(b []byte) byte {
	// CRC-8/SMBUS, poly 0x07, computed bitwise to cross-check the table.
	var crc byte
	for _, v := range b {
		crc ^= v
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
