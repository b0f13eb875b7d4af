package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batteryData(raw uint16) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[2:], raw)
	return data
}

func TestParseBattery(t *testing.T) {
	tests := []struct {
		raw  uint16
		want float64
	}{
		{735, 73.5},
		{200, 20.0},
		{1000, 100.0},
		{0, 0},
	}
	for _, tt := range tests {
		got, err := ParseBattery(batteryData(tt.raw))
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "raw %d", tt.raw)
	}

	_, err := ParseBattery([]byte{0, 0, 1})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestParseVersion(t *testing.T) {
	data := make([]byte, 64)
	words := []uint32{1, 2, 3, 4, 10, 20, 30, 40, 99, 99, 99, 99, 0, 0, 0, 0}
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}

	harvard, boylston, err := ParseVersion(data)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", harvard)
	assert.Equal(t, "10.20.30.40", boylston)

	_, _, err = ParseVersion(data[:63])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestParseHello(t *testing.T) {
	data := make([]byte, 120)
	data[7] = 1
	h, err := ParseHello(data)
	require.NoError(t, err)
	assert.Equal(t, Hello{Charging: true, Worn: false}, h)

	data[7] = 0
	data[116] = 1
	h, err = ParseHello(data)
	require.NoError(t, err)
	assert.Equal(t, Hello{Charging: false, Worn: true}, h)

	_, err = ParseHello(data[:116])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestParseClockAndAck(t *testing.T) {
	data := []byte{1, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(data[2:], 1700000000)

	unix, err := ParseClock(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(1700000000), unix)

	ok, err := ClockAcked(data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ClockAcked([]byte{0})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ClockAcked(nil)
	assert.ErrorIs(t, err, ErrShortPayload)
	_, err = ParseClock(data[:5])
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestHistoryTrimAndAck(t *testing.T) {
	data := make([]byte, 14)
	binary.LittleEndian.PutUint32(data[10:], 37)
	trim, err := ParseHistoryTrim(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(37), trim)

	_, err = ParseHistoryTrim(data[:13])
	assert.ErrorIs(t, err, ErrShortPayload)

	ack := HistoryAck(0x01020304)
	assert.Equal(t, []byte{1, 0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0}, ack)
}

func TestClockPayload(t *testing.T) {
	zone := time.FixedZone("EST", -5*3600)
	ts := time.Unix(1700000000, 0).In(zone)

	got := ClockPayload(ts)
	require.Len(t, got, ClockPayloadLen)
	assert.Equal(t, uint32(1700000000), binary.LittleEndian.Uint32(got[0:4]))
	assert.Equal(t, int32(-5*3600), int32(binary.LittleEndian.Uint32(got[4:8])))

	utc := ClockPayload(ts.UTC())
	assert.Equal(t, []byte{0, 0, 0, 0}, utc[4:8])
}

func TestCleanConsoleLog(t *testing.T) {
	header := []byte{0, 1, 2, 3, 4, 5, 6}
	data := append(append([]byte(nil), header...), 0x41, 0x34, 0x00, 0x01, 0x42, 0x00)
	assert.Equal(t, "AB", CleanConsoleLog(data))

	// A partial control sequence at the end of the body is kept.
	data = append(append([]byte(nil), header...), 0x41, 0x34, 0x00, 0xFF)
	assert.Equal(t, "A4\x00", CleanConsoleLog(data))

	assert.Equal(t, "", CleanConsoleLog([]byte{1, 2, 3}))
}
