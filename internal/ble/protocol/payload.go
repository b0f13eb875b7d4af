package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrShortPayload is returned when a packet's data is too short for the
// fields its command defines.
var ErrShortPayload = errors.New("protocol: payload too short")

// Offsets inside command response and metadata data sections.
const (
	batteryOffset     = 2
	versionWords      = 16
	chargingOffset    = 7
	wornOffset        = 116
	clockAckOffset    = 0
	clockOffset       = 2
	historyTrimOffset = 10

	// HistoryAckLen is the size of a HISTORICAL_DATA_RESULT payload.
	HistoryAckLen = 9
	// ClockPayloadLen is the size of a SET_CLOCK payload.
	ClockPayloadLen = 8
)

// consoleEscape is the in-band control sequence stripped from console output.
var consoleEscape = []byte{0x34, 0x00, 0x01}

func need(data []byte, n int, what string) error {
	if len(data) < n {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, what, n, len(data))
	}
	return nil
}

// ParseBattery returns the battery level in percent from a GET_BATTERY_LEVEL
// response. The strap reports tenths of a percent.
func ParseBattery(data []byte) (float64, error) {
	if err := need(data, batteryOffset+2, "battery"); err != nil {
		return 0, err
	}
	raw := binary.LittleEndian.Uint16(data[batteryOffset:])
	return float64(raw) / 10.0, nil
}

// ParseVersion returns the harvard and boylston firmware versions from a
// REPORT_VERSION_INFO response.
func ParseVersion(data []byte) (harvard, boylston string, err error) {
	if err := need(data, versionWords*4, "version info"); err != nil {
		return "", "", err
	}
	var words [versionWords]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return dottedQuad(words[0:4]), dottedQuad(words[4:8]), nil
}

func dottedQuad(w []uint32) string {
	parts := make([]string, len(w))
	for i, v := range w {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ".")
}

// Hello is the subset of the GET_HELLO_HARVARD response the driver consumes.
type Hello struct {
	Charging bool
	Worn     bool
}

// ParseHello extracts the charging and worn flags.
func ParseHello(data []byte) (Hello, error) {
	if err := need(data, wornOffset+1, "hello"); err != nil {
		return Hello{}, err
	}
	return Hello{
		Charging: data[chargingOffset] != 0,
		Worn:     data[wornOffset] != 0,
	}, nil
}

// ParseClock returns the device clock in unix seconds from a GET_CLOCK or
// SET_CLOCK response.
func ParseClock(data []byte) (uint32, error) {
	if err := need(data, clockOffset+4, "clock"); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[clockOffset:]), nil
}

// ClockAcked reports whether a SET_CLOCK response acknowledges success.
func ClockAcked(data []byte) (bool, error) {
	if err := need(data, clockAckOffset+1, "clock ack"); err != nil {
		return false, err
	}
	return data[clockAckOffset] == 1, nil
}

// ParseHistoryTrim returns the trim value carried by a HISTORY_END packet.
func ParseHistoryTrim(data []byte) (uint32, error) {
	if err := need(data, historyTrimOffset+4, "history end"); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[historyTrimOffset:]), nil
}

// HistoryAck builds the HISTORICAL_DATA_RESULT payload acknowledging a
// HISTORY_END with the given trim.
func HistoryAck(trim uint32) []byte {
	buf := make([]byte, HistoryAckLen)
	buf[0] = 1
	binary.LittleEndian.PutUint32(buf[1:5], trim)
	return buf
}

// ClockPayload builds the SET_CLOCK payload for t: unix seconds followed by
// the zone offset in seconds east of UTC, both little-endian.
func ClockPayload(t time.Time) []byte {
	_, offset := t.Zone()
	buf := make([]byte, ClockPayloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.Unix()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(offset)))
	return buf
}

// CleanConsoleLog strips the fixed header and trailer from a CONSOLE_LOGS
// data section and removes every in-band control sequence.
func CleanConsoleLog(data []byte) string {
	if len(data) < ConsoleHeaderLen+ConsoleTrailerLen {
		return ""
	}
	body := data[ConsoleHeaderLen : len(data)-ConsoleTrailerLen]
	cleaned := bytes.ReplaceAll(body, consoleEscape, nil)
	return strings.ToValidUTF8(string(cleaned), "�")
}
