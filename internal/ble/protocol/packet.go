// Package protocol implements the framing used on the strap's GATT
// characteristics: a start-of-frame marker, a CRC-8 protected length, the
// packet header (type, sequence, command) with its data, and a CRC-32 trailer.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/sigurn/crc8"
)

// Frame layout constants.
const (
	StartOfFrame byte = 0xAA

	frameHeaderLen  = 4 // SOF + length(2) + crc8
	packetHeaderLen = 3 // type + seq + cmd
	trailerLen      = 4 // crc32

	// MinFrameLen is the size of a frame carrying no data.
	MinFrameLen = frameHeaderLen + packetHeaderLen + trailerLen

	// MaxDataLen is the largest data section the 16-bit length field can describe.
	MaxDataLen = 0xFFFF - packetHeaderLen - trailerLen
)

// ErrMalformedFrame is returned for any frame that fails structural checks.
// The concrete reason is wrapped alongside it.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

var crc8Table = crc8.MakeTable(crc8.CRC8)

// Packet is one decoded protocol unit.
type Packet struct {
	Type PacketType
	Seq  uint8
	Cmd  uint8
	Data []byte
}

// Encode frames a packet for writing to the strap.
func Encode(typ PacketType, seq, cmd uint8, data []byte) ([]byte, error) {
	if len(data) > MaxDataLen {
		return nil, fmt.Errorf("%w: data length %d exceeds %d", ErrMalformedFrame, len(data), MaxDataLen)
	}
	if min := typ.minDataLen(); len(data) < min {
		return nil, fmt.Errorf("%w: %s data length %d, need at least %d", ErrMalformedFrame, typ, len(data), min)
	}

	length := packetHeaderLen + len(data) + trailerLen
	buf := make([]byte, frameHeaderLen, frameHeaderLen+length)
	buf[0] = StartOfFrame
	binary.LittleEndian.PutUint16(buf[1:3], uint16(length))
	buf[3] = crc8.Checksum(buf[1:3], crc8Table)

	buf = append(buf, byte(typ), seq, cmd)
	buf = append(buf, data...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[frameHeaderLen:]))
	return buf, nil
}

// Frame encodes p. See Encode.
func (p Packet) Frame() ([]byte, error) {
	return Encode(p.Type, p.Seq, p.Cmd, p.Data)
}

// Decode parses one complete notification payload. It never returns a
// partially populated packet: any failure yields ErrMalformedFrame.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < MinFrameLen {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(frame), MinFrameLen)
	}
	if frame[0] != StartOfFrame {
		return Packet{}, fmt.Errorf("%w: start byte 0x%02x", ErrMalformedFrame, frame[0])
	}
	if got, want := frame[3], crc8.Checksum(frame[1:3], crc8Table); got != want {
		return Packet{}, fmt.Errorf("%w: header crc 0x%02x, want 0x%02x", ErrMalformedFrame, got, want)
	}

	length := int(binary.LittleEndian.Uint16(frame[1:3]))
	if length < packetHeaderLen+trailerLen {
		return Packet{}, fmt.Errorf("%w: declared length %d too small", ErrMalformedFrame, length)
	}
	if actual := len(frame) - frameHeaderLen; actual != length {
		return Packet{}, fmt.Errorf("%w: declared length %d, got %d", ErrMalformedFrame, length, actual)
	}

	body := frame[frameHeaderLen : len(frame)-trailerLen]
	want := binary.LittleEndian.Uint32(frame[len(frame)-trailerLen:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return Packet{}, fmt.Errorf("%w: crc32 0x%08x, want 0x%08x", ErrMalformedFrame, got, want)
	}

	typ := PacketType(body[0])
	data := body[packetHeaderLen:]
	if min := typ.minDataLen(); len(data) < min {
		return Packet{}, fmt.Errorf("%w: %s data length %d, need at least %d", ErrMalformedFrame, typ, len(data), min)
	}

	return Packet{
		Type: typ,
		Seq:  body[1],
		Cmd:  body[2],
		Data: append([]byte(nil), data...),
	}, nil
}
