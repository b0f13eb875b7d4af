package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
	"github.com/chaz8081/strapctl/internal/queue"
)

// Channel identifies the inbound characteristic a frame arrived on.
type Channel int

const (
	ChannelCommand Channel = iota
	ChannelEvents
	ChannelData
)

func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "cmd-from-strap"
	case ChannelEvents:
		return "events-from-strap"
	case ChannelData:
		return "data-from-strap"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// DeviceInfo is the last known state reported by the strap. Each field
// changes only when a packet of the matching kind arrives.
type DeviceInfo struct {
	Battery   float64
	Harvard   string
	Boylston  string
	Charging  bool
	Worn      bool
	Clock     uint32
	HeartRate uint8
	Realtime  bool
}

type infoStore struct {
	mu   sync.Mutex
	info DeviceInfo
}

func (s *infoStore) update(fn func(*DeviceInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

func (s *infoStore) snapshot() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Dispatcher decodes inbound frames and routes them to the observer, the
// metadata queue, or the bulk writer.
type Dispatcher struct {
	observer Observer
	meta     *queue.Queue[protocol.Packet]
	info     *infoStore
	bulk     func(frame []byte)
}

// NewDispatcher returns a dispatcher that stages metadata on meta and hands
// historical frames to bulk. A nil bulk drops them.
func NewDispatcher(observer Observer, meta *queue.Queue[protocol.Packet], bulk func(frame []byte)) *Dispatcher {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{
		observer: observer,
		meta:     meta,
		info:     &infoStore{},
		bulk:     bulk,
	}
}

// DeviceInfo returns a snapshot of the values reported so far.
func (d *Dispatcher) DeviceInfo() DeviceInfo {
	return d.info.snapshot()
}

// Dispatch handles one notification. It never panics on bad input and
// never returns an error: failures are logged or reported via OnError.
func (d *Dispatcher) Dispatch(ch Channel, frame []byte) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		slog.Warn("[BLE] dropping malformed frame", "channel", ch, "len", len(frame), "error", err)
		return
	}

	switch ch {
	case ChannelCommand:
		d.handleCommand(pkt)
	case ChannelEvents:
		d.handleEvent(pkt)
	case ChannelData:
		d.handleData(pkt, frame)
	default:
		slog.Debug("[BLE] frame on unknown channel", "channel", ch, "type", pkt.Type)
	}
}

func (d *Dispatcher) malformed(pkt protocol.Packet, what fmt.Stringer, err error) {
	slog.Warn("[BLE] malformed payload", "type", pkt.Type, "kind", what, "seq", pkt.Seq, "error", err)
}

func (d *Dispatcher) handleCommand(pkt protocol.Packet) {
	cmd := protocol.Command(pkt.Cmd)
	switch cmd {
	case protocol.CmdGetBatteryLevel:
		level, err := protocol.ParseBattery(pkt.Data)
		if err != nil {
			d.malformed(pkt, cmd, err)
			return
		}
		d.info.update(func(i *DeviceInfo) { i.Battery = level })
		d.observer.OnBattery(level)

	case protocol.CmdReportVersionInfo:
		harvard, boylston, err := protocol.ParseVersion(pkt.Data)
		if err != nil {
			d.malformed(pkt, cmd, err)
			return
		}
		d.info.update(func(i *DeviceInfo) {
			i.Harvard = harvard
			i.Boylston = boylston
		})
		slog.Info("[BLE] firmware version", "harvard", harvard, "boylston", boylston)
		d.observer.OnVersion(harvard, boylston)

	case protocol.CmdGetHelloHarvard:
		hello, err := protocol.ParseHello(pkt.Data)
		if err != nil {
			d.malformed(pkt, cmd, err)
			return
		}
		d.info.update(func(i *DeviceInfo) {
			i.Charging = hello.Charging
			i.Worn = hello.Worn
		})
		d.observer.OnCharging(hello.Charging)
		d.observer.OnWorn(hello.Worn)

	case protocol.CmdGetClock:
		unix, err := protocol.ParseClock(pkt.Data)
		if err != nil {
			d.malformed(pkt, cmd, err)
			return
		}
		d.setClock(unix)

	case protocol.CmdSetClock:
		ok, err := protocol.ClockAcked(pkt.Data)
		if err != nil {
			d.malformed(pkt, cmd, err)
			return
		}
		if !ok {
			d.observer.OnError(fmt.Errorf("%w: strap answered 0x%02x", ErrClockSetFailed, pkt.Data[0]))
			return
		}
		slog.Info("[BLE] clock set acknowledged")
		if unix, err := protocol.ParseClock(pkt.Data); err == nil {
			d.setClock(unix)
		}

	default:
		slog.Debug("[BLE] unhandled command response", "cmd", cmd, "seq", pkt.Seq, "len", len(pkt.Data))
	}
}

func (d *Dispatcher) setClock(unix uint32) {
	d.info.update(func(i *DeviceInfo) { i.Clock = unix })
	d.observer.OnClock(unix)
}

func (d *Dispatcher) handleEvent(pkt protocol.Packet) {
	ev := protocol.Event(pkt.Cmd)
	switch ev {
	case protocol.EventWristOn, protocol.EventWristOff:
		worn := ev == protocol.EventWristOn
		d.info.update(func(i *DeviceInfo) { i.Worn = worn })
		d.observer.OnWorn(worn)

	case protocol.EventChargingOn, protocol.EventChargingOff:
		charging := ev == protocol.EventChargingOn
		d.info.update(func(i *DeviceInfo) { i.Charging = charging })
		d.observer.OnCharging(charging)

	case protocol.EventDoubleTap:
		d.observer.OnNotification("Double tap detected")

	default:
		slog.Debug("[BLE] unhandled event", "event", ev, "len", len(pkt.Data))
	}
}

func (d *Dispatcher) handleData(pkt protocol.Packet, frame []byte) {
	switch pkt.Type {
	case protocol.TypeRealtimeData:
		bpm := pkt.Data[protocol.RealtimeHeartRateOffset]
		d.info.update(func(i *DeviceInfo) { i.HeartRate = bpm })
		d.observer.OnHeartRate(bpm)

	case protocol.TypeMetadata:
		slog.Debug("[HISTORY] metadata staged", "meta", protocol.Metadata(pkt.Cmd))
		d.meta.Enqueue(pkt)

	case protocol.TypeHistoricalData:
		if d.bulk != nil {
			d.bulk(frame)
		}

	case protocol.TypeConsoleLogs:
		d.observer.OnLog(protocol.CleanConsoleLog(pkt.Data))

	default:
		slog.Debug("[BLE] unhandled data packet", "type", pkt.Type, "len", len(pkt.Data))
	}
}

// setRealtime records the realtime flag chosen by the host.
func (d *Dispatcher) setRealtime(enabled bool) {
	d.info.update(func(i *DeviceInfo) { i.Realtime = enabled })
}
