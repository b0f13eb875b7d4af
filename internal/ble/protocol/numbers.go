package protocol

import "fmt"

// PacketType is the first header byte of every packet.
type PacketType uint8

const (
	TypeCommand         PacketType = 35
	TypeCommandResponse PacketType = 36
	TypeRealtimeData    PacketType = 40
	TypeRealtimeRawData PacketType = 43
	TypeHistoricalData  PacketType = 47
	TypeEvent           PacketType = 48
	TypeMetadata        PacketType = 49
	TypeConsoleLogs     PacketType = 50
	TypeRealtimeIMU     PacketType = 51
	TypeHistoricalIMU   PacketType = 52
)

// Fixed offsets consumed by the data-channel handlers.
const (
	RealtimeHeartRateOffset = 5
	ConsoleHeaderLen        = 7
	ConsoleTrailerLen       = 1
)

// minDataLen is the shortest data section a packet of this type may carry.
func (t PacketType) minDataLen() int {
	switch t {
	case TypeRealtimeData:
		return RealtimeHeartRateOffset + 1
	case TypeConsoleLogs:
		return ConsoleHeaderLen + ConsoleTrailerLen
	default:
		return 0
	}
}

func (t PacketType) String() string {
	switch t {
	case TypeCommand:
		return "COMMAND"
	case TypeCommandResponse:
		return "COMMAND_RESPONSE"
	case TypeRealtimeData:
		return "REALTIME_DATA"
	case TypeRealtimeRawData:
		return "REALTIME_RAW_DATA"
	case TypeHistoricalData:
		return "HISTORICAL_DATA"
	case TypeEvent:
		return "EVENT"
	case TypeMetadata:
		return "METADATA"
	case TypeConsoleLogs:
		return "CONSOLE_LOGS"
	case TypeRealtimeIMU:
		return "REALTIME_IMU_DATA_STREAM"
	case TypeHistoricalIMU:
		return "HISTORICAL_IMU_DATA_STREAM"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// Command numbers carried in the cmd byte of COMMAND and COMMAND_RESPONSE packets.
type Command uint8

const (
	CmdLinkValid                Command = 1
	CmdGetMaxProtocolVersion    Command = 2
	CmdToggleRealtimeHR         Command = 3
	CmdReportVersionInfo        Command = 7
	CmdSetClock                 Command = 10
	CmdGetClock                 Command = 11
	CmdToggleGenericHRProfile   Command = 14
	CmdRunHapticPatternMaverick Command = 19
	CmdAbortHistoricalTransmits Command = 20
	CmdSendHistoricalData       Command = 22
	CmdHistoricalDataResult     Command = 23
	CmdGetBatteryLevel          Command = 26
	CmdRebootStrap              Command = 29
	CmdGetHelloHarvard          Command = 35
	CmdGetAdvertisingName       Command = 76
)

var commandNames = map[Command]string{
	CmdLinkValid:                "LINK_VALID",
	CmdGetMaxProtocolVersion:    "GET_MAX_PROTOCOL_VERSION",
	CmdToggleRealtimeHR:         "TOGGLE_REALTIME_HR",
	CmdReportVersionInfo:        "REPORT_VERSION_INFO",
	CmdSetClock:                 "SET_CLOCK",
	CmdGetClock:                 "GET_CLOCK",
	CmdToggleGenericHRProfile:   "TOGGLE_GENERIC_HR_PROFILE",
	CmdRunHapticPatternMaverick: "RUN_HAPTIC_PATTERN_MAVERICK",
	CmdAbortHistoricalTransmits: "ABORT_HISTORICAL_TRANSMITS",
	CmdSendHistoricalData:       "SEND_HISTORICAL_DATA",
	CmdHistoricalDataResult:     "HISTORICAL_DATA_RESULT",
	CmdGetBatteryLevel:          "GET_BATTERY_LEVEL",
	CmdRebootStrap:              "REBOOT_STRAP",
	CmdGetHelloHarvard:          "GET_HELLO_HARVARD",
	CmdGetAdvertisingName:       "GET_ADVERTISING_NAME_HARVARD",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// Event numbers carried in the cmd byte of EVENT packets.
type Event uint8

const (
	EventError          Event = 1
	EventConsoleOutput  Event = 2
	EventBatteryLevel   Event = 3
	EventChargingOn     Event = 7
	EventChargingOff    Event = 8
	EventWristOn        Event = 9
	EventWristOff       Event = 10
	EventBLEConnUp      Event = 11
	EventBLEConnDown    Event = 12
	EventRTCLost        Event = 13
	EventDoubleTap      Event = 14
	EventBoot           Event = 15
	EventSetRTC         Event = 16
	EventTemperature    Event = 17
	EventTrimAllData    Event = 26
	EventTrimAllDataEnd Event = 27
)

var eventNames = map[Event]string{
	EventError:          "ERROR",
	EventConsoleOutput:  "CONSOLE_OUTPUT",
	EventBatteryLevel:   "BATTERY_LEVEL",
	EventChargingOn:     "CHARGING_ON",
	EventChargingOff:    "CHARGING_OFF",
	EventWristOn:        "WRIST_ON",
	EventWristOff:       "WRIST_OFF",
	EventBLEConnUp:      "BLE_CONNECTION_UP",
	EventBLEConnDown:    "BLE_CONNECTION_DOWN",
	EventRTCLost:        "RTC_LOST",
	EventDoubleTap:      "DOUBLE_TAP",
	EventBoot:           "BOOT",
	EventSetRTC:         "SET_RTC",
	EventTemperature:    "TEMPERATURE_LEVEL",
	EventTrimAllData:    "TRIM_ALL_DATA",
	EventTrimAllDataEnd: "TRIM_ALL_DATA_ENDED",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// Metadata numbers carried in the cmd byte of METADATA packets.
type Metadata uint8

const (
	MetaHistoryStart    Metadata = 1
	MetaHistoryEnd      Metadata = 2
	MetaHistoryComplete Metadata = 3
)

func (m Metadata) String() string {
	switch m {
	case MetaHistoryStart:
		return "HISTORY_START"
	case MetaHistoryEnd:
		return "HISTORY_END"
	case MetaHistoryComplete:
		return "HISTORY_COMPLETE"
	default:
		return fmt.Sprintf("Metadata(%d)", uint8(m))
	}
}
