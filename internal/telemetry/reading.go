// Package telemetry turns driver callbacks into structured readings and
// ships them to a JSON-lines file or a message broker.
package telemetry

import (
	"time"

	"github.com/chaz8081/strapctl/internal/ble"
)

// Reading kinds. Each ble.Observer callback maps to exactly one kind.
const (
	KindConnect        = "connect"
	KindConnectFailure = "connect_failure"
	KindDisconnect     = "disconnect"
	KindBattery        = "battery"
	KindVersion        = "version"
	KindCharging       = "charging"
	KindWorn           = "worn"
	KindClock          = "clock"
	KindHeartRate      = "heart_rate"
	KindNotification   = "notification"
	KindLog            = "log"
	KindError          = "error"
)

// Reading is one observation from the strap.
type Reading struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Value   any       `json:"value,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Version is the Value of a KindVersion reading.
type Version struct {
	Harvard  string `json:"harvard"`
	Boylston string `json:"boylston"`
}

// readingObserver adapts every ble.Observer callback into a Reading.
type readingObserver struct {
	emit func(Reading)
	now  func() time.Time
}

var _ ble.Observer = readingObserver{}

func (o readingObserver) send(r Reading) {
	if o.now != nil {
		r.Time = o.now()
	} else {
		r.Time = time.Now()
	}
	o.emit(r)
}

func (o readingObserver) OnConnect()    { o.send(Reading{Kind: KindConnect}) }
func (o readingObserver) OnDisconnect() { o.send(Reading{Kind: KindDisconnect}) }

func (o readingObserver) OnConnectFailure(err error) {
	o.send(Reading{Kind: KindConnectFailure, Error: err.Error()})
}

func (o readingObserver) OnBattery(percent float64) {
	o.send(Reading{Kind: KindBattery, Value: percent})
}

func (o readingObserver) OnVersion(harvard, boylston string) {
	o.send(Reading{Kind: KindVersion, Value: Version{Harvard: harvard, Boylston: boylston}})
}

func (o readingObserver) OnCharging(charging bool) {
	o.send(Reading{Kind: KindCharging, Value: charging})
}

func (o readingObserver) OnWorn(worn bool) {
	o.send(Reading{Kind: KindWorn, Value: worn})
}

func (o readingObserver) OnClock(unix uint32) {
	o.send(Reading{Kind: KindClock, Value: unix})
}

func (o readingObserver) OnHeartRate(bpm uint8) {
	o.send(Reading{Kind: KindHeartRate, Value: bpm})
}

func (o readingObserver) OnNotification(message string) {
	o.send(Reading{Kind: KindNotification, Message: message})
}

func (o readingObserver) OnLog(line string) {
	o.send(Reading{Kind: KindLog, Message: line})
}

func (o readingObserver) OnError(err error) {
	o.send(Reading{Kind: KindError, Error: err.Error()})
}
