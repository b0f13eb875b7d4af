package ble

// Observer receives everything the driver learns from the strap. Callbacks
// may run on transport goroutines and must not block for long.
type Observer interface {
	OnConnect()
	OnConnectFailure(err error)
	OnDisconnect()
	OnBattery(percent float64)
	OnVersion(harvard, boylston string)
	OnCharging(charging bool)
	OnWorn(worn bool)
	OnClock(unix uint32)
	OnHeartRate(bpm uint8)
	OnNotification(message string)
	OnLog(line string)
	// OnError reports failures outside the connect sequence: failed polls,
	// rejected clock sets, failed history transfers.
	OnError(err error)
}

// NopObserver ignores every callback. Embed it to implement only the
// callbacks you need.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) OnConnect() {}
func (NopObserver) OnConnectFailure(error) {}
func (NopObserver) OnDisconnect() {}
func (NopObserver) OnBattery(float64) {}
func (NopObserver) OnVersion(string, string) {}
func (NopObserver) OnCharging(bool) {}
func (NopObserver) OnWorn(bool) {}
func (NopObserver) OnClock(uint32) {}
func (NopObserver) OnHeartRate(uint8) {}
func (NopObserver) OnNotification(string) {}
func (NopObserver) OnLog(string) {}
func (NopObserver) OnError(error) {}

// Observers fans every callback out to each element in order.
type Observers []Observer

var _ Observer = Observers(nil)

func (o Observers) OnConnect() {
	for _, x := range o {
		x.OnConnect()
	}
}

func (o Observers) OnConnectFailure(err error) {
	for _, x := range o {
		x.OnConnectFailure(err)
	}
}

func (o Observers) OnDisconnect() {
	for _, x := range o {
		x.OnDisconnect()
	}
}

func (o Observers) OnBattery(percent float64) {
	for _, x := range o {
		x.OnBattery(percent)
	}
}

func (o Observers) OnVersion(harvard, boylston string) {
	for _, x := range o {
		x.OnVersion(harvard, boylston)
	}
}

func (o Observers) OnCharging(charging bool) {
	for _, x := range o {
		x.OnCharging(charging)
	}
}

func (o Observers) OnWorn(worn bool) {
	for _, x := range o {
		x.OnWorn(worn)
	}
}

func (o Observers) OnClock(unix uint32) {
	for _, x := range o {
		x.OnClock(unix)
	}
}

func (o Observers) OnHeartRate(bpm uint8) {
	for _, x := range o {
		x.OnHeartRate(bpm)
	}
}

func (o Observers) OnNotification(message string) {
	for _, x := range o {
		x.OnNotification(message)
	}
}

func (o Observers) OnLog(line string) {
	for _, x := range o {
		x.OnLog(line)
	}
}

func (o Observers) OnError(err error) {
	for _, x := range o {
		x.OnError(err)
	}
}
