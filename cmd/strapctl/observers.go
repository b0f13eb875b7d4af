package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chaz8081/strapctl/internal/ble"
)

// printer writes readings to the terminal.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ ble.Observer = (*printer)(nil)

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s  "+format+"\n", append([]any{time.Now().Format("15:04:05")}, args...)...)
}

func (p *printer) OnConnect()                 { p.printf("Connected") }
func (p *printer) OnConnectFailure(err error) { p.printf("Connect failed: %v", err) }
func (p *printer) OnDisconnect()              { p.printf("Disconnected") }
func (p *printer) OnBattery(percent float64)  { p.printf("Battery %.1f%%", percent) }
func (p *printer) OnCharging(charging bool)   { p.printf("Charging: %t", charging) }
func (p *printer) OnWorn(worn bool)           { p.printf("On wrist: %t", worn) }
func (p *printer) OnHeartRate(bpm uint8)      { p.printf("Heart rate %d bpm", bpm) }
func (p *printer) OnNotification(msg string)  { p.printf("%s", msg) }
func (p *printer) OnLog(line string)          { p.printf("strap: %s", line) }
func (p *printer) OnError(err error)          { p.printf("Error: %v", err) }

func (p *printer) OnVersion(harvard, boylston string) {
	p.printf("Firmware harvard %s, boylston %s", harvard, boylston)
}

func (p *printer) OnClock(unix uint32) {
	p.printf("Strap clock %s", time.Unix(int64(unix), 0).Format(time.RFC3339))
}

// linkWatcher signals the run loop when the strap link drops.
type linkWatcher struct {
	ble.NopObserver
	lost chan struct{}
}

func newLinkWatcher() *linkWatcher {
	return &linkWatcher{lost: make(chan struct{}, 1)}
}

func (w *linkWatcher) OnDisconnect() {
	select {
	case w.lost <- struct{}{}:
	default:
	}
}

// clockWaiter hands clock readings and a rejected SET_CLOCK to runSyncClock.
type clockWaiter struct {
	ble.NopObserver
	readings chan uint32
	rejected chan error
}

func newClockWaiter() *clockWaiter {
	return &clockWaiter{
		readings: make(chan uint32, 1),
		rejected: make(chan error, 1),
	}
}

func (w *clockWaiter) OnError(err error) {
	if !errors.Is(err, ble.ErrClockSetFailed) {
		return
	}
	select {
	case w.rejected <- err:
	default:
	}
}

// wait returns the clock the strap reports back, or the rejection if the
// strap refused the new time.
func (w *clockWaiter) wait(ctx context.Context, timeout time.Duration) (uint32, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.rejected:
		return 0, false, err
	case unix := <-w.readings:
		// The nack precedes the GET_CLOCK reply on the command channel.
		select {
		case err := <-w.rejected:
			return 0, false, err
		default:
		}
		return unix, true, nil
	case <-timer.C:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (w *clockWaiter) OnClock(unix uint32) {
	select {
	case w.readings <- unix:
	default:
	}
}
