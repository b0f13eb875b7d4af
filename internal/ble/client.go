package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
	"github.com/chaz8081/strapctl/internal/queue"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitializing
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	NamePrefix          string        // advertised name prefix to scan for
	Address             string        // connect directly, skipping the scan
	ScanTimeout         time.Duration // how long to scan when Address is empty
	BatteryPollInterval time.Duration // recurring battery query (default 30s)
	SyncClockOnConnect  bool          // run the clock handshake during initialization
	ClockSettleDelay    time.Duration // pause between SET_CLOCK and SET_RTC (default 2s)
	MetadataTimeout     time.Duration // per-packet wait during history download, 0 disables
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		NamePrefix:          DefaultNamePrefix,
		ScanTimeout:         10 * time.Second,
		BatteryPollInterval: 30 * time.Second,
		ClockSettleDelay:    2 * time.Second,
	}
}

// Client manages the BLE connection to a WHOOP strap.
type Client struct {
	adapter  Adapter
	observer Observer
	opts     ClientOptions
	now      func() time.Time

	mu    sync.Mutex
	state State
	sess  *session

	meta       *queue.Queue[protocol.Packet]
	dispatcher *Dispatcher

	xferMu    sync.Mutex
	xfer      *transfer
	xferState TransferState
}

// NewClient creates a client that reports to observer. A nil observer
// discards every callback.
func NewClient(adapter Adapter, observer Observer, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.NamePrefix == "" {
		opts.NamePrefix = def.NamePrefix
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.BatteryPollInterval <= 0 {
		opts.BatteryPollInterval = def.BatteryPollInterval
	}
	if opts.ClockSettleDelay < 0 {
		opts.ClockSettleDelay = 0
	}
	if observer == nil {
		observer = NopObserver{}
	}

	c := &Client{
		adapter:  adapter,
		observer: observer,
		opts:     opts,
		now:      time.Now,
		meta:     queue.New[protocol.Packet](),
	}
	c.dispatcher = NewDispatcher(observer, c.meta, c.writeBulk)
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DeviceInfo returns a snapshot of what the strap has reported.
func (c *Client) DeviceInfo() DeviceInfo {
	return c.dispatcher.DeviceInfo()
}

// SessionID returns the id of the current session, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	slog.Debug("[BLE] state", "from", prev, "to", s)
}

// current returns the live session, or ErrNotConnected.
func (c *Client) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.sess == nil {
		return nil, fmt.Errorf("%w (state %s)", ErrNotConnected, c.state)
	}
	return c.sess, nil
}

// Connect acquires the link, subscribes to the strap's notifications and
// runs the initial queries. On failure the client is left Disconnected and
// OnConnectFailure is called once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, st)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sess, err := c.establish(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		slog.Error("[BLE] connect failed", "error", err)
		c.observer.OnConnectFailure(err)
		return err
	}

	slog.Info("[BLE] connected", "session", sess.id)
	c.observer.OnConnect()

	c.mu.Lock()
	sess.announced = true
	pending := sess.pendingDisconnect
	c.mu.Unlock()
	if pending {
		c.observer.OnDisconnect()
	}
	return nil
}

func (c *Client) establish(ctx context.Context) (*session, error) {
	if err := c.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	address := c.opts.Address
	if address == "" {
		dev, err := c.discover(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("[BLE] found strap", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
		address = dev.Address
	}

	conn, err := c.adapter.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}

	c.setState(StateInitializing)
	sess := newSession(conn)
	if err := c.initialize(ctx, sess); err != nil {
		sess.close()
		if derr := conn.Disconnect(); derr != nil {
			slog.Warn("[BLE] disconnect after failed init", "error", derr)
		}
		return nil, err
	}
	return sess, nil
}

// discover scans for the configured name prefix and picks the strongest signal.
func (c *Client) discover(ctx context.Context) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()

	devices, err := c.adapter.Scan(scanCtx, c.opts.NamePrefix)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	if ctx.Err() != nil {
		return Device{}, ctx.Err()
	}

	var best *Device
	for i := range devices {
		d := &devices[i]
		if !strings.HasPrefix(d.Name, c.opts.NamePrefix) {
			continue
		}
		if best == nil || d.RSSI > best.RSSI {
			best = d
		}
	}
	if best == nil {
		return Device{}, fmt.Errorf("%w: prefix %q", ErrDeviceNotFound, c.opts.NamePrefix)
	}
	return *best, nil
}

// initialize resolves and subscribes the characteristics, runs the initial
// queries and promotes the session to Connected.
func (c *Client) initialize(ctx context.Context, sess *session) error {
	cmdTo, err := sess.conn.DiscoverCharacteristic(ServiceUUID, CmdToStrapUUID)
	if err != nil {
		return fmt.Errorf("ble: discover cmd-to-strap characteristic: %w", err)
	}

	inbound := []struct {
		uuid string
		ch   Channel
	}{
		{CmdFromStrapUUID, ChannelCommand},
		{EventsFromStrapUUID, ChannelEvents},
		{DataFromStrapUUID, ChannelData},
	}
	for _, in := range inbound {
		char, err := sess.conn.DiscoverCharacteristic(ServiceUUID, in.uuid)
		if err != nil {
			return fmt.Errorf("ble: discover %s characteristic: %w", in.ch, err)
		}
		if !char.CanNotify() {
			return fmt.Errorf("%w: %s", ErrNotificationUnsupported, in.ch)
		}
		ch := in.ch
		if err := char.Subscribe(func(data []byte) { c.dispatcher.Dispatch(ch, data) }); err != nil {
			return fmt.Errorf("ble: subscribe %s: %w", ch, err)
		}
	}

	sess.writeMu.Lock()
	sess.cmdTo = cmdTo
	sess.writeMu.Unlock()

	sess.conn.OnDisconnect(func() { c.handleLinkLoss(sess) })

	for _, cmd := range []protocol.Command{
		protocol.CmdGetBatteryLevel,
		protocol.CmdReportVersionInfo,
		protocol.CmdGetHelloHarvard,
	} {
		if err := sess.command(cmd, []byte{0}); err != nil {
			return err
		}
	}

	if c.opts.SyncClockOnConnect {
		if err := c.syncClock(ctx, sess); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if sess.ctx.Err() != nil {
		c.mu.Unlock()
		return fmt.Errorf("ble: link lost during initialization: %w", ErrSessionClosed)
	}
	c.sess = sess
	c.state = StateConnected
	go c.pollBattery(sess)
	c.mu.Unlock()
	return nil
}

// pollBattery queries the battery level until the session ends.
func (c *Client) pollBattery(sess *session) {
	ticker := time.NewTicker(c.opts.BatteryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if err := sess.command(protocol.CmdGetBatteryLevel, []byte{0}); err != nil {
				if sess.ctx.Err() != nil {
					return
				}
				slog.Warn("[BLE] battery poll failed", "error", err)
				c.observer.OnError(err)
			}
		}
	}
}

// Disconnect tears down the session. Disconnecting an already disconnected
// client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateConnected:
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("ble: cannot disconnect while %s", st)
	}
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnecting
	c.mu.Unlock()

	sess.close()
	err := sess.conn.Disconnect()
	c.setState(StateDisconnected)

	slog.Info("[BLE] disconnected", "session", sess.id)
	c.notifyDisconnect(sess)
	if err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

// handleLinkLoss runs when the transport reports a dropped link. It is a
// no-op for sessions that were already torn down or never promoted.
func (c *Client) handleLinkLoss(sess *session) {
	sess.cancel()

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.state = StateDisconnecting
	c.mu.Unlock()

	slog.Warn("[BLE] link lost", "session", sess.id)
	sess.close()
	c.setState(StateDisconnected)
	c.notifyDisconnect(sess)
}

// notifyDisconnect delivers OnDisconnect for sess, or defers it to Connect
// when OnConnect has not been delivered yet.
func (c *Client) notifyDisconnect(sess *session) {
	c.mu.Lock()
	if !sess.announced {
		sess.pendingDisconnect = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.observer.OnDisconnect()
}

// ToggleRealtime flips realtime heart rate streaming and returns the new
// setting. The flag flips even if the write fails.
func (c *Client) ToggleRealtime() (bool, error) {
	sess, err := c.current()
	if err != nil {
		return false, err
	}
	enabled := sess.toggleRealtime()
	c.dispatcher.setRealtime(enabled)

	var flag byte
	if enabled {
		flag = 1
	}
	slog.Info("[BLE] realtime heart rate", "enabled", enabled)
	return enabled, sess.command(protocol.CmdToggleRealtimeHR, []byte{flag})
}

func (c *Client) simple(cmd protocol.Command) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return sess.command(cmd, []byte{0})
}

// RequestBattery asks for the battery level; the answer arrives via OnBattery.
func (c *Client) RequestBattery() error { return c.simple(protocol.CmdGetBatteryLevel) }

// RequestVersion asks for firmware versions; the answer arrives via OnVersion.
func (c *Client) RequestVersion() error { return c.simple(protocol.CmdReportVersionInfo) }

// RequestHello asks for charging and wrist state.
func (c *Client) RequestHello() error { return c.simple(protocol.CmdGetHelloHarvard) }

// RequestClock asks for the device clock; the answer arrives via OnClock.
func (c *Client) RequestClock() error { return c.simple(protocol.CmdGetClock) }

// Reboot restarts the strap. The link drops shortly after.
func (c *Client) Reboot() error { return c.simple(protocol.CmdRebootStrap) }

// AbortHistory tells the strap to stop any historical transmission.
func (c *Client) AbortHistory() error { return c.simple(protocol.CmdAbortHistoricalTransmits) }

// Reconnect calls Connect until it succeeds or ctx is done, backing off
// exponentially between attempts up to maxBackoff.
func (c *Client) Reconnect(ctx context.Context, maxBackoff time.Duration) error {
	for attempt := 0; ; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := BackoffDelay(attempt-1, maxBackoff)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}

		err := c.Connect(ctx)
		if err == nil {
			slog.Info("[BLE] reconnected", "attempt", attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAlreadyConnected) {
			return err
		}
		slog.Warn("[BLE] reconnect failed", "error", err, "attempt", attempt+1)
	}
}

// BackoffDelay returns the reconnection delay for attempt n, capped at max.
func BackoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// sleepCtx waits for d or until one of the contexts is done.
func sleepCtx(ctx context.Context, d time.Duration, more ...context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	var extra <-chan struct{}
	if len(more) > 0 {
		extra = more[0].Done()
	}
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-extra:
		return ErrSessionClosed
	}
}
