package ble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/strapctl/internal/ble/protocol"
)

// SyncClock sets the strap clock to the host's local time. The strap's
// answer to SET_CLOCK is reported via OnClock, or OnError on rejection.
func (c *Client) SyncClock(ctx context.Context) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	return c.syncClock(ctx, sess)
}

// syncClock runs SET_CLOCK, waits for the strap to apply it, then commits
// it with SET_RTC and reads it back with GET_CLOCK.
func (c *Client) syncClock(ctx context.Context, sess *session) error {
	now := c.now()
	if err := sess.command(protocol.CmdSetClock, protocol.ClockPayload(now)); err != nil {
		return err
	}
	slog.Info("[BLE] clock set requested", "unix", now.Unix(), "zone", now.Location().String())

	if err := sleepCtx(ctx, c.opts.ClockSettleDelay, sess.ctx); err != nil {
		return fmt.Errorf("ble: clock sync interrupted: %w", err)
	}

	if _, err := sess.send(protocol.TypeEvent, uint8(protocol.EventSetRTC), []byte{1}); err != nil {
		return fmt.Errorf("ble: %s: %w", protocol.EventSetRTC, err)
	}
	return sess.command(protocol.CmdGetClock, []byte{0})
}
