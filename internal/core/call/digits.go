package call

import (
	"context"

	"github.com/sebas/crossbar/internal/logger"
)

// Digit feeds one collected digit into an outbound channel. The dialed
// buffer grows, the inter-digit timer is re-armed, and the digit-timeout
// character dispatches the softswitch immediately.
func (core *Core) Digit(ctx context.Context, callID uint32, digit byte) error {
	c, err := core.FindChannel(callID)
	if err != nil {
		return err
	}
	defer c.Release()

	if c.Type() == CallTypeInbound {
		return &StateError{CallID: callID, State: c.State(), Op: "collect digit"}
	}
	if c.State() != StateCreated {
		return &StateError{CallID: callID, State: c.State(), Op: "collect digit"}
	}

	dialed := c.appendDigit(digit)
	logger.Debug("[Digits] digit collected", "call", callID, "dialed", dialed)

	if digit == core.cfg.DigitTimeoutChar {
		c.rearmDigitTimer(nil)
		return core.softswitch(ctx, c)
	}
	core.armDigitTimer(c)
	return nil
}

// Dial dispatches whatever has been collected so far without waiting for the
// inter-digit timeout.
func (core *Core) Dial(ctx context.Context, callID uint32) error {
	c, err := core.FindChannel(callID)
	if err != nil {
		return err
	}
	defer c.Release()
	if c.State() != StateCreated {
		return &StateError{CallID: callID, State: c.State(), Op: "dial"}
	}
	c.rearmDigitTimer(nil)
	return core.softswitch(ctx, c)
}

// armDigitTimer cancels any pending inter-digit timer and arms a fresh one.
// The fire path re-resolves the channel by identifier.
func (core *Core) armDigitTimer(c *Channel) {
	callID := c.CallID()
	t := core.sched.Schedule(core.cfg.DigitTimeout, func() {
		core.metrics.TimerFire("digit")
		core.digitTimerFire(callID)
	})
	if t == nil {
		return
	}
	c.rearmDigitTimer(t)
}

// digitTimerFire runs when the inter-digit timeout expires: whatever was
// collected is dialed. A channel hung up in the meantime makes this a no-op.
func (core *Core) digitTimerFire(callID uint32) {
	ctx := context.Background()
	c, err := core.FindChannel(callID)
	if err != nil {
		logger.Debug("[Digits] digit timer fired for gone call", "call", callID)
		return
	}
	defer c.Release()

	if c.State() != StateCreated {
		logger.Debug("[Digits] digit timer fired in wrong state",
			"call", callID, "state", c.State())
		return
	}
	if err := core.softswitch(ctx, c); err != nil {
		logger.Warn("[Digits] softswitch dispatch failed", "call", callID, "error", err)
	}
}

// collectedExtension splits the dialed buffer into the extension handed to
// the backend and whether it was terminated explicitly. The terminator never
// reaches the backend; it stays in the stored buffer only when configured
// for call-history recording.
func (core *Core) collectedExtension(c *Channel) (extension string, terminated bool) {
	dialed := c.DialedNumber()
	if n := len(dialed); n > 0 && dialed[n-1] == core.cfg.DigitTimeoutChar {
		terminated = true
		extension = dialed[:n-1]
		if !core.cfg.RecordDigitTimeoutChar {
			c.stripTrailing(core.cfg.DigitTimeoutChar)
		}
		return extension, true
	}
	return dialed, false
}
