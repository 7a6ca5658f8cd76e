package call

import (
	"context"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/logger"
)

// Hangup ends a call by identifier.
func (core *Core) Hangup(ctx context.Context, callID uint32) error {
	c, err := core.FindChannel(callID)
	if err != nil {
		return err
	}
	err = core.endCall(ctx, c)
	if _, rerr := c.Release(); rerr != nil {
		logger.Error("[Teardown] hangup release failed", "call", callID, "error", rerr)
	}
	return err
}

// endCall tears a channel down in a fixed order: timers first, then media,
// then forward legs, then structural unlinking, then device notification,
// and finally the state transition that permits destruction. Concurrent or
// repeated hangups of the same channel are no-ops after the first.
//
// The caller keeps its own channel reference; destruction happens when the
// last holder releases.
func (core *Core) endCall(ctx context.Context, c *Channel) error {
	if !c.beginTeardown() {
		return nil
	}
	logger.Debug("[Teardown] ending call",
		"call", c.CallID(), "line", c.LineName(), "state", c.State())

	// 1. No timer may fire into a dying call.
	c.cancelTimers()

	// 2. Media goes before any structural unlinking.
	if c.hasMedia() {
		core.adapter.ReleaseMedia(c)
		c.markMedia(false)
	}

	// 3. Forward legs spawned for this call die with it.
	for _, child := range c.Line().forwardChildren(c) {
		if err := core.endCall(ctx, child); err != nil {
			logger.Error("[Teardown] forward leg teardown failed",
				"call", c.CallID(), "forward_leg", child.CallID(), "error", err)
			core.metrics.TeardownError()
		}
		if _, err := child.Release(); err != nil {
			logger.Error("[Teardown] forward leg release failed",
				"call", c.CallID(), "forward_leg", child.CallID(), "error", err)
		}
	}

	// A forward leg dying unanswered still owes its parent a release.
	c.releaseParentOnce()

	// 4. Off the line's live list.
	c.Line().detachChannel(c)

	// 5. Tell the endpoints.
	core.notifyHangup(c)

	// 6. Terminal state, then bookkeeping.
	c.markEnded()
	if err := c.transition(ctx, eventHangup); err != nil {
		core.metrics.TeardownError()
		return err
	}
	ring, talk := c.durations()
	core.pub.PublishAsync(core.builder.Call(events.CallEnded, c.CallID()).
		Line(c.LineName()).
		CallType(c.Type().String()).
		DialedNumber(c.DialedNumber()).
		Durations(ring, talk).
		Build())
	logger.Info("[Teardown] call ended",
		"call", c.CallID(), "line", c.LineName(),
		"ring", ring, "talk", talk)
	return nil
}

// notifyHangup delivers on-hook to whoever was involved: the owner device if
// one picked the call, otherwise every registered device the call was
// ringing on. Devices that are not registered are skipped.
func (core *Core) notifyHangup(c *Channel) {
	d := c.Device()
	if d == nil {
		for _, ld := range c.Line().Bindings() {
			if ld.Device.RegistrationState() == RegistrationOK {
				core.indicate(ld.Device, c, backend.IndicationOnHook)
			}
			ld.Release()
		}
		return
	}
	defer d.Release()

	if d.RegistrationState() != RegistrationOK {
		logger.Debug("[Teardown] owner not registered, skipping on-hook",
			"call", c.CallID(), "device", d.ID())
		d.clearActiveIf(c)
		return
	}
	core.indicate(d, c, backend.IndicationOnHook)
	if s := d.sessionRef(); s != nil {
		// The endpoint may have another call still ringing behind the one
		// that just ended; flag it for a ringback pass.
		s.MarkRingbackCheck()
	}
	d.clearActiveIf(c)
}
