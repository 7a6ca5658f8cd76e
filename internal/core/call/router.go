package call

import (
	"context"
	"fmt"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/logger"
)

// Outcome is the aggregate result of one inbound fan-out pass. Exactly one
// outcome is reported per pass.
type Outcome int

const (
	// OutcomeRinging means at least one endpoint is ringing, was told about
	// call waiting, or had the call redirected by forward-all.
	OutcomeRinging Outcome = iota
	// OutcomeBusy means no endpoint rang and at least one rejected via DND,
	// or the line is at its inbound limit.
	OutcomeBusy
	// OutcomeCongestion means no endpoint could take the call at all.
	OutcomeCongestion
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRinging:
		return "ringing"
	case OutcomeBusy:
		return "busy"
	case OutcomeCongestion:
		return "congestion"
	default:
		return fmt.Sprintf("Unknown(%d)", int(o))
	}
}

// maxShapedNumber bounds caller number length after suffix shaping.
const maxShapedNumber = 253

// RouteInbound runs the fan-out pass for an inbound channel: it walks the
// line's bindings in subscription order and decides, per device, whether to
// redirect (forward-all), ring, announce call waiting, or skip.
//
// Bindings are snapshotted and retained first; every backend interaction
// happens after the line locks are dropped.
func (core *Core) RouteInbound(ctx context.Context, c *Channel) (Outcome, error) {
	if c.Type() != CallTypeInbound {
		return OutcomeCongestion, &StateError{CallID: c.CallID(), State: c.State(), Op: "route inbound"}
	}
	l := c.Line()
	if err := l.Retain(); err != nil {
		return OutcomeCongestion, err
	}
	defer l.Release()

	// Admission comes before any per-device work. The channel being routed
	// is already attached to the line, so the count includes it. A limit of
	// zero therefore rejects every inbound call.
	if l.ChannelCount() > l.IncomingLimit {
		logger.Info("[Router] line at inbound limit",
			"call", c.CallID(), "line", l.Name, "limit", l.IncomingLimit)
		return core.rejectInbound(ctx, c, l, OutcomeBusy)
	}
	if !l.hasLiveSubscriber() {
		logger.Info("[Router] no live subscriber", "call", c.CallID(), "line", l.Name)
		return core.rejectInbound(ctx, c, l, OutcomeCongestion)
	}

	core.shapeCallerNumber(c)

	var ringing, dndSeen bool
	requested := c.RequestedSubscription()
	for _, ld := range l.Bindings() {
		rang, dnd := core.routeBinding(ctx, c, ld, requested)
		ringing = ringing || rang
		dndSeen = dndSeen || dnd
		ld.Release()
	}

	if !ringing {
		outcome := OutcomeCongestion
		if dndSeen {
			outcome = OutcomeBusy
		}
		return core.rejectInbound(ctx, c, l, outcome)
	}

	if err := c.transition(ctx, eventRing); err != nil {
		return OutcomeCongestion, err
	}
	c.markRinging()
	core.adapter.QueueControl(c, backend.ControlRinging)
	core.metrics.CallOutcome(OutcomeRinging.String())
	core.pub.PublishAsync(core.builder.Call(events.CallRinging, c.CallID()).
		Line(l.Name).
		CallType(c.Type().String()).
		Outcome(OutcomeRinging.String()).
		Build())
	return OutcomeRinging, nil
}

// routeBinding applies the fan-out decision ladder to one binding. Returns
// whether the binding contributed ringing and whether it rejected via DND.
func (core *Core) routeBinding(ctx context.Context, c *Channel, ld *LineDevice, requested string) (rang, dnd bool) {
	d := ld.Device

	// Forward-all wins over everything, including DND and dead sessions,
	// and the device never rings locally even when the redirect fails.
	if fwd := ld.ForwardAll(); fwd.Enabled {
		if err := core.forwardCall(ctx, c, ld, fwd.Number); err != nil {
			logger.Warn("[Router] forward failed",
				"call", c.CallID(), "device", d.ID(), "destination", fwd.Number, "error", err)
			return false, false
		}
		core.indicate(d, c, backend.IndicationForwarded)
		return true, false
	}

	if !d.hasLiveSession() {
		logger.Debug("[Router] skipping device without session",
			"call", c.CallID(), "device", d.ID())
		return false, false
	}
	if !matchSubscription(requested, ld.Subscription.Number) {
		logger.Debug("[Router] subscription mismatch",
			"call", c.CallID(), "device", d.ID(),
			"requested", requested, "bound", ld.Subscription.Number)
		return false, false
	}

	// A device already in a call gets call waiting, regardless of DND.
	if active := d.ActiveChannel(); active != nil {
		if active != c {
			core.indicate(d, c, backend.IndicationCallWaiting)
			active.Release()
			return true, false
		}
		active.Release()
	}

	if d.DND() == DNDReject {
		logger.Debug("[Router] device rejects via dnd",
			"call", c.CallID(), "device", d.ID())
		return false, true
	}

	ring := backend.IndicationRinging
	if d.DND() == DNDSilent {
		ring = backend.IndicationRingingSilent
	}
	core.indicate(d, c, ring)
	if c.AutoAnswer() != AutoAnswerOff || ld.AutoAnswer {
		core.scheduleAutoAnswer(c, ld)
	}
	return true, false
}

// rejectInbound finishes a fan-out pass that rang nobody.
func (core *Core) rejectInbound(ctx context.Context, c *Channel, l *Line, outcome Outcome) (Outcome, error) {
	sig := backend.ControlCongestion
	if outcome == OutcomeBusy {
		sig = backend.ControlBusy
	}
	core.adapter.QueueControl(c, sig)
	core.metrics.CallOutcome(outcome.String())
	core.pub.PublishAsync(core.builder.Call(events.CallRejected, c.CallID()).
		Line(l.Name).
		CallType(c.Type().String()).
		Outcome(outcome.String()).
		Build())
	return outcome, nil
}

// shapeCallerNumber appends the digit-timeout character to the caller number
// when it is being recorded and the number starts with the suffix marker, so
// redial of the stored number dials out immediately.
func (core *Core) shapeCallerNumber(c *Channel) {
	caller := c.CallingParty()
	if core.cfg.RecordDigitTimeoutChar &&
		caller.Number != "" &&
		caller.Number[0] == core.cfg.SuffixMarker &&
		len(caller.Number) < maxShapedNumber {
		caller.Number += string(core.cfg.DigitTimeoutChar)
		c.setCallingParty(caller)
	}
}

// forwardCall spawns a forward leg for a binding with forward-all enabled.
// The child retains its parent until either the bridge completes or the
// child is torn down.
func (core *Core) forwardCall(ctx context.Context, parent *Channel, ld *LineDevice, destination string) error {
	if destination == "" {
		return &DialError{CallID: parent.CallID(), Number: destination, Result: "empty destination"}
	}
	l := parent.Line()
	if err := l.Retain(); err != nil {
		return err
	}
	child, err := core.allocateChannel(l, CallTypeForward)
	if err != nil {
		return err
	}
	if err := child.setParent(parent); err != nil {
		core.abortAllocation(child)
		return err
	}
	child.setDialedNumber(destination)
	child.setCallingParty(parent.CallingParty())
	child.setCalledParty(PartyInfo{Number: destination})

	if err := child.transition(ctx, eventDial); err != nil {
		core.abortAllocation(child)
		return err
	}
	res := core.startDialTimed(ctx, child, destination)
	if res != backend.DialStarted {
		derr := &DialError{CallID: child.CallID(), Number: destination, Result: res.String()}
		if err := core.endCall(ctx, child); err != nil {
			logger.Error("[Router] teardown of failed forward leg failed",
				"call", child.CallID(), "error", err)
		}
		child.Release()
		return derr
	}
	child.markMedia(true)

	core.pub.PublishAsync(core.builder.Call(events.CallForwarded, child.CallID()).
		Line(l.Name).
		Device(ld.Device.ID()).
		CallType(CallTypeForward.String()).
		Parent(parent.CallID()).
		DialedNumber(destination).
		Build())
	logger.Info("[Router] call forwarded",
		"call", parent.CallID(), "forward_leg", child.CallID(),
		"device", ld.Device.ID(), "destination", destination)

	// The creator reference is dropped here; the line list keeps the leg
	// alive and teardown of either side cleans it up.
	if _, err := child.Release(); err != nil {
		logger.Error("[Router] forward leg release failed", "call", child.CallID(), "error", err)
	}
	return nil
}

// scheduleAutoAnswer arms the auto-answer timer for one ringing binding. The
// callback re-resolves both channel and device by identifier: either may be
// gone by the time the timer fires.
func (core *Core) scheduleAutoAnswer(c *Channel, ld *LineDevice) {
	if err := ld.Retain(); err != nil {
		return
	}
	callID := c.CallID()
	deviceID := ld.Device.ID()
	t := core.sched.Schedule(core.cfg.AutoAnswerRingTime, func() {
		defer ld.Release()
		core.metrics.TimerFire("auto_answer")
		core.autoAnswerFire(callID, deviceID)
	})
	if t == nil {
		ld.Release()
		return
	}
	c.addAutoAnswerTimer(t)
	logger.Debug("[Router] auto-answer armed",
		"call", callID, "device", deviceID, "delay", core.cfg.AutoAnswerRingTime)
}

// autoAnswerFire runs on the scheduler pool when an auto-answer timer
// expires. A channel that was hung up or already answered in the meantime
// makes this a no-op.
func (core *Core) autoAnswerFire(callID uint32, deviceID string) {
	ctx := context.Background()
	c, err := core.FindChannel(callID)
	if err != nil {
		logger.Debug("[Router] auto-answer fired for gone call", "call", callID)
		return
	}
	defer c.Release()

	if c.State() != StateRinging {
		logger.Debug("[Router] auto-answer fired in wrong state",
			"call", callID, "state", c.State())
		return
	}
	// The appearance may have been unbound while ringing.
	d, err := core.FindDevice(deviceID)
	if err != nil {
		return
	}
	ld := c.Line().findBinding(d)
	d.Release()
	if ld == nil {
		logger.Debug("[Router] auto-answer fired for unbound device",
			"call", callID, "device", deviceID)
		return
	}
	ld.Release()
	if err := core.Answer(ctx, deviceID, callID); err != nil {
		logger.Warn("[Router] auto-answer failed",
			"call", callID, "device", deviceID, "error", err)
	}
}

// indicate pushes an indication and counts it.
func (core *Core) indicate(d *Device, c *Channel, ind backend.Indication) {
	core.adapter.Indicate(d, c, ind)
	core.metrics.Indication(ind.String())
}
