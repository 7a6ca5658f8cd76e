package call

import (
	"context"
	"time"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/logger"
)

// ActionHandler completes digit collection for one softswitch action.
// Handlers run outside all structural locks and own the channel's next
// state.
type ActionHandler func(ctx context.Context, core *Core, c *Channel, d *Device, extension string) error

// actionHandlers dispatches by the channel's softswitch action. ActionDial
// is the fallback for unknown actions.
var actionHandlers = map[SoftswitchAction]ActionHandler{
	ActionDial:                   handleDial,
	ActionGetForwardExtension:    handleForwardExtension,
	ActionGetPickupExtension:     featureHandler(backend.FeaturePickup),
	ActionGetBargeExtension:      featureHandler(backend.FeatureBarge),
	ActionGetConferenceBargeRoom: featureHandler(backend.FeatureConferenceBarge),
	ActionGetMeetmeRoom:          handleMeetme,
}

// softswitch ends digit collection and dispatches the collected buffer. The
// channel must still be owned by a device; a call whose endpoint vanished is
// torn down instead.
func (core *Core) softswitch(ctx context.Context, c *Channel) error {
	d := c.Device()
	if d == nil {
		logger.Warn("[Softswitch] no owner device, ending call", "call", c.CallID())
		if err := core.endCall(ctx, c); err != nil {
			return err
		}
		return ErrNoSession
	}
	defer d.Release()

	extension, terminated := core.collectedExtension(c)
	action := c.Action()
	logger.Debug("[Softswitch] dispatching",
		"call", c.CallID(), "action", action.String(),
		"extension", extension, "terminated", terminated)

	handler, ok := actionHandlers[action]
	if !ok {
		handler = handleDial
	}
	return handler(ctx, core, c, d, extension)
}

// handleDial pushes the collected extension into the backend dial plan.
func handleDial(ctx context.Context, core *Core, c *Channel, d *Device, extension string) error {
	if extension == "" {
		logger.Info("[Softswitch] nothing dialed, ending call", "call", c.CallID())
		return core.endCall(ctx, c)
	}
	if d.Privacy {
		c.setPrivacy(true)
	}
	d.setLastDialed(extension)
	c.setCalledParty(PartyInfo{Number: extension})

	if err := c.transition(ctx, eventDial); err != nil {
		return err
	}
	core.indicate(d, c, backend.IndicationDialing)
	core.indicate(d, c, backend.IndicationProceed)

	res := core.startDialTimed(ctx, c, extension)
	switch res {
	case backend.DialStarted:
		c.markMedia(true)
		core.pub.PublishAsync(core.builder.Call(events.CallDialing, c.CallID()).
			Line(c.LineName()).
			Device(d.ID()).
			CallType(c.Type().String()).
			DialedNumber(extension).
			Build())
		return nil
	case backend.DialConcurrencyLimited:
		core.indicate(d, c, backend.IndicationCongestion)
		core.metrics.CallOutcome(StateCongestion)
		if err := c.transition(ctx, eventRejectCongestion); err != nil {
			return err
		}
	default:
		core.indicate(d, c, backend.IndicationInvalidNumber)
		core.metrics.CallOutcome(StateInvalidNumber)
		if err := c.transition(ctx, eventRejectInvalid); err != nil {
			return err
		}
	}
	// The failed attempt is parked until the endpoint goes on-hook; the
	// terminal state lets that hangup release the channel.
	return &DialError{CallID: c.CallID(), Number: extension, Result: res.String()}
}

// handleForwardExtension stores the collected digits as the forward-all
// destination of the appearance the call was placed on, then ends the
// collection call.
func handleForwardExtension(ctx context.Context, core *Core, c *Channel, d *Device, extension string) error {
	if extension != "" {
		if err := core.SetForward(c.LineName(), d.ID(), true, extension); err != nil {
			logger.Warn("[Softswitch] forward-all update failed",
				"call", c.CallID(), "error", err)
		}
	}
	return core.endCall(ctx, c)
}

// featureHandler builds the handler for pickup and barge style actions: the
// extension is handed to the backend as-is, never matched against the dial
// plan.
func featureHandler(f backend.Feature) ActionHandler {
	return func(ctx context.Context, core *Core, c *Channel, d *Device, extension string) error {
		if extension == "" {
			logger.Info("[Softswitch] empty feature target, ending call",
				"call", c.CallID(), "feature", f.String())
			return core.endCall(ctx, c)
		}
		core.indicate(d, c, backend.IndicationDialing)
		core.indicate(d, c, backend.IndicationProceed)
		if err := c.transition(ctx, eventDial); err != nil {
			return err
		}
		if err := core.adapter.RequestFeature(ctx, c, f, extension); err != nil {
			logger.Warn("[Softswitch] feature request failed",
				"call", c.CallID(), "feature", f.String(), "target", extension, "error", err)
			core.indicate(d, c, backend.IndicationInvalidNumber)
			return err
		}
		c.markMedia(true)
		return nil
	}
}

// handleMeetme joins the collected room number through the line's meetme
// extension. Lines without one cannot host conferences.
func handleMeetme(ctx context.Context, core *Core, c *Channel, d *Device, room string) error {
	if room == "" || c.Line().MeetmeNum == "" {
		logger.Info("[Softswitch] meetme unavailable, ending call",
			"call", c.CallID(), "room", room, "meetme_num", c.Line().MeetmeNum)
		return core.endCall(ctx, c)
	}
	core.indicate(d, c, backend.IndicationDialing)
	core.indicate(d, c, backend.IndicationProceed)
	if err := c.transition(ctx, eventDial); err != nil {
		return err
	}
	if err := core.adapter.RequestFeature(ctx, c, backend.FeatureMeetme, room); err != nil {
		logger.Warn("[Softswitch] meetme join failed",
			"call", c.CallID(), "room", room, "error", err)
		core.indicate(d, c, backend.IndicationInvalidNumber)
		return err
	}
	c.markMedia(true)
	return nil
}

// startDialTimed wraps the backend dial-start with latency observation.
func (core *Core) startDialTimed(ctx context.Context, c *Channel, extension string) backend.DialResult {
	start := time.Now()
	res := core.adapter.StartDial(ctx, c, extension)
	core.metrics.ObserveDial(time.Since(start).Seconds())
	logger.Debug("[Softswitch] dial start",
		"call", c.CallID(), "extension", extension,
		"result", res.String(), "took", time.Since(start))
	return res
}
