package call

import (
	"context"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/logger"
)

// Answer picks up a ringing channel on behalf of a device. For a plain
// inbound channel the device becomes the owner and a media path is brought
// up; for an answered forward leg the backend bridges the leg into its
// parent call and the parent reference is dropped.
func (core *Core) Answer(ctx context.Context, deviceID string, callID uint32) error {
	c, err := core.FindChannel(callID)
	if err != nil {
		return err
	}
	defer c.Release()
	d, err := core.FindDevice(deviceID)
	if err != nil {
		return err
	}
	defer d.Release()

	if d.RegistrationState() != RegistrationOK {
		return &StateError{CallID: callID, State: c.State(), Op: "answer",
			Cause: ErrNoSession}
	}

	if parent := c.Parent(); parent != nil {
		defer parent.Release()
		return core.answerForward(ctx, c, parent)
	}

	if err := c.transition(ctx, eventAnswer); err != nil {
		return err
	}
	// Timers armed during fan-out must not fire into a connected call.
	c.cancelTimers()

	if owner := c.Device(); owner != nil {
		owner.Release()
	} else if err := c.setDevice(d); err != nil {
		return err
	}
	d.setActive(c)
	c.markAnswered()
	c.markMedia(true)

	core.indicate(d, c, backend.IndicationOffHook)
	core.indicate(d, c, backend.IndicationConnected)

	logger.Info("[Answer] call answered",
		"call", callID, "device", deviceID, "line", c.LineName())
	core.pub.PublishAsync(core.builder.Call(events.CallAnswered, callID).
		Line(c.LineName()).
		Device(deviceID).
		CallType(c.Type().String()).
		Build())
	return nil
}

// answerForward runs when the destination of a forward leg answers. Whatever
// the bridge outcome, the parent reference is dropped exactly once here;
// teardown is the fallback for legs that never get answered.
func (core *Core) answerForward(ctx context.Context, c, parent *Channel) error {
	err := core.adapter.AnswerBridge(ctx, c, parent)
	c.releaseParentOnce()
	if err != nil {
		logger.Error("[Answer] bridge to parent failed",
			"call", c.CallID(), "parent", parent.CallID(), "error", err)
		if herr := core.endCall(ctx, c); herr != nil {
			logger.Error("[Answer] teardown after failed bridge failed",
				"call", c.CallID(), "error", herr)
		}
		return err
	}
	if terr := c.transition(ctx, eventProceed); terr != nil {
		return terr
	}
	c.markAnswered()
	parent.markAnswered()

	logger.Info("[Answer] forward leg bridged",
		"call", c.CallID(), "parent", parent.CallID())
	core.pub.PublishAsync(core.builder.Call(events.CallBridged, c.CallID()).
		Line(c.LineName()).
		CallType(c.Type().String()).
		Parent(parent.CallID()).
		Build())
	return nil
}

// RemoteAnswered reports that the far side of an outbound channel answered.
func (core *Core) RemoteAnswered(ctx context.Context, callID uint32) error {
	c, err := core.FindChannel(callID)
	if err != nil {
		return err
	}
	defer c.Release()

	if parent := c.Parent(); parent != nil {
		defer parent.Release()
		return core.answerForward(ctx, c, parent)
	}

	if err := c.transition(ctx, eventProceed); err != nil {
		return err
	}
	c.markAnswered()
	c.markMedia(true)

	if d := c.Device(); d != nil {
		core.indicate(d, c, backend.IndicationConnected)
		d.Release()
	}
	logger.Info("[Answer] remote answered", "call", callID, "line", c.LineName())
	core.pub.PublishAsync(core.builder.Call(events.CallAnswered, callID).
		Line(c.LineName()).
		CallType(c.Type().String()).
		Build())
	return nil
}
