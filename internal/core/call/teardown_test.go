package call

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHangupNotifiesAndReleases(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")
	ctx := context.Background()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	callID := c.CallID()
	_, err = core.RouteInbound(ctx, c)
	require.NoError(t, err)
	require.NoError(t, core.Answer(ctx, "devA", callID))

	require.NoError(t, core.Hangup(ctx, callID))
	assert.True(t, fa.hasIndication(entry("devA", "OnHook", callID)))
	assert.Contains(t, fa.releasedCalls(), callID)

	// The owner device is idle again.
	d, err := core.FindDevice("devA")
	require.NoError(t, err)
	assert.Nil(t, d.ActiveChannel())
	s := d.sessionRef()
	require.NotNil(t, s)
	assert.True(t, s.TakeRingbackCheck(), "teardown must flag a ringback pass")
	d.Release()

	// Our handle is the last one; dropping it destroys the channel.
	assert.Equal(t, StateTeardown, c.State())
	gone, err := c.Release()
	require.NoError(t, err)
	assert.True(t, gone)
	_, err = core.FindChannel(callID)
	assert.Error(t, err)
}

func TestDoubleHangupIsNoOp(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")
	ctx := context.Background()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	callID := c.CallID()
	_, err = core.RouteInbound(ctx, c)
	require.NoError(t, err)

	require.NoError(t, core.Hangup(ctx, callID))
	require.NoError(t, core.Hangup(ctx, callID))
	c.Release()
}

func TestReleaseOfLiveChannelIsRejected(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, core.Hangup(context.Background(), c.CallID()))
		c.Release()
	}()

	// Detach the line's reference so ours is the last: the guard must keep
	// the channel alive instead of destroying a live call.
	c.Line().detachChannel(c)
	gone, err := c.Release()
	assert.ErrorIs(t, err, ErrNotTerminal)
	assert.False(t, gone)
	require.NoError(t, c.Line().attachChannel(c))
}

func TestHangupCascadesToForwardLegs(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA", "devC")
	ctx := context.Background()

	require.NoError(t, core.SetForward("100", "devA", true, "3000"))

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	callID := c.CallID()
	_, err = core.RouteInbound(ctx, c)
	require.NoError(t, err)

	forwardLeg, ok := fa.dialFor("3000")
	require.True(t, ok)

	require.NoError(t, core.Hangup(ctx, callID))
	c.Release()

	_, err = core.FindChannel(forwardLeg)
	assert.Error(t, err, "forward leg must die with its parent")
	assert.Contains(t, fa.releasedCalls(), forwardLeg)
	assert.Equal(t, 0, core.ActiveCalls())
}

func TestConcurrentParentChildHangup(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA", "devC")
	ctx := context.Background()

	// Two forwarded children on the same parent.
	require.NoError(t, core.SetForward("100", "devA", true, "3000"))
	require.NoError(t, core.SetForward("100", "devC", true, "4000"))

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	callID := c.CallID()
	_, err = core.RouteInbound(ctx, c)
	require.NoError(t, err)
	c.Release()

	firstLeg, ok := fa.dialFor("3000")
	require.True(t, ok)
	secondLeg, ok := fa.dialFor("4000")
	require.True(t, ok)

	// Parent and one child hung up from separate goroutines must not
	// deadlock, and every leg must reach teardown.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		core.Hangup(ctx, callID)
	}()
	go func() {
		defer wg.Done()
		core.Hangup(ctx, firstLeg)
	}()
	wg.Wait()

	assert.Equal(t, 0, core.ActiveCalls())
	for _, id := range []uint32{callID, firstLeg, secondLeg} {
		_, err := core.FindChannel(id)
		assert.Error(t, err, "call %d still alive", id)
	}
}

func TestUnregisterEndsActiveCall(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")
	ctx := context.Background()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	callID := c.CallID()
	_, err = core.RouteInbound(ctx, c)
	require.NoError(t, err)
	require.NoError(t, core.Answer(ctx, "devA", callID))
	c.Release()

	require.NoError(t, core.UnregisterDevice(ctx, "devA"))
	_, err = core.FindChannel(callID)
	assert.Error(t, err)
	// The device went away first, so no on-hook indication is sent to it.
	assert.False(t, fa.hasIndication(entry("devA", "OnHook", callID)))
}
