package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/config"
)

func testCall() config.Call {
	cfg := config.DefaultCall()
	cfg.AutoAnswerRingTime = 25 * time.Millisecond
	cfg.DigitTimeout = 300 * time.Millisecond
	return cfg
}

// newTestCore builds a provisioned core with the given devices registered.
func newTestCore(t *testing.T, cfg config.Call, fa *fakeAdapter, register ...string) *Core {
	t.Helper()
	core := New(cfg, fa)
	require.NoError(t, core.Provision(testProvisioning(cfg)))
	for _, id := range register {
		_, err := core.RegisterDevice(id)
		require.NoError(t, err)
	}
	t.Cleanup(func() { core.Close(context.Background()) })
	return core
}

func TestRouteInboundRingsRegisteredDevices(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA", "devC")
	ctx := context.Background()

	c, err := core.NewInboundCall("100", PartyInfo{Name: "Alice", Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRinging, outcome)
	assert.Equal(t, StateRinging, c.State())

	assert.True(t, fa.hasIndication("devA/Ringing/1"))
	assert.True(t, fa.hasIndication("devC/Ringing/1"))
	// devB has no session and is skipped.
	assert.Empty(t, fa.indicationsTo("devB"))
	assert.Equal(t, "1/Ringing", fa.lastControl())
}

func TestRouteInboundDecisionLadder(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA", "devB", "devC")
	ctx := context.Background()

	// devA redirects via forward-all, devB is mid-call, devC is free.
	require.NoError(t, core.SetForward("100", "devA", true, "3000"))
	busy, err := core.NewOutboundCall("200", "devB")
	require.NoError(t, err)
	defer busy.Release()

	c, err := core.NewInboundCall("100", PartyInfo{Name: "Alice", Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRinging, outcome)

	callID := c.CallID()
	forwardLeg, ok := fa.dialFor("3000")
	require.True(t, ok, "forward destination was never dialed")
	assert.NotEqual(t, callID, forwardLeg)

	assert.True(t, fa.hasIndication(entry("devA", "Forwarded", callID)))
	assert.True(t, fa.hasIndication(entry("devB", "CallWaiting", callID)))
	assert.True(t, fa.hasIndication(entry("devC", "Ringing", callID)))
	// Nobody rings on devA itself: the redirect replaces its ring.
	assert.False(t, fa.hasIndication(entry("devA", "Ringing", callID)))

	// The forward leg carries the caller identity and links to its parent.
	child, err := core.FindChannel(forwardLeg)
	require.NoError(t, err)
	assert.Equal(t, "555", child.CallingParty().Number)
	parent := child.Parent()
	require.NotNil(t, parent)
	assert.Equal(t, callID, parent.CallID())
	parent.Release()
	child.Release()
}

func TestRouteInboundDNDRejectOnlyIsBusy(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")

	d, err := core.FindDevice("devA")
	require.NoError(t, err)
	d.SetDND(DNDReject)
	d.Release()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Equal(t, entry2(c.CallID(), "Busy"), fa.lastControl())
	assert.Empty(t, fa.indicationsTo("devA"))
	// The pass rang nobody, the channel never left created.
	assert.Equal(t, StateCreated, c.State())
}

func TestRouteInboundDNDSilentStillRings(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")

	d, err := core.FindDevice("devA")
	require.NoError(t, err)
	d.SetDND(DNDSilent)
	d.Release()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRinging, outcome)
	assert.True(t, fa.hasIndication(entry("devA", "RingingSilent", c.CallID())))
}

func TestRouteInboundNoSessionsIsCongestion(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa) // nobody registered

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCongestion, outcome)
	assert.Equal(t, entry2(c.CallID(), "Congestion"), fa.lastControl())
}

func TestRouteInboundAdmissionLimit(t *testing.T) {
	cfg := testCall()
	fa := newFakeAdapter()
	core := New(cfg, fa)
	prov := testProvisioning(cfg)
	prov.Lines[0].IncomingLimit = 1
	require.NoError(t, core.Provision(prov))
	_, err := core.RegisterDevice("devA")
	require.NoError(t, err)
	t.Cleanup(func() { core.Close(context.Background()) })
	ctx := context.Background()

	first, err := core.NewInboundCall("100", PartyInfo{Number: "111"})
	require.NoError(t, err)
	defer first.Release()
	outcome, err := core.RouteInbound(ctx, first)
	require.NoError(t, err)
	require.Equal(t, OutcomeRinging, outcome)

	second, err := core.NewInboundCall("100", PartyInfo{Number: "222"})
	require.NoError(t, err)
	defer second.Release()
	outcome, err = core.RouteInbound(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Equal(t, entry2(second.CallID(), "Busy"), fa.lastControl())
}

func TestRouteInboundZeroLimitRejectsAll(t *testing.T) {
	cfg := testCall()
	fa := newFakeAdapter()
	core := New(cfg, fa)
	prov := testProvisioning(cfg)
	prov.Lines[0].IncomingLimit = 0
	require.NoError(t, core.Provision(prov))
	_, err := core.RegisterDevice("devA")
	require.NoError(t, err)
	t.Cleanup(func() { core.Close(context.Background()) })

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Empty(t, fa.indicationsTo("devA"))
	assert.Equal(t, entry2(c.CallID(), "Busy"), fa.lastControl())
}

func TestForwardFailureSkipsBinding(t *testing.T) {
	fa := newFakeAdapter()
	fa.dialResults["3000"] = backend.DialFailed
	core := newTestCore(t, testCall(), fa, "devA")
	ctx := context.Background()
	require.NoError(t, core.SetForward("100", "devA", true, "3000"))

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"})
	require.NoError(t, err)
	defer c.Release()

	// The redirect fails, and the forwarding device must not ring in its
	// place: the pass has nobody left and congests.
	outcome, err := core.RouteInbound(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCongestion, outcome)
	assert.False(t, fa.hasIndication(entry("devA", "Ringing", c.CallID())))
	assert.False(t, fa.hasIndication(entry("devA", "Forwarded", c.CallID())))
	assert.Equal(t, 1, fa.dialCount())
	assert.Equal(t, entry2(c.CallID(), "Congestion"), fa.lastControl())
	assert.Equal(t, 1, core.ActiveCalls())
}

func TestRouteInboundSubscriptionFilter(t *testing.T) {
	cfg := testCall()
	fa := newFakeAdapter()
	core := New(cfg, fa)
	prov := testProvisioning(cfg)
	prov.Devices[0].Bindings[0].SubNumber = "11" // devA
	prov.Devices[2].Bindings[0].SubNumber = "22" // devC
	require.NoError(t, core.Provision(prov))
	for _, id := range []string{"devA", "devC"} {
		_, err := core.RegisterDevice(id)
		require.NoError(t, err)
	}
	t.Cleanup(func() { core.Close(context.Background()) })

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"},
		WithRequestedSubscription("22"))
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRinging, outcome)
	assert.Empty(t, fa.indicationsTo("devA"))
	assert.True(t, fa.hasIndication(entry("devC", "Ringing", c.CallID())))
}

func TestCallerNumberSuffixShaping(t *testing.T) {
	cfg := testCall()
	cfg.RecordDigitTimeoutChar = true
	fa := newFakeAdapter()
	core := newTestCore(t, cfg, fa, "devA")

	c, err := core.NewInboundCall("100", PartyInfo{Number: "0301234"})
	require.NoError(t, err)
	defer c.Release()
	_, err = core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "0301234#", c.CallingParty().Number)

	// Numbers not starting with the suffix marker pass through untouched.
	c2, err := core.NewInboundCall("100", PartyInfo{Number: "5551234"})
	require.NoError(t, err)
	defer c2.Release()
	_, err = core.RouteInbound(context.Background(), c2)
	require.NoError(t, err)
	assert.Equal(t, "5551234", c2.CallingParty().Number)
}

func TestAutoAnswerConnectsRingingCall(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"},
		WithAutoAnswer(AutoAnswerBothWays))
	require.NoError(t, err)
	defer c.Release()

	outcome, err := core.RouteInbound(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, OutcomeRinging, outcome)

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond, "auto-answer never connected the call")
	assert.True(t, fa.hasIndication(entry("devA", "Connected", c.CallID())))
}

func TestAutoAnswerAfterHangupIsNoOp(t *testing.T) {
	fa := newFakeAdapter()
	core := newTestCore(t, testCall(), fa, "devA")
	ctx := context.Background()

	c, err := core.NewInboundCall("100", PartyInfo{Number: "555"},
		WithAutoAnswer(AutoAnswerBothWays))
	require.NoError(t, err)
	callID := c.CallID()

	outcome, err := core.RouteInbound(ctx, c)
	require.NoError(t, err)
	require.Equal(t, OutcomeRinging, outcome)

	require.NoError(t, core.Hangup(ctx, callID))
	c.Release()

	time.Sleep(3 * testCall().AutoAnswerRingTime)
	_, err = core.FindChannel(callID)
	assert.Error(t, err, "channel resurrected after hangup")
	assert.False(t, fa.hasIndication(entry("devA", "Connected", callID)))
}

func entry(device, indication string, callID uint32) string {
	return device + "/" + indication + "/" + callIDString(callID)
}

func entry2(callID uint32, signal string) string {
	return callIDString(callID) + "/" + signal
}
