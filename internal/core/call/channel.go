package call

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/sebas/crossbar/internal/core/entity"
	"github.com/sebas/crossbar/internal/core/scheduler"
	"github.com/sebas/crossbar/internal/logger"
)

// PartyInfo is the display identity of one side of a call.
type PartyInfo struct {
	Name   string
	Number string
}

// Channel is one call leg. It retains its line for its whole lifetime, its
// owner device once assigned, and its parent when it is a forward leg. All
// three are dropped in the destructor, after teardown has run.
type Channel struct {
	entity.Ref

	id       uint32
	callType CallType
	line     *Line
	sm       *fsm.FSM

	mu             sync.Mutex
	device         *Device
	parent         *Channel
	parentReleased bool
	dialed         []byte
	calling        PartyInfo
	called         PartyInfo
	requestedSub   string
	ssAction       SoftswitchAction
	autoAnswer     AutoAnswerMode
	privacy        bool
	mediaAllocated bool
	tearingDown    bool

	digitTimer       *scheduler.Timer
	autoAnswerTimers []*scheduler.Timer

	createdAt  time.Time
	ringingAt  time.Time
	answeredAt time.Time
	endedAt    time.Time
}

// newChannel builds a channel on a line the caller has retained; the channel
// takes over that line reference. destroy is supplied by the core so the
// registries and gauges stay consistent.
func newChannel(id uint32, line *Line, t CallType, destroy func(*Channel)) *Channel {
	c := &Channel{
		id:        id,
		callType:  t,
		line:      line,
		sm:        newChannelFSM(),
		ssAction:  ActionDial,
		createdAt: time.Now(),
	}
	c.Init(func() { destroy(c) })
	return c
}

// CallID returns the channel's unique call identifier.
func (c *Channel) CallID() uint32 { return c.id }

// Type returns who originated the channel.
func (c *Channel) Type() CallType { return c.callType }

// Line returns the channel's line. The channel's own reference keeps it alive
// for as long as the caller holds the channel.
func (c *Channel) Line() *Line { return c.line }

// LineName returns the directory number the channel belongs to.
func (c *Channel) LineName() string { return c.line.Name }

// State returns the current state machine state.
func (c *Channel) State() string { return c.sm.Current() }

// Release rejects dropping the final reference of a channel that has not
// reached a terminal state; the channel stays alive and the caller gets
// ErrNotTerminal. The check is a guard against ownership bugs, built on a
// read of the count, so it assumes callers do not race their own final
// release.
func (c *Channel) Release() (bool, error) {
	if c.RefCount() == 1 && !isTerminalState(c.State()) {
		return false, ErrNotTerminal
	}
	return c.Ref.Release()
}

// Device returns a retained reference to the channel's owner device, or nil
// if no device has picked the channel yet.
func (c *Channel) Device() *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}
	if err := c.device.Retain(); err != nil {
		return nil
	}
	return c.device
}

// setDevice assigns the owning device. The channel holds one device
// reference until it is destroyed. Reassignment is not allowed.
func (c *Channel) setDevice(d *Device) error {
	if err := d.Retain(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.device != nil {
		c.mu.Unlock()
		d.Release()
		return &StateError{CallID: c.id, State: c.State(), Op: "assign device"}
	}
	c.device = d
	c.mu.Unlock()
	return nil
}

// setParent links a forward leg to the channel it forwards. The child holds
// one parent reference, dropped exactly once by releaseParentOnce.
func (c *Channel) setParent(parent *Channel) error {
	if err := parent.Retain(); err != nil {
		return err
	}
	c.mu.Lock()
	c.parent = parent
	c.parentReleased = false
	c.mu.Unlock()
	return nil
}

// parentOf returns the parent pointer without retaining. Only safe for
// identity comparison under the line's channel lock.
func (c *Channel) parentOf() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent
}

// Parent returns a retained reference to the forward parent, or nil.
func (c *Channel) Parent() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parent == nil || c.parentReleased {
		return nil
	}
	if err := c.parent.Retain(); err != nil {
		return nil
	}
	return c.parent
}

// releaseParentOnce drops the child's parent reference. The first call wins;
// both the answer path and teardown call it, whichever runs first.
func (c *Channel) releaseParentOnce() {
	c.mu.Lock()
	if c.parent == nil || c.parentReleased {
		c.mu.Unlock()
		return
	}
	c.parentReleased = true
	p := c.parent
	c.mu.Unlock()
	if _, err := p.Release(); err != nil {
		logger.Error("[Channel] parent release failed",
			"call", c.id, "parent", p.CallID(), "error", err)
	}
}

// DialedNumber returns the digits collected so far.
func (c *Channel) DialedNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.dialed)
}

func (c *Channel) setDialedNumber(number string) {
	c.mu.Lock()
	c.dialed = []byte(number)
	c.mu.Unlock()
}

func (c *Channel) appendDigit(d byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialed = append(c.dialed, d)
	return string(c.dialed)
}

// stripTrailing removes one trailing occurrence of ch from the dialed buffer.
func (c *Channel) stripTrailing(ch byte) {
	c.mu.Lock()
	if n := len(c.dialed); n > 0 && c.dialed[n-1] == ch {
		c.dialed = c.dialed[:n-1]
	}
	c.mu.Unlock()
}

// CallingParty returns the originating party identity.
func (c *Channel) CallingParty() PartyInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calling
}

func (c *Channel) setCallingParty(p PartyInfo) {
	c.mu.Lock()
	c.calling = p
	c.mu.Unlock()
}

// CalledParty returns the destination party identity.
func (c *Channel) CalledParty() PartyInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.called
}

func (c *Channel) setCalledParty(p PartyInfo) {
	c.mu.Lock()
	c.called = p
	c.mu.Unlock()
}

// RequestedSubscription returns the appearance selector the call targets.
func (c *Channel) RequestedSubscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestedSub
}

// Action returns the channel's softswitch action.
func (c *Channel) Action() SoftswitchAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssAction
}

func (c *Channel) setAction(a SoftswitchAction) {
	c.mu.Lock()
	c.ssAction = a
	c.mu.Unlock()
}

// AutoAnswer returns the auto-answer mode requested for this call.
func (c *Channel) AutoAnswer() AutoAnswerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoAnswer
}

// Privacy reports whether the calling identity must be withheld downstream.
func (c *Channel) Privacy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.privacy
}

func (c *Channel) setPrivacy(v bool) {
	c.mu.Lock()
	c.privacy = v
	c.mu.Unlock()
}

// markMedia records that the backend allocated media for this leg.
func (c *Channel) markMedia(v bool) {
	c.mu.Lock()
	c.mediaAllocated = v
	c.mu.Unlock()
}

func (c *Channel) hasMedia() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaAllocated
}

// beginTeardown claims the channel for teardown. Only the first caller gets
// true; concurrent or repeated hangups become no-ops.
func (c *Channel) beginTeardown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tearingDown {
		return false
	}
	c.tearingDown = true
	return true
}

// rearmDigitTimer cancels any pending digit timer and arms a fresh one.
func (c *Channel) rearmDigitTimer(t *scheduler.Timer) {
	c.mu.Lock()
	prev := c.digitTimer
	c.digitTimer = t
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

// addAutoAnswerTimer records an armed auto-answer timer so teardown can
// cancel it.
func (c *Channel) addAutoAnswerTimer(t *scheduler.Timer) {
	c.mu.Lock()
	c.autoAnswerTimers = append(c.autoAnswerTimers, t)
	c.mu.Unlock()
}

// cancelTimers cancels the digit timer and all auto-answer timers. Callbacks
// already dispatched re-validate channel state on their own.
func (c *Channel) cancelTimers() {
	c.mu.Lock()
	digit := c.digitTimer
	c.digitTimer = nil
	auto := c.autoAnswerTimers
	c.autoAnswerTimers = nil
	c.mu.Unlock()
	if digit != nil {
		digit.Cancel()
	}
	for _, t := range auto {
		t.Cancel()
	}
}

func (c *Channel) markRinging() {
	c.mu.Lock()
	c.ringingAt = time.Now()
	c.mu.Unlock()
}

func (c *Channel) markAnswered() {
	c.mu.Lock()
	c.answeredAt = time.Now()
	c.mu.Unlock()
}

func (c *Channel) markEnded() {
	c.mu.Lock()
	c.endedAt = time.Now()
	c.mu.Unlock()
}

// durations returns ring and talk time for the end-of-call event.
func (c *Channel) durations() (ring, talk time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := c.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	if !c.ringingAt.IsZero() {
		ringEnd := end
		if !c.answeredAt.IsZero() {
			ringEnd = c.answeredAt
		}
		ring = ringEnd.Sub(c.ringingAt)
	}
	if !c.answeredAt.IsZero() {
		talk = end.Sub(c.answeredAt)
	}
	return ring, talk
}

// transition drives the state machine and logs the edge. Invalid transitions
// are reported to the caller as StateError.
func (c *Channel) transition(ctx context.Context, event string) error {
	prev := c.sm.Current()
	if err := c.sm.Event(ctx, event); err != nil {
		return &StateError{CallID: c.id, State: prev, Op: event, Cause: err}
	}
	logger.Debug("[Channel] state transition",
		"call", c.id, "from", prev, "to", c.sm.Current(), "event", event)
	return nil
}

var _ entity.Countable = (*Channel)(nil)
