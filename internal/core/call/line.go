package call

import (
	"sync"

	"github.com/sebas/crossbar/internal/core/config"
	"github.com/sebas/crossbar/internal/core/entity"
	"github.com/sebas/crossbar/internal/logger"
)

// Line is a routable number with its own caller identity. It owns two
// independent lists: the device bindings subscribed to it and the channels
// currently alive on it. Each list has its own lock; neither lock is ever
// held across a backend call.
type Line struct {
	entity.Ref

	Name                string
	CIDName             string
	CIDNum              string
	IncomingLimit       int
	DefaultSubscription SubscriptionID
	MeetmeNum           string

	devMu    sync.Mutex
	bindings []*LineDevice

	chanMu   sync.Mutex
	channels []*Channel
}

func newLine(def config.LineDef) *Line {
	l := &Line{
		Name:          def.Name,
		CIDName:       def.CIDName,
		CIDNum:        def.CIDNum,
		IncomingLimit: def.IncomingLimit,
		DefaultSubscription: SubscriptionID{
			Number: def.SubNumber,
			Name:   def.SubName,
		},
		MeetmeNum: def.MeetmeNum,
	}
	l.Init(func() {
		logger.Debug("[Line] destroyed", "line", l.Name)
	})
	return l
}

// addBinding appends a binding, preserving provisioning order. Fan-out
// iterates bindings in this order.
func (l *Line) addBinding(ld *LineDevice) {
	l.devMu.Lock()
	l.bindings = append(l.bindings, ld)
	l.devMu.Unlock()
}

// removeBinding detaches a binding from the line and returns whether it was
// present. The caller owns releasing the binding's list reference.
func (l *Line) removeBinding(ld *LineDevice) bool {
	l.devMu.Lock()
	defer l.devMu.Unlock()
	for i, b := range l.bindings {
		if b == ld {
			l.bindings = append(l.bindings[:i], l.bindings[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Line) bindingCount() int {
	l.devMu.Lock()
	defer l.devMu.Unlock()
	return len(l.bindings)
}

// Bindings returns a retained snapshot of the line's bindings in insertion
// order. The caller must release every element. Bindings that are already
// being destroyed are skipped.
func (l *Line) Bindings() []*LineDevice {
	l.devMu.Lock()
	defer l.devMu.Unlock()
	out := make([]*LineDevice, 0, len(l.bindings))
	for _, ld := range l.bindings {
		if err := ld.Retain(); err != nil {
			continue
		}
		out = append(out, ld)
	}
	return out
}

// findBinding returns the retained binding between this line and the given
// device, or nil.
func (l *Line) findBinding(d *Device) *LineDevice {
	l.devMu.Lock()
	defer l.devMu.Unlock()
	for _, ld := range l.bindings {
		if ld.Device == d {
			if err := ld.Retain(); err != nil {
				return nil
			}
			return ld
		}
	}
	return nil
}

// attachChannel adds a channel to the line's live list. The list holds one
// reference per member.
func (l *Line) attachChannel(c *Channel) error {
	if err := c.Retain(); err != nil {
		return err
	}
	l.chanMu.Lock()
	l.channels = append(l.channels, c)
	l.chanMu.Unlock()
	return nil
}

// detachChannel removes a channel from the live list and drops the list's
// reference. Detaching a channel that is not attached is a no-op.
func (l *Line) detachChannel(c *Channel) {
	l.chanMu.Lock()
	found := false
	for i, ch := range l.channels {
		if ch == c {
			l.channels = append(l.channels[:i], l.channels[i+1:]...)
			found = true
			break
		}
	}
	l.chanMu.Unlock()
	if found {
		if _, err := c.Release(); err != nil {
			logger.Error("[Line] channel list release failed",
				"line", l.Name, "call", c.CallID(), "error", err)
		}
	}
}

// ChannelCount reports how many channels are currently alive on the line,
// including any channel that is still being routed.
func (l *Line) ChannelCount() int {
	l.chanMu.Lock()
	defer l.chanMu.Unlock()
	return len(l.channels)
}

// forwardChildren returns a retained snapshot of the channels whose parent is
// the given channel. Used by teardown to cascade forward legs.
func (l *Line) forwardChildren(parent *Channel) []*Channel {
	l.chanMu.Lock()
	defer l.chanMu.Unlock()
	var out []*Channel
	for _, ch := range l.channels {
		if ch.parentOf() == parent {
			if err := ch.Retain(); err != nil {
				continue
			}
			out = append(out, ch)
		}
	}
	return out
}

// hasLiveSubscriber reports whether at least one bound device currently has a
// live endpoint session.
func (l *Line) hasLiveSubscriber() bool {
	l.devMu.Lock()
	defer l.devMu.Unlock()
	for _, ld := range l.bindings {
		if ld.Device.hasLiveSession() {
			return true
		}
	}
	return false
}

var _ entity.Countable = (*Line)(nil)
