package call

import (
	"sync"

	"github.com/sebas/crossbar/internal/core/config"
	"github.com/sebas/crossbar/internal/core/entity"
	"github.com/sebas/crossbar/internal/logger"
)

// Device is a signaling endpoint. Its registration state gates every
// indication: nothing is delivered to a device that is not fully registered.
type Device struct {
	entity.Ref

	id string

	Privacy     bool
	Monitor     bool
	OverlapDial bool

	mu         sync.Mutex
	regState   RegistrationState
	dnd        DNDMode
	session    *Session
	active     *Channel
	lastNumber string
}

// ID returns the stable provisioned device identifier.
func (d *Device) ID() string { return d.id }

func newDevice(def config.DeviceDef) *Device {
	d := &Device{
		id:          def.ID,
		Privacy:     def.Privacy,
		Monitor:     def.Monitor,
		OverlapDial: def.OverlapDial,
		dnd:         ParseDNDMode(def.DND),
	}
	d.Init(func() {
		logger.Debug("[Device] destroyed", "device", d.ID())
	})
	return d
}

// RegistrationState returns the device's current signaling availability.
func (d *Device) RegistrationState() RegistrationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regState
}

func (d *Device) setRegistrationState(s RegistrationState) {
	d.mu.Lock()
	d.regState = s
	d.mu.Unlock()
}

// DND returns the device's do-not-disturb mode.
func (d *Device) DND() DNDMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dnd
}

// SetDND updates do-not-disturb. Takes effect on the next fan-out pass;
// channels already ringing keep ringing.
func (d *Device) SetDND(m DNDMode) {
	d.mu.Lock()
	d.dnd = m
	d.mu.Unlock()
	logger.Info("[Device] dnd updated", "device", d.ID(), "mode", m.String())
}

// hasLiveSession reports whether the device has an attached, open session.
func (d *Device) hasLiveSession() bool {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	return s != nil && s.Alive()
}

func (d *Device) attachSession(s *Session) {
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
}

// detachSession clears and returns the device's session, or nil.
func (d *Device) detachSession() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.session
	d.session = nil
	return s
}

// sessionRef returns the device's current session without retaining anything;
// sessions are not refcounted, their lifetime is bracketed by
// RegisterDevice/UnregisterDevice.
func (d *Device) sessionRef() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// ActiveChannel returns a retained reference to the channel the device is
// currently engaged in, or nil.
func (d *Device) ActiveChannel() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	if err := d.active.Retain(); err != nil {
		return nil
	}
	return d.active
}

// setActive swaps the device's active channel. The device holds one reference
// to whichever channel is active. Pass nil to clear.
func (d *Device) setActive(c *Channel) {
	if c != nil {
		if err := c.Retain(); err != nil {
			logger.Error("[Device] retain of active channel failed",
				"device", d.ID(), "call", c.CallID(), "error", err)
			return
		}
	}
	d.mu.Lock()
	prev := d.active
	d.active = c
	d.mu.Unlock()
	if prev != nil {
		if _, err := prev.Release(); err != nil {
			logger.Error("[Device] release of previous active channel failed",
				"device", d.ID(), "call", prev.CallID(), "error", err)
		}
	}
}

// clearActiveIf clears the active channel only if it is still c. Teardown
// uses this so a newer call that already took over is left alone.
func (d *Device) clearActiveIf(c *Channel) {
	d.mu.Lock()
	if d.active != c {
		d.mu.Unlock()
		return
	}
	d.active = nil
	d.mu.Unlock()
	if _, err := c.Release(); err != nil {
		logger.Error("[Device] release of active channel failed",
			"device", d.ID(), "call", c.CallID(), "error", err)
	}
}

// LastDialed returns the most recent number the device dialed out.
func (d *Device) LastDialed() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastNumber
}

func (d *Device) setLastDialed(number string) {
	d.mu.Lock()
	d.lastNumber = number
	d.mu.Unlock()
}

var _ entity.Countable = (*Device)(nil)

// Session is the transport attachment of a registered device. It is not
// refcounted: it exists between registration and unregistration, and holds
// one device reference for that span.
type Session struct {
	mu                sync.Mutex
	device            *Device
	open              bool
	needRingbackCheck bool
}

func newSession(d *Device) (*Session, error) {
	if err := d.Retain(); err != nil {
		return nil, err
	}
	return &Session{device: d, open: true}, nil
}

// Alive reports whether the session is still attached.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Device returns the session's device. Valid while the session is open.
func (s *Session) Device() *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// MarkRingbackCheck flags that the endpoint behind this session should be
// re-examined for pending ringing calls once its current call is gone. Set
// during teardown, consumed by the next idle pass.
func (s *Session) MarkRingbackCheck() {
	s.mu.Lock()
	s.needRingbackCheck = true
	s.mu.Unlock()
}

// TakeRingbackCheck consumes the ringback-check flag.
func (s *Session) TakeRingbackCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.needRingbackCheck
	s.needRingbackCheck = false
	return v
}

// close detaches the session and drops its device reference.
func (s *Session) close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	d := s.device
	s.mu.Unlock()
	if _, err := d.Release(); err != nil {
		logger.Error("[Session] device release failed", "device", d.ID(), "error", err)
	}
}
