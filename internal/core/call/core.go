package call

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/config"
	"github.com/sebas/crossbar/internal/core/entity"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/core/metrics"
	"github.com/sebas/crossbar/internal/core/scheduler"
	"github.com/sebas/crossbar/internal/logger"
)

// Core owns the line/device/channel registries and drives every call
// operation against the backend adapter. All methods are safe for concurrent
// use.
type Core struct {
	cfg     config.Call
	adapter backend.Adapter
	sched   *scheduler.Scheduler
	builder *events.Builder
	pub     events.Publisher
	metrics *metrics.Set

	lines    *entity.Registry[string, *Line]
	devices  *entity.Registry[string, *Device]
	channels *entity.Registry[uint32, *Channel]

	lastCallID atomic.Uint32
	closed     atomic.Bool
}

// Option configures optional Core collaborators.
type Option func(*Core)

// WithPublisher attaches an event publisher. Defaults to a no-op publisher.
func WithPublisher(p events.Publisher) Option {
	return func(c *Core) { c.pub = p }
}

// WithMetrics attaches a metrics set. Defaults to disabled metrics.
func WithMetrics(m *metrics.Set) Option {
	return func(c *Core) { c.metrics = m }
}

// WithScheduler overrides the timer scheduler, used by tests to control
// worker count.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(c *Core) { c.sched = s }
}

// New builds a Core around the given tunables and backend adapter.
func New(cfg config.Call, adapter backend.Adapter, opts ...Option) *Core {
	core := &Core{
		cfg:      cfg,
		adapter:  adapter,
		builder:  events.NewBuilder(cfg.NodeID),
		pub:      events.NewNoopPublisher(),
		lines:    entity.NewRegistry[string, *Line](),
		devices:  entity.NewRegistry[string, *Device](),
		channels: entity.NewRegistry[uint32, *Channel](),
	}
	for _, opt := range opts {
		opt(core)
	}
	if core.sched == nil {
		workers := cfg.TimerWorkers
		if workers <= 0 {
			workers = scheduler.DefaultWorkers
		}
		core.sched = scheduler.New(workers)
	}
	return core
}

// Provision populates the registries from a parsed provisioning file. Lines
// are created before devices so bindings always resolve.
func (core *Core) Provision(p *config.Provisioning) error {
	for _, def := range p.Lines {
		l := newLine(def)
		core.lines.Put(l.Name, l)
		logger.Debug("[Core] line provisioned", "line", l.Name, "cid", l.CIDNum)
	}
	for _, def := range p.Devices {
		d := newDevice(def)
		core.devices.Put(d.ID(), d)
		for _, b := range def.Bindings {
			sub := SubscriptionID{Number: b.SubNumber, Name: b.SubName}
			if err := core.AddBinding(b.Line, d.ID(), sub, b.AutoAnswer); err != nil {
				return err
			}
			if b.CfwdAll != "" {
				if err := core.SetForward(b.Line, d.ID(), true, b.CfwdAll); err != nil {
					return err
				}
			}
		}
		logger.Debug("[Core] device provisioned",
			"device", d.ID(), "bindings", len(def.Bindings), "dnd", d.DND().String())
	}
	logger.Info("[Core] provisioning complete",
		"lines", core.lines.Len(), "devices", core.devices.Len())
	return nil
}

// FindLine returns a retained line by name.
func (core *Core) FindLine(name string) (*Line, error) {
	l, ok := core.lines.Find(name)
	if !ok {
		return nil, &NotFoundError{Kind: "line", ID: name}
	}
	return l, nil
}

// FindDevice returns a retained device by identifier.
func (core *Core) FindDevice(id string) (*Device, error) {
	d, ok := core.devices.Find(id)
	if !ok {
		return nil, &NotFoundError{Kind: "device", ID: id}
	}
	return d, nil
}

// FindChannel returns a retained channel by call identifier. Asynchronous
// callbacks resolve channels through here instead of trusting captured
// pointers.
func (core *Core) FindChannel(id uint32) (*Channel, error) {
	c, ok := core.channels.Find(id)
	if !ok {
		return nil, &NotFoundError{Kind: "channel", ID: callIDString(id)}
	}
	return c, nil
}

// ActiveCalls reports the number of live channels.
func (core *Core) ActiveCalls() int { return core.channels.Len() }

// AddBinding subscribes a device to a line. Binding order is fan-out order.
func (core *Core) AddBinding(lineName, deviceID string, sub SubscriptionID, autoAnswer bool) error {
	l, err := core.FindLine(lineName)
	if err != nil {
		return err
	}
	d, err := core.FindDevice(deviceID)
	if err != nil {
		l.Release()
		return err
	}
	// The binding takes over both lookup references.
	ld := newLineDevice(l, d, l.bindingCount()+1, sub, autoAnswer)
	l.addBinding(ld)
	logger.Debug("[Core] binding added",
		"line", lineName, "device", deviceID, "subscription", sub.Number)
	return nil
}

// RemoveBinding detaches a device from a line. Channels already alive on the
// line are unaffected.
func (core *Core) RemoveBinding(lineName, deviceID string) error {
	l, err := core.FindLine(lineName)
	if err != nil {
		return err
	}
	defer l.Release()
	d, err := core.FindDevice(deviceID)
	if err != nil {
		return err
	}
	defer d.Release()

	ld := l.findBinding(d)
	if ld == nil {
		return &NotFoundError{Kind: "binding", ID: lineName + "/" + deviceID}
	}
	if l.removeBinding(ld) {
		// List reference.
		ld.Release()
	}
	// Lookup reference.
	ld.Release()
	return nil
}

// SetForward updates call-forward-all on one line/device binding.
func (core *Core) SetForward(lineName, deviceID string, enabled bool, number string) error {
	l, err := core.FindLine(lineName)
	if err != nil {
		return err
	}
	defer l.Release()
	d, err := core.FindDevice(deviceID)
	if err != nil {
		return err
	}
	defer d.Release()

	ld := l.findBinding(d)
	if ld == nil {
		return &NotFoundError{Kind: "binding", ID: lineName + "/" + deviceID}
	}
	defer ld.Release()
	ld.SetForwardAll(enabled, number)
	return nil
}

// RegisterDevice marks a device as fully registered and attaches a fresh
// session to it. The session holds a device reference until unregistration.
func (core *Core) RegisterDevice(id string) (*Session, error) {
	d, err := core.FindDevice(id)
	if err != nil {
		return nil, err
	}
	defer d.Release()

	s, err := newSession(d)
	if err != nil {
		return nil, err
	}
	d.attachSession(s)
	d.setRegistrationState(RegistrationOK)
	logger.Info("[Core] device registered", "device", id)
	core.pub.PublishAsync(core.builder.Device(events.DeviceRegistered, id, RegistrationOK.String()).Build())
	return s, nil
}

// UnregisterDevice detaches the device's session and ends any call it is
// engaged in.
func (core *Core) UnregisterDevice(ctx context.Context, id string) error {
	d, err := core.FindDevice(id)
	if err != nil {
		return err
	}
	defer d.Release()

	d.setRegistrationState(RegistrationNone)
	if s := d.detachSession(); s != nil {
		s.close()
	}
	if active := d.ActiveChannel(); active != nil {
		if err := core.endCall(ctx, active); err != nil {
			logger.Warn("[Core] hangup of active call on unregister failed",
				"device", id, "call", active.CallID(), "error", err)
		}
		active.Release()
	}
	logger.Info("[Core] device unregistered", "device", id)
	core.pub.PublishAsync(core.builder.Device(events.DeviceUnregistered, id, RegistrationNone.String()).Build())
	return nil
}

// ChannelOption tweaks a channel at creation time.
type ChannelOption func(*Channel)

// WithRequestedSubscription targets one specific line appearance during
// fan-out.
func WithRequestedSubscription(sub string) ChannelOption {
	return func(c *Channel) { c.requestedSub = sub }
}

// WithAutoAnswer requests automatic pickup on the ringing side.
func WithAutoAnswer(mode AutoAnswerMode) ChannelOption {
	return func(c *Channel) { c.autoAnswer = mode }
}

// WithPrivacy withholds the calling identity downstream.
func WithPrivacy() ChannelOption {
	return func(c *Channel) { c.privacy = true }
}

// WithAction sets the softswitch action for an outbound channel.
func WithAction(a SoftswitchAction) ChannelOption {
	return func(c *Channel) { c.ssAction = a }
}

// allocateChannel builds a channel on a retained line; the channel takes over
// the line reference. The returned channel carries the caller's reference
// plus the line list's.
func (core *Core) allocateChannel(l *Line, t CallType, opts ...ChannelOption) (*Channel, error) {
	if core.closed.Load() {
		l.Release()
		return nil, ErrShutdown
	}
	id := core.lastCallID.Add(1)
	c := newChannel(id, l, t, core.destroyChannel)
	for _, opt := range opts {
		opt(c)
	}
	if err := l.attachChannel(c); err != nil {
		l.Release()
		return nil, err
	}
	core.channels.Put(id, c)
	core.metrics.ChannelUp()
	logger.Debug("[Core] channel allocated",
		"call", id, "line", l.Name, "type", t.String())
	return c, nil
}

// destroyChannel runs when the last channel reference is dropped. Structural
// unlinking already happened during teardown; only registry and the
// channel's own line/device references remain.
func (core *Core) destroyChannel(c *Channel) {
	core.channels.Remove(c.id)
	core.metrics.ChannelDown()
	if c.device != nil {
		if _, err := c.device.Release(); err != nil {
			logger.Error("[Core] device release on destroy failed",
				"call", c.id, "device", c.device.ID(), "error", err)
		}
	}
	if _, err := c.line.Release(); err != nil {
		logger.Error("[Core] line release on destroy failed",
			"call", c.id, "line", c.line.Name, "error", err)
	}
	logger.Debug("[Core] channel destroyed", "call", c.id)
}

// NewInboundCall allocates a channel for a call arriving on a line. The
// channel is idle until RouteInbound runs the fan-out pass.
func (core *Core) NewInboundCall(lineName string, caller PartyInfo, opts ...ChannelOption) (*Channel, error) {
	l, err := core.FindLine(lineName)
	if err != nil {
		return nil, err
	}
	c, err := core.allocateChannel(l, CallTypeInbound, opts...)
	if err != nil {
		return nil, err
	}
	c.setCallingParty(caller)
	c.setCalledParty(core.shapedLineIdentity(l, c.RequestedSubscription()))
	core.pub.PublishAsync(core.builder.Call(events.CallCreated, c.id).
		Line(lineName).
		CallType(c.callType.String()).
		Build())
	return c, nil
}

// NewOutboundCall allocates a channel for a device going off-hook on one of
// its line appearances and starts digit collection.
func (core *Core) NewOutboundCall(lineName, deviceID string, opts ...ChannelOption) (*Channel, error) {
	l, err := core.FindLine(lineName)
	if err != nil {
		return nil, err
	}
	d, err := core.FindDevice(deviceID)
	if err != nil {
		l.Release()
		return nil, err
	}
	defer d.Release()

	c, err := core.allocateChannel(l, CallTypeOutbound, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.setDevice(d); err != nil {
		core.abortAllocation(c)
		return nil, err
	}
	if ld := l.findBinding(d); ld != nil {
		c.setCallingParty(core.shapedIdentity(l, ld.Subscription))
		ld.Release()
	} else {
		c.setCallingParty(PartyInfo{Name: l.CIDName, Number: l.CIDNum})
	}
	d.setActive(c)
	core.adapter.Indicate(d, c, backend.IndicationOffHook)
	core.metrics.Indication(backend.IndicationOffHook.String())
	core.pub.PublishAsync(core.builder.Call(events.CallCreated, c.id).
		Line(lineName).
		Device(deviceID).
		CallType(c.callType.String()).
		Build())
	return c, nil
}

// abortAllocation unwinds a channel that failed setup before it ever entered
// the call flow.
func (core *Core) abortAllocation(c *Channel) {
	if c.beginTeardown() {
		c.transition(context.Background(), eventHangup)
		c.line.detachChannel(c)
	}
	if _, err := c.Release(); err != nil {
		logger.Error("[Core] abort release failed", "call", c.id, "error", err)
	}
}

// shapedIdentity builds a party identity from the line's caller id with the
// subscription suffix appended, so shared-line appearances are told apart.
func (core *Core) shapedIdentity(l *Line, sub SubscriptionID) PartyInfo {
	p := PartyInfo{Name: l.CIDName, Number: l.CIDNum}
	if sub.Number != "" {
		p.Number += sub.Number
	}
	if sub.Name != "" {
		p.Name += sub.Name
	}
	return p
}

// shapedLineIdentity is shapedIdentity keyed on a requested subscription
// selector, falling back to the line default.
func (core *Core) shapedLineIdentity(l *Line, requested string) PartyInfo {
	sub := l.DefaultSubscription
	if requested != "" {
		sub = SubscriptionID{Number: requested}
	}
	return core.shapedIdentity(l, sub)
}

// Close shuts the core down: ends every live call, cancels pending timers
// and releases all registry references. Operations after Close fail with
// ErrShutdown.
func (core *Core) Close(ctx context.Context) {
	if !core.closed.CompareAndSwap(false, true) {
		return
	}

	for _, id := range core.channels.Keys() {
		c, ok := core.channels.Find(id)
		if !ok {
			continue
		}
		if err := core.endCall(ctx, c); err != nil {
			logger.Warn("[Core] hangup on shutdown failed", "call", id, "error", err)
		}
		c.Release()
	}

	core.sched.Close()

	for _, name := range core.lines.Keys() {
		l, ok := core.lines.Find(name)
		if !ok {
			continue
		}
		for _, ld := range l.Bindings() {
			if l.removeBinding(ld) {
				ld.Release()
			}
			ld.Release()
		}
		core.lines.Remove(name)
		l.Release() // lookup
		l.Release() // registry creation reference
	}
	for _, id := range core.devices.Keys() {
		d, ok := core.devices.Find(id)
		if !ok {
			continue
		}
		if s := d.detachSession(); s != nil {
			s.close()
		}
		core.devices.Remove(id)
		d.Release() // lookup
		d.Release() // registry creation reference
	}
	logger.Info("[Core] shut down")
}

func callIDString(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
