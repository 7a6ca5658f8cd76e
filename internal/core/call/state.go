package call

import (
	"github.com/looplab/fsm"
)

// Channel states. A channel is created idle, then either rings (inbound) or
// dials (outbound/forward). InvalidNumber and Congestion park a failed
// outbound attempt until the endpoint goes on-hook.
const (
	StateCreated       = "created"
	StateRinging       = "ringing"
	StateDialing       = "dialing"
	StateConnected     = "connected"
	StateInvalidNumber = "invalidnumber"
	StateCongestion    = "congestion"
	StateTeardown      = "teardown"
)

// State machine events.
const (
	eventRing             = "ring"
	eventDial             = "dial"
	eventAnswer           = "answer"
	eventProceed          = "proceed"
	eventRejectInvalid    = "reject_invalid"
	eventRejectCongestion = "reject_congestion"
	eventHangup           = "hangup"
)

func newChannelFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventRing, Src: []string{StateCreated}, Dst: StateRinging},
			{Name: eventDial, Src: []string{StateCreated}, Dst: StateDialing},
			{Name: eventAnswer, Src: []string{StateRinging}, Dst: StateConnected},
			{Name: eventProceed, Src: []string{StateDialing}, Dst: StateConnected},
			{Name: eventRejectInvalid, Src: []string{StateDialing}, Dst: StateInvalidNumber},
			{Name: eventRejectCongestion, Src: []string{StateDialing}, Dst: StateCongestion},
			{Name: eventHangup, Src: []string{
				StateCreated, StateRinging, StateDialing,
				StateConnected, StateInvalidNumber, StateCongestion,
			}, Dst: StateTeardown},
		},
		fsm.Callbacks{},
	)
}

// isTerminalState reports whether a channel in the given state may be
// destroyed. Failed outbound attempts count as terminal so that an endpoint
// going on-hook from InvalidNumber does not leak the channel.
func isTerminalState(s string) bool {
	switch s {
	case StateTeardown, StateInvalidNumber, StateCongestion:
		return true
	}
	return false
}

// CallType distinguishes who originated a channel.
type CallType int

const (
	CallTypeInbound CallType = iota
	CallTypeOutbound
	CallTypeForward
)

func (t CallType) String() string {
	switch t {
	case CallTypeInbound:
		return "inbound"
	case CallTypeOutbound:
		return "outbound"
	case CallTypeForward:
		return "forward"
	default:
		return "unknown"
	}
}

// RegistrationState tracks a device's signaling availability. Indications are
// only delivered to devices in RegistrationOK.
type RegistrationState int

const (
	RegistrationNone RegistrationState = iota
	RegistrationInProgress
	RegistrationOK
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationNone:
		return "unregistered"
	case RegistrationInProgress:
		return "registering"
	case RegistrationOK:
		return "registered"
	default:
		return "unknown"
	}
}

// DNDMode is a device's do-not-disturb behavior for inbound ringing.
type DNDMode int

const (
	// DNDOff rings the device normally.
	DNDOff DNDMode = iota
	// DNDReject skips the device entirely during fan-out.
	DNDReject
	// DNDSilent rings the device without an audible ringer.
	DNDSilent
)

func (m DNDMode) String() string {
	switch m {
	case DNDOff:
		return "off"
	case DNDReject:
		return "reject"
	case DNDSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// ParseDNDMode maps a provisioning value to a DNDMode. Unknown values fall
// back to DNDOff.
func ParseDNDMode(s string) DNDMode {
	switch s {
	case "reject":
		return DNDReject
	case "silent":
		return DNDSilent
	default:
		return DNDOff
	}
}

// AutoAnswerMode controls whether a ringing channel is answered without user
// interaction after a short delay.
type AutoAnswerMode int

const (
	AutoAnswerOff AutoAnswerMode = iota
	// AutoAnswerOneWay answers with the speaker muted towards the callee.
	AutoAnswerOneWay
	// AutoAnswerBothWays answers with a full two-way path.
	AutoAnswerBothWays
)

func (m AutoAnswerMode) String() string {
	switch m {
	case AutoAnswerOff:
		return "off"
	case AutoAnswerOneWay:
		return "oneway"
	case AutoAnswerBothWays:
		return "bothways"
	default:
		return "unknown"
	}
}

// SoftswitchAction selects what the collected digit buffer means once digit
// collection completes.
type SoftswitchAction int

const (
	ActionDial SoftswitchAction = iota
	ActionGetForwardExtension
	ActionGetPickupExtension
	ActionGetBargeExtension
	ActionGetConferenceBargeRoom
	ActionGetMeetmeRoom
)

func (a SoftswitchAction) String() string {
	switch a {
	case ActionDial:
		return "dial"
	case ActionGetForwardExtension:
		return "get_forward_extension"
	case ActionGetPickupExtension:
		return "get_pickup_extension"
	case ActionGetBargeExtension:
		return "get_barge_extension"
	case ActionGetConferenceBargeRoom:
		return "get_cbarge_room"
	case ActionGetMeetmeRoom:
		return "get_meetme_room"
	default:
		return "unknown"
	}
}
