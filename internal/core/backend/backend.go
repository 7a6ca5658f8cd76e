// Package backend defines the contract between the call core and the
// external call-routing backend.
//
// The core never knows how ringing is rendered on an endpoint or how the
// backend bridges legs and runs its dial plan; it only issues requests
// through Adapter. Implementations live outside the core: the daemon wires a
// Loopback for standalone operation, tests wire fakes.
package backend

import (
	"context"
	"fmt"
)

// Device is the adapter's view of a phone endpoint.
type Device interface {
	// ID returns the endpoint identifier (device MAC / name).
	ID() string
}

// Channel is the adapter's view of one call leg.
type Channel interface {
	// CallID returns the unique, monotonically assigned call identifier.
	CallID() uint32
	// LineName returns the directory number the leg belongs to.
	LineName() string
	// DialedNumber returns the digits collected so far.
	DialedNumber() string
}

// Indication is a call-state/UI indication pushed to a device.
type Indication int

const (
	IndicationOffHook Indication = iota
	IndicationOnHook
	IndicationRinging
	// IndicationRingingSilent rings without an audible ringer (DND silent).
	IndicationRingingSilent
	IndicationCallWaiting
	IndicationDialing
	IndicationProceed
	IndicationConnected
	IndicationForwarded
	IndicationInvalidNumber
	IndicationCongestion
)

// String returns the string representation of the indication.
func (i Indication) String() string {
	switch i {
	case IndicationOffHook:
		return "OffHook"
	case IndicationOnHook:
		return "OnHook"
	case IndicationRinging:
		return "Ringing"
	case IndicationRingingSilent:
		return "RingingSilent"
	case IndicationCallWaiting:
		return "CallWaiting"
	case IndicationDialing:
		return "Dialing"
	case IndicationProceed:
		return "Proceed"
	case IndicationConnected:
		return "Connected"
	case IndicationForwarded:
		return "Forwarded"
	case IndicationInvalidNumber:
		return "InvalidNumber"
	case IndicationCongestion:
		return "Congestion"
	default:
		return fmt.Sprintf("Unknown(%d)", int(i))
	}
}

// ControlSignal is a progress notification queued toward the call's
// originating side.
type ControlSignal int

const (
	ControlRinging ControlSignal = iota
	ControlBusy
	ControlCongestion
)

// String returns the string representation of the control signal.
func (s ControlSignal) String() string {
	switch s {
	case ControlRinging:
		return "Ringing"
	case ControlBusy:
		return "Busy"
	case ControlCongestion:
		return "Congestion"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// DialResult is the outcome of a StartDial request.
type DialResult int

const (
	// DialStarted means the backend accepted the extension and began routing.
	DialStarted DialResult = iota
	// DialFailed means the extension did not match or routing could not start.
	DialFailed
	// DialConcurrencyLimited means the backend's call limit was reached.
	DialConcurrencyLimited
)

// String returns the string representation of the dial result.
func (r DialResult) String() string {
	switch r {
	case DialStarted:
		return "Started"
	case DialFailed:
		return "Failed"
	case DialConcurrencyLimited:
		return "ConcurrencyLimited"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Feature identifies a backend feature requested through the softswitch.
type Feature int

const (
	FeaturePickup Feature = iota
	FeatureBarge
	FeatureConferenceBarge
	FeatureMeetme
)

// String returns the string representation of the feature.
func (f Feature) String() string {
	switch f {
	case FeaturePickup:
		return "Pickup"
	case FeatureBarge:
		return "Barge"
	case FeatureConferenceBarge:
		return "ConferenceBarge"
	case FeatureMeetme:
		return "Meetme"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// Adapter is the backend interface consumed by the router and the channel
// state machine.
//
// Indicate and QueueControl are fire-and-forget: implementations log their
// own failures, the state machine never treats them as fatal. StartDial,
// AnswerBridge and RequestFeature may block on external I/O and are always
// invoked outside the core's structural locks.
type Adapter interface {
	// Indicate pushes a call-state indication to one device.
	Indicate(dev Device, ch Channel, ind Indication)

	// StartDial begins backend routing for the dialed extension.
	StartDial(ctx context.Context, ch Channel, extension string) DialResult

	// AnswerBridge bridges an answered forwarded leg into its parent's call.
	AnswerBridge(ctx context.Context, child, parent Channel) error

	// QueueControl reports call progress to the originating side.
	QueueControl(ch Channel, sig ControlSignal)

	// ReleaseMedia tears down any media resources allocated for the leg.
	ReleaseMedia(ch Channel)

	// RequestFeature asks the backend for a pickup/barge/meetme operation.
	RequestFeature(ctx context.Context, ch Channel, f Feature, argument string) error
}
