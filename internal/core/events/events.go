// Package events defines the call lifecycle event stream emitted by the
// core.
//
// Subject hierarchy:
//
//	crossbar.calls.<call_id>.<event_suffix>   - per-call events
//	crossbar.devices.<device_id>.<suffix>     - registration events
//
// Wildcard subscriptions:
//
//	crossbar.calls.>          - all call events
//	crossbar.calls.*.ended    - all call.ended events
package events

import (
	"fmt"
	"time"
)

const (
	// SubjectPrefix is the root of all crossbar subjects.
	SubjectPrefix = "crossbar"

	SubjectCalls   = SubjectPrefix + ".calls"
	SubjectDevices = SubjectPrefix + ".devices"
)

// Subject patterns for common consumer configurations.
var (
	PatternAllCalls   = SubjectCalls + ".>"
	PatternCallEnded  = SubjectCalls + ".*.ended"
	PatternAllDevices = SubjectDevices + ".>"
)

// EventType identifies a call or device lifecycle event.
type EventType string

const (
	CallCreated   EventType = "call.created"
	CallRinging   EventType = "call.ringing"
	CallRejected  EventType = "call.rejected"
	CallDialing   EventType = "call.dialing"
	CallForwarded EventType = "call.forwarded"
	CallAnswered  EventType = "call.answered"
	CallBridged   EventType = "call.bridged"
	CallEnded     EventType = "call.ended"

	DeviceRegistered   EventType = "device.registered"
	DeviceUnregistered EventType = "device.unregistered"
)

// suffix returns the subject suffix for the event type.
func (t EventType) suffix() string {
	switch t {
	case CallCreated:
		return "created"
	case CallRinging:
		return "ringing"
	case CallRejected:
		return "rejected"
	case CallDialing:
		return "dialing"
	case CallForwarded:
		return "forwarded"
	case CallAnswered:
		return "answered"
	case CallBridged:
		return "bridged"
	case CallEnded:
		return "ended"
	case DeviceRegistered:
		return "registered"
	case DeviceUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Event is the interface implemented by all published events.
type Event interface {
	// Type returns the event type.
	Type() EventType
	// Subject returns the routing subject for the event.
	Subject() string
	// Timestamp returns when the event was built.
	Timestamp() time.Time
}

// CallEvent describes one lifecycle step of a call leg.
type CallEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	NodeID    string    `json:"node_id,omitempty"`

	CallID   uint32 `json:"call_id"`
	Line     string `json:"line,omitempty"`
	Device   string `json:"device,omitempty"`
	CallType string `json:"call_type,omitempty"`

	// ParentCallID links a forwarded leg to the call it redirects.
	ParentCallID uint32 `json:"parent_call_id,omitempty"`

	// Outcome carries the fan-out result for call.ringing, call.rejected
	// and call.ended
	// (ringing, busy, congestion, invalidnumber).
	Outcome string `json:"outcome,omitempty"`

	DialedNumber string `json:"dialed_number,omitempty"`

	// Durations populated on call.ended.
	RingDurationMS int64 `json:"ring_duration_ms,omitempty"`
	TalkDurationMS int64 `json:"talk_duration_ms,omitempty"`
}

func (e *CallEvent) Type() EventType { return e.EventType }

func (e *CallEvent) Subject() string {
	return fmt.Sprintf("%s.%d.%s", SubjectCalls, e.CallID, e.EventType.suffix())
}

func (e *CallEvent) Timestamp() time.Time { return e.EventTime }

// DeviceEvent describes a registration-state change of an endpoint.
type DeviceEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	NodeID    string    `json:"node_id,omitempty"`

	Device string `json:"device"`
	State  string `json:"state"`
}

func (e *DeviceEvent) Type() EventType { return e.EventType }

func (e *DeviceEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", SubjectDevices, e.Device, e.EventType.suffix())
}

func (e *DeviceEvent) Timestamp() time.Time { return e.EventTime }
