package events

import (
	"time"

	"github.com/google/uuid"
)

// Builder provides fluent construction of events with consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder tagged with the node identifier.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// CallEventBuilder constructs a CallEvent.
type CallEventBuilder struct {
	event *CallEvent
}

// Call starts building a call event of the given type.
func (b *Builder) Call(t EventType, callID uint32) *CallEventBuilder {
	return &CallEventBuilder{
		event: &CallEvent{
			EventID:   uuid.New().String(),
			EventType: t,
			EventTime: time.Now().UTC(),
			NodeID:    b.nodeID,
			CallID:    callID,
		},
	}
}

func (cb *CallEventBuilder) Line(name string) *CallEventBuilder {
	cb.event.Line = name
	return cb
}

func (cb *CallEventBuilder) Device(id string) *CallEventBuilder {
	cb.event.Device = id
	return cb
}

func (cb *CallEventBuilder) CallType(t string) *CallEventBuilder {
	cb.event.CallType = t
	return cb
}

func (cb *CallEventBuilder) Parent(callID uint32) *CallEventBuilder {
	cb.event.ParentCallID = callID
	return cb
}

func (cb *CallEventBuilder) Outcome(outcome string) *CallEventBuilder {
	cb.event.Outcome = outcome
	return cb
}

func (cb *CallEventBuilder) DialedNumber(number string) *CallEventBuilder {
	cb.event.DialedNumber = number
	return cb
}

func (cb *CallEventBuilder) Durations(ring, talk time.Duration) *CallEventBuilder {
	cb.event.RingDurationMS = ring.Milliseconds()
	cb.event.TalkDurationMS = talk.Milliseconds()
	return cb
}

func (cb *CallEventBuilder) Build() *CallEvent {
	return cb.event
}

// DeviceEventBuilder constructs a DeviceEvent.
type DeviceEventBuilder struct {
	event *DeviceEvent
}

// Device starts building a registration event.
func (b *Builder) Device(t EventType, deviceID, state string) *DeviceEventBuilder {
	return &DeviceEventBuilder{
		event: &DeviceEvent{
			EventID:   uuid.New().String(),
			EventType: t,
			EventTime: time.Now().UTC(),
			NodeID:    b.nodeID,
			Device:    deviceID,
			State:     state,
		},
	}
}

func (db *DeviceEventBuilder) Build() *DeviceEvent {
	return db.event
}
