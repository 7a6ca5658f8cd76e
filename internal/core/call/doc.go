// Package call implements the call lifecycle orchestrator: the shared
// line/device/channel object graph, the inbound fan-out router, the channel
// state machine, and the softswitch dispatch that turns collected digits into
// backend requests.
//
// All shared objects are reference-counted through internal/core/entity.
// Every Line owns two independent list locks (devices, channels); a list lock
// is always released before any backend call that can block or re-enter.
// Asynchronous re-entries (timer fires, backend callbacks) resolve entities
// by identifier through the registries instead of trusting captured pointers.
package call
