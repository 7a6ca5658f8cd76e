package call

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sebas/crossbar/internal/core/entity"
	"github.com/sebas/crossbar/internal/logger"
)

// SubscriptionID is a shared-line appearance selector. A line subscribed on
// several devices can present a distinct number/name suffix per device, and
// inbound calls can target one specific appearance.
type SubscriptionID struct {
	Number string
	Name   string
}

// ForwardConfig is the call-forward-all setting of one line/device binding.
type ForwardConfig struct {
	Enabled bool
	Number  string
}

// LineDevice binds one Line to one Device. The binding retains both endpoints
// for its whole lifetime, so neither can be destroyed while the edge exists.
type LineDevice struct {
	entity.Ref

	ID           string
	Line         *Line
	Device       *Device
	Instance     int
	Subscription SubscriptionID
	// AutoAnswer makes every inbound ring on this binding behave as if the
	// caller requested auto-answer. Used for intercom-style appearances.
	AutoAnswer bool

	mu      sync.Mutex
	cfwdAll ForwardConfig
}

// newLineDevice wires a binding between a line and a device. Both sides must
// be retained by the caller; the binding takes over one reference to each.
func newLineDevice(l *Line, d *Device, instance int, sub SubscriptionID, autoAnswer bool) *LineDevice {
	ld := &LineDevice{
		ID:           uuid.New().String(),
		Line:         l,
		Device:       d,
		Instance:     instance,
		Subscription: sub,
		AutoAnswer:   autoAnswer,
	}
	ld.Init(func() {
		if _, err := l.Release(); err != nil {
			logger.Error("[Binding] line release failed", "binding", ld.ID, "error", err)
		}
		if _, err := d.Release(); err != nil {
			logger.Error("[Binding] device release failed", "binding", ld.ID, "error", err)
		}
	})
	return ld
}

// ForwardAll returns the current call-forward-all configuration.
func (ld *LineDevice) ForwardAll() ForwardConfig {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.cfwdAll
}

// SetForwardAll updates call-forward-all. Disabling clears the destination.
func (ld *LineDevice) SetForwardAll(enabled bool, number string) {
	ld.mu.Lock()
	if enabled {
		ld.cfwdAll = ForwardConfig{Enabled: true, Number: number}
	} else {
		ld.cfwdAll = ForwardConfig{}
	}
	ld.mu.Unlock()
	logger.Info("[Binding] forward-all updated",
		"line", ld.Line.Name, "device", ld.Device.ID(),
		"enabled", enabled, "number", number)
}

// matchSubscription reports whether a channel's requested subscription
// selects this binding. An empty selector on either side matches everything.
func matchSubscription(requested, bound string) bool {
	if requested == "" || bound == "" {
		return true
	}
	return requested == bound
}
