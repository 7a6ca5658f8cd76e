package backend

import (
	"context"
	"log/slog"
)

// Loopback is a self-contained Adapter used when the daemon runs without a
// real routing backend. Every request succeeds and is logged; dials against
// an empty extension table fail the way a real backend would reject an
// unknown number.
type Loopback struct {
	// Extensions is the set of dialable extensions. Empty means any
	// extension is accepted.
	Extensions map[string]bool
}

// NewLoopback creates a loopback adapter accepting the given extensions.
func NewLoopback(extensions ...string) *Loopback {
	m := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		m[e] = true
	}
	return &Loopback{Extensions: m}
}

func (l *Loopback) Indicate(dev Device, ch Channel, ind Indication) {
	slog.Debug("[Loopback] indicate",
		"device", dev.ID(),
		"call", ch.CallID(),
		"indication", ind.String(),
	)
}

func (l *Loopback) StartDial(ctx context.Context, ch Channel, extension string) DialResult {
	if len(l.Extensions) > 0 && !l.Extensions[extension] {
		slog.Info("[Loopback] dial rejected, unknown extension",
			"call", ch.CallID(),
			"extension", extension,
		)
		return DialFailed
	}
	slog.Info("[Loopback] dial started",
		"call", ch.CallID(),
		"extension", extension,
	)
	return DialStarted
}

func (l *Loopback) AnswerBridge(ctx context.Context, child, parent Channel) error {
	slog.Info("[Loopback] bridge",
		"child", child.CallID(),
		"parent", parent.CallID(),
	)
	return nil
}

func (l *Loopback) QueueControl(ch Channel, sig ControlSignal) {
	slog.Debug("[Loopback] control",
		"call", ch.CallID(),
		"signal", sig.String(),
	)
}

func (l *Loopback) ReleaseMedia(ch Channel) {
	slog.Debug("[Loopback] media released", "call", ch.CallID())
}

func (l *Loopback) RequestFeature(ctx context.Context, ch Channel, f Feature, argument string) error {
	slog.Info("[Loopback] feature",
		"call", ch.CallID(),
		"feature", f.String(),
		"argument", argument,
	)
	return nil
}

var _ Adapter = (*Loopback)(nil)
