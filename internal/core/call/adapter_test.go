package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/config"
)

// fakeAdapter records every backend interaction for assertions.
type fakeAdapter struct {
	mu          sync.Mutex
	indications []string // "device/indication/callID"
	controls    []string // "callID/signal"
	dials       []string // "callID/extension"
	bridges     []string // "child/parent"
	released    []uint32
	features    []string // "feature/argument"

	dialResults map[string]backend.DialResult
	defaultDial backend.DialResult
	bridgeErr   error
	featureErr  error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		dialResults: make(map[string]backend.DialResult),
		defaultDial: backend.DialStarted,
	}
}

func (f *fakeAdapter) Indicate(dev backend.Device, ch backend.Channel, ind backend.Indication) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indications = append(f.indications,
		fmt.Sprintf("%s/%s/%d", dev.ID(), ind.String(), ch.CallID()))
}

func (f *fakeAdapter) StartDial(ctx context.Context, ch backend.Channel, extension string) backend.DialResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, fmt.Sprintf("%d/%s", ch.CallID(), extension))
	if res, ok := f.dialResults[extension]; ok {
		return res
	}
	return f.defaultDial
}

func (f *fakeAdapter) AnswerBridge(ctx context.Context, child, parent backend.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bridgeErr != nil {
		return f.bridgeErr
	}
	f.bridges = append(f.bridges, fmt.Sprintf("%d/%d", child.CallID(), parent.CallID()))
	return nil
}

func (f *fakeAdapter) QueueControl(ch backend.Channel, sig backend.ControlSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, fmt.Sprintf("%d/%s", ch.CallID(), sig.String()))
}

func (f *fakeAdapter) ReleaseMedia(ch backend.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ch.CallID())
}

func (f *fakeAdapter) RequestFeature(ctx context.Context, ch backend.Channel, feat backend.Feature, argument string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.featureErr != nil {
		return f.featureErr
	}
	f.features = append(f.features, fmt.Sprintf("%s/%s", feat.String(), argument))
	return nil
}

var _ backend.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) indicationsTo(deviceID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	prefix := deviceID + "/"
	for _, s := range f.indications {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeAdapter) hasIndication(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.indications {
		if s == entry {
			return true
		}
	}
	return false
}

func (f *fakeAdapter) lastControl() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.controls) == 0 {
		return ""
	}
	return f.controls[len(f.controls)-1]
}

func (f *fakeAdapter) dialFor(extension string) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.dials {
		var id uint32
		var ext string
		if _, err := fmt.Sscanf(s, "%d/%s", &id, &ext); err == nil && ext == extension {
			return id, true
		}
	}
	return 0, false
}

func (f *fakeAdapter) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

func (f *fakeAdapter) releasedCalls() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.released...)
}

// testProvisioning is three devices sharing line 100, plus a spare line 200
// on devB for busy scenarios.
func testProvisioning(cfg config.Call) *config.Provisioning {
	return &config.Provisioning{
		Call: cfg,
		Lines: []config.LineDef{
			{Name: "100", CIDName: "Support", CIDNum: "100", IncomingLimit: 4},
			{Name: "200", CIDNum: "200", IncomingLimit: 4},
		},
		Devices: []config.DeviceDef{
			{ID: "devA", Bindings: []config.BindingDef{{Line: "100"}}},
			{ID: "devB", Bindings: []config.BindingDef{{Line: "100"}, {Line: "200"}}},
			{ID: "devC", Bindings: []config.BindingDef{{Line: "100"}}},
		},
	}
}
