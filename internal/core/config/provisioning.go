package config

import (
	"fmt"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

// LineDef describes one directory number from the provisioning file.
type LineDef struct {
	Name          string
	CIDName       string
	CIDNum        string
	IncomingLimit int
	SubNumber     string // default subscription id number
	SubName       string // default subscription id name
	MeetmeNum     string
}

// BindingDef describes one line appearance on a device.
type BindingDef struct {
	Line       string
	SubNumber  string
	SubName    string
	CfwdAll    string // forward-all destination, empty when disabled
	AutoAnswer bool
}

// DeviceDef describes one endpoint from the provisioning file.
type DeviceDef struct {
	ID          string
	DND         string // "off", "reject", "silent"
	Privacy     bool
	Monitor     bool
	OverlapDial bool
	Bindings    []BindingDef
}

// Provisioning is the parsed provisioning file.
type Provisioning struct {
	Call    Call
	Lines   []LineDef
	Devices []DeviceDef
}

// LoadProvisioning reads the INI provisioning file.
//
// Layout:
//
//	[general]
//	node_id = crossbar-0
//	digit_timeout = 4
//	digit_timeout_char = #
//	record_digit_timeout_char = false
//	autoanswer_ring_time = 2
//
//	[line:100]
//	cid_name = Support
//	cid_num = 100
//	incoming_limit = 2
//
//	[device:SEP001122334455]
//	lines = 100:22, 101
//	dnd = reject
//	cfwdall_101 = 2000
func LoadProvisioning(path string, defaults Call) (*Provisioning, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load provisioning %s: %w", path, err)
	}
	return parseProvisioning(f, defaults)
}

func parseProvisioning(f *ini.File, defaults Call) (*Provisioning, error) {
	p := &Provisioning{Call: defaults}

	gen := f.Section("general")
	if v := gen.Key("node_id").String(); v != "" {
		p.Call.NodeID = v
	}
	if v := gen.Key("autoanswer_ring_time").MustInt(0); v > 0 {
		p.Call.AutoAnswerRingTime = time.Duration(v) * time.Second
	}
	if v := gen.Key("digit_timeout").MustInt(0); v > 0 {
		p.Call.DigitTimeout = time.Duration(v) * time.Second
	}
	if v := gen.Key("digit_timeout_char").String(); v != "" {
		p.Call.DigitTimeoutChar = v[0]
	}
	p.Call.RecordDigitTimeoutChar = gen.Key("record_digit_timeout_char").MustBool(p.Call.RecordDigitTimeoutChar)
	if v := gen.Key("timer_workers").MustInt(0); v > 0 {
		p.Call.TimerWorkers = v
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		switch {
		case strings.HasPrefix(name, "line:"):
			line, err := parseLine(strings.TrimPrefix(name, "line:"), sec)
			if err != nil {
				return nil, err
			}
			p.Lines = append(p.Lines, line)
		case strings.HasPrefix(name, "device:"):
			dev, err := parseDevice(strings.TrimPrefix(name, "device:"), sec)
			if err != nil {
				return nil, err
			}
			p.Devices = append(p.Devices, dev)
		}
	}

	known := make(map[string]bool, len(p.Lines))
	for _, l := range p.Lines {
		known[l.Name] = true
	}
	for _, d := range p.Devices {
		for _, b := range d.Bindings {
			if !known[b.Line] {
				return nil, fmt.Errorf("device %s binds unknown line %q", d.ID, b.Line)
			}
		}
	}

	return p, nil
}

func parseLine(name string, sec *ini.Section) (LineDef, error) {
	if name == "" {
		return LineDef{}, fmt.Errorf("line section with empty name")
	}
	return LineDef{
		Name:          name,
		CIDName:       sec.Key("cid_name").String(),
		CIDNum:        sec.Key("cid_num").MustString(name),
		IncomingLimit: sec.Key("incoming_limit").MustInt(2),
		SubNumber:     sec.Key("default_subscription").String(),
		SubName:       sec.Key("default_subscription_name").String(),
		MeetmeNum:     sec.Key("meetme_num").String(),
	}, nil
}

func parseDevice(id string, sec *ini.Section) (DeviceDef, error) {
	if id == "" {
		return DeviceDef{}, fmt.Errorf("device section with empty name")
	}
	dev := DeviceDef{
		ID:          id,
		DND:         sec.Key("dnd").MustString("off"),
		Privacy:     sec.Key("privacy").MustBool(false),
		Monitor:     sec.Key("monitor").MustBool(false),
		OverlapDial: sec.Key("overlap_dial").MustBool(false),
	}
	switch dev.DND {
	case "off", "reject", "silent":
	default:
		return DeviceDef{}, fmt.Errorf("device %s: unknown dnd mode %q", id, dev.DND)
	}

	for _, entry := range sec.Key("lines").Strings(",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		b := BindingDef{Line: entry}
		if i := strings.IndexByte(entry, ':'); i >= 0 {
			b.Line = entry[:i]
			b.SubNumber = entry[i+1:]
		}
		b.CfwdAll = sec.Key("cfwdall_" + b.Line).String()
		b.AutoAnswer = sec.Key("autoanswer_" + b.Line).MustBool(false)
		dev.Bindings = append(dev.Bindings, b)
	}
	if len(dev.Bindings) == 0 {
		return DeviceDef{}, fmt.Errorf("device %s has no lines", id)
	}
	return dev, nil
}
