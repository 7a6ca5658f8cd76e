// Package config loads the daemon configuration and the endpoint
// provisioning file.
//
// All tunables used by the router and scheduler are collected into one
// immutable Call snapshot handed to the core at construction; nothing in the
// core consults ambient globals.
package config

import (
	"flag"
	"os"
	"time"
)

// Config holds the crossbar daemon configuration.
type Config struct {
	// ProvisioningPath points at the INI file describing lines, devices
	// and bindings.
	ProvisioningPath string

	LogLevel string
	// LogFile enables rotated file logging when non-empty.
	LogFile      string
	LogMaxSizeMB int

	// MetricsAddr is the listen address for the Prometheus endpoint.
	MetricsAddr string

	Call Call
}

// Call is the immutable tunable snapshot consumed by the router, the channel
// state machine and the scheduler.
type Call struct {
	// NodeID tags emitted events.
	NodeID string

	// AutoAnswerRingTime is the delay before an auto-answer timer fires.
	AutoAnswerRingTime time.Duration

	// DigitTimeout is the inter-digit timeout before dialing what was
	// collected.
	DigitTimeout time.Duration

	// DigitTimeoutChar terminates digit collection immediately
	// (enbloc "dial now").
	DigitTimeoutChar byte

	// RecordDigitTimeoutChar keeps the timeout character in the stored
	// dialed number (call history); the dialed extension is always
	// stripped.
	RecordDigitTimeoutChar bool

	// SuffixMarker is the leading digit that triggers caller-id suffix
	// shaping on inbound calls.
	SuffixMarker byte

	// TimerWorkers sizes the scheduler pool.
	TimerWorkers int
}

// DefaultCall returns the tunables used when the provisioning file does not
// override them.
func DefaultCall() Call {
	return Call{
		NodeID:                 "crossbar-0",
		AutoAnswerRingTime:     2 * time.Second,
		DigitTimeout:           4 * time.Second,
		DigitTimeoutChar:       '#',
		RecordDigitTimeoutChar: false,
		SuffixMarker:           '0',
		TimerWorkers:           4,
	}
}

// Load reads configuration from command line flags and environment
// variables.
func Load() *Config {
	cfg := &Config{
		Call:         DefaultCall(),
		LogMaxSizeMB: 50,
	}

	flag.StringVar(&cfg.ProvisioningPath, "provisioning", "crossbar.ini", "Path to provisioning INI file")
	flag.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "logfile", "", "Rotated log file (stdout only if empty)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", "0.0.0.0:9102", "Prometheus listen address")
	flag.Parse()

	if v := os.Getenv("PROVISIONING"); v != "" {
		cfg.ProvisioningPath = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("METRICS"); v != "" {
		cfg.MetricsAddr = v
	}

	return cfg
}
